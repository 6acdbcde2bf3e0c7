package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrAnalyzerUnavailable is returned when the analysis service does not
// respond within the request deadline after retrying.
var ErrAnalyzerUnavailable = errors.New("analysis service unavailable")

// Client talks to a running analysis service over loopback HTTP. Request
// deadlines scale with batch size; timed-out batches are retried once at
// half size before the caller sees ErrAnalyzerUnavailable.
type Client struct {
	baseURL string
	hc      *http.Client

	baseTimeout    time.Duration
	perFileTimeout time.Duration
	retryBackoff   time.Duration
}

// NewClient returns a client for a service at host:port.
func NewClient(addr string) *Client {
	return &Client{
		baseURL:        "http://" + addr,
		hc:             &http.Client{},
		baseTimeout:    10 * time.Second,
		perFileTimeout: 50 * time.Millisecond,
		retryBackoff:   500 * time.Millisecond,
	}
}

// Health probes the service.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/health", &out, c.baseTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// IndexBatch submits class files for symbol extraction. On timeout the batch
// is split in half and each half retried once.
func (c *Client) IndexBatch(ctx context.Context, files []string) ([]IndexResult, error) {
	results, err := c.indexOnce(ctx, files)
	if err == nil {
		return results, nil
	}
	if !errors.Is(err, ErrAnalyzerUnavailable) || len(files) < 2 {
		return nil, err
	}

	slog.Warn("index.batch.retry", "files", len(files), "err", err)
	time.Sleep(c.retryBackoff)
	mid := len(files) / 2
	first, err := c.indexOnce(ctx, files[:mid])
	if err != nil {
		return nil, err
	}
	second, err := c.indexOnce(ctx, files[mid:])
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

func (c *Client) indexOnce(ctx context.Context, files []string) ([]IndexResult, error) {
	var out IndexBatchResponse
	timeout := c.baseTimeout + time.Duration(len(files))*c.perFileTimeout
	if err := c.post(ctx, "/index/batch", IndexRequest{ClassFiles: files}, &out, timeout); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Analyze submits an analyze request. Explicit file lists are retried at
// half size on timeout; directory forms are retried once unchanged after a
// backoff.
func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	resp, err := c.analyzeOnce(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, ErrAnalyzerUnavailable) {
		return nil, err
	}

	slog.Warn("analyze.retry", "err", err)
	time.Sleep(c.retryBackoff)
	if n := len(req.ClassFiles); n >= 2 {
		mid := n / 2
		first, err := c.analyzeOnce(ctx, &AnalyzeRequest{ClassFiles: req.ClassFiles[:mid], Domains: req.Domains})
		if err != nil {
			return nil, err
		}
		second, err := c.analyzeOnce(ctx, &AnalyzeRequest{ClassFiles: req.ClassFiles[mid:], Domains: req.Domains})
		if err != nil {
			return nil, err
		}
		first.Classes = append(first.Classes, second.Classes...)
		first.Failures = append(first.Failures, second.Failures...)
		return first, nil
	}
	return c.analyzeOnce(ctx, req)
}

func (c *Client) analyzeOnce(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	timeout := c.baseTimeout + time.Duration(len(req.ClassFiles))*c.perFileTimeout
	if len(req.ClassFiles) == 0 {
		// Directory forms: size unknown up front, allow a full package.
		timeout = 4 * c.baseTimeout
	}
	var out AnalyzeResponse
	if err := c.post(ctx, "/analyze", req, &out, timeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// Shutdown asks the service to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	var out ShutdownResponse
	return c.post(ctx, "/shutdown", struct{}{}, &out, c.baseTimeout)
}

func (c *Client) get(ctx context.Context, path string, out any, timeout time.Duration) error {
	return c.do(ctx, http.MethodGet, path, nil, out, timeout)
}

func (c *Client) post(ctx context.Context, path string, body, out any, timeout time.Duration) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out, timeout)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			return fmt.Errorf("analyzer %s: %s", resp.Status, envelope.Error)
		}
		return fmt.Errorf("analyzer %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
