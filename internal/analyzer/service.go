// Package analyzer hosts the bytecode analysis service and its HTTP client.
// The service is stateless across requests apart from an LRU over directory
// walks; each request decodes its class files with a bounded worker pool and
// returns grouped fact records.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/bricklead/jvmgraph/internal/classfile"
	"github.com/bricklead/jvmgraph/internal/discover"
	"github.com/bricklead/jvmgraph/internal/facts"
)

// Version is reported by /health.
const Version = "1.0.0"

const dirCacheSize = 16

// Service is the analysis worker.
type Service struct {
	quit     chan struct{}
	quitOnce sync.Once

	// dirs caches directory walks keyed by the canonical sorted tuple of
	// requested roots.
	dirs *lru.Cache[uint64, []dirListing]
}

type dirListing struct {
	dir   string
	mod   time.Time
	files []discover.FileInfo
}

// New returns a ready service.
func New() *Service {
	cache, _ := lru.New[uint64, []dirListing](dirCacheSize)
	return &Service{
		quit: make(chan struct{}),
		dirs: cache,
	}
}

// Handler returns the service's HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /index", s.handleIndex)
	mux.HandleFunc("POST /index/batch", s.handleIndexBatch)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Serve runs the service on a loopback address until the context is
// cancelled or a shutdown request arrives.
func (s *Service) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() {
		slog.Info("analyzer.listen", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	case <-s.quit:
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "jvmgraph-analyzer", Version: Version})
}

func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	switch {
	case req.ClassFile != "":
		writeJSON(w, http.StatusOK, indexOne(req.ClassFile))
	case len(req.ClassFiles) > 0:
		writeJSON(w, http.StatusOK, IndexBatchResponse{Success: true, Results: s.indexFiles(r.Context(), req.ClassFiles)})
	default:
		writeError(w, http.StatusBadRequest, errors.New("classFile or classFiles required"))
	}
}

func (s *Service) handleIndexBatch(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.ClassFiles) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("classFiles required"))
		return
	}
	start := time.Now()
	results := s.indexFiles(r.Context(), req.ClassFiles)
	slog.Info("index.batch", "files", len(req.ClassFiles), "elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, IndexBatchResponse{Success: true, Results: results})
}

// indexFiles decodes a batch in parallel; per-file failures land in the
// result slice, never abort the batch.
func (s *Service) indexFiles(ctx context.Context, files []string) []IndexResult {
	results := make([]IndexResult, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, file := range files {
		g.Go(func() error {
			results[i] = indexOne(file)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func indexOne(path string) IndexResult {
	view, err := decodeFile(path)
	if err != nil {
		return IndexResult{Success: false, ClassFile: path, Error: err.Error()}
	}
	if view.IsEnum() {
		return IndexResult{Success: true, ClassFile: path, ClassFQN: view.FQN, Skipped: true, Reason: "enum"}
	}
	return IndexResult{
		Success:   true,
		ClassFile: path,
		ClassFQN:  view.FQN,
		IsEntity:  facts.IsEntity(view),
		Symbols:   facts.Symbols(view),
	}
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	files, err := s.selectFiles(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if files == nil {
		writeError(w, http.StatusBadRequest, errors.New("packageRoots, classDirs, or classFiles required"))
		return
	}

	start := time.Now()
	resp := s.analyzeFiles(r.Context(), files, req.Domains)
	slog.Info("analyze.request", "files", len(files), "classes", len(resp.Classes), "failures", len(resp.Failures), "elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

// selectFiles resolves the request's input form to a concrete file list.
// A nil return with nil error means no form was supplied.
func (s *Service) selectFiles(ctx context.Context, req *AnalyzeRequest) ([]string, error) {
	switch {
	case len(req.ClassFiles) > 0:
		return req.ClassFiles, nil
	case len(req.ClassDirs) > 0:
		return s.filesUnder(ctx, req.ClassDirs, req.Limit)
	case len(req.PackageRoots) > 0:
		dirs := make([]string, 0, len(req.PackageRoots))
		for _, root := range req.PackageRoots {
			classesDir, _, err := discover.PackageRoot(root)
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, classesDir)
		}
		return s.filesUnder(ctx, dirs, req.Limit)
	}
	return nil, nil
}

func (s *Service) filesUnder(ctx context.Context, dirs []string, limit int) ([]string, error) {
	listings, err := s.getOrBuild(ctx, dirs)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range listings {
		files := l.files
		if limit > 0 && len(files) > limit {
			files = files[:limit]
		}
		for _, f := range files {
			out = append(out, f.Path)
		}
	}
	return out, nil
}

// getOrBuild returns cached walk results for a set of roots, walking on miss
// or when any root's mtime moved since the cached walk.
func (s *Service) getOrBuild(ctx context.Context, dirs []string) ([]dirListing, error) {
	sorted := append([]string(nil), dirs...)
	sort.Strings(sorted)
	key := xxh3.HashString(strings.Join(sorted, "\x00"))

	if cached, ok := s.dirs.Get(key); ok && listingsFresh(cached) {
		return cached, nil
	}
	listings := make([]dirListing, 0, len(sorted))
	for _, dir := range sorted {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		files, err := discover.ClassFiles(ctx, dir)
		if err != nil {
			return nil, err
		}
		listings = append(listings, dirListing{dir: dir, mod: info.ModTime(), files: files})
	}
	s.dirs.Add(key, listings)
	return listings, nil
}

// listingsFresh reports whether every cached root still carries the mtime
// recorded at walk time. Changes deeper in the tree that leave the root
// directory untouched are not detected.
func listingsFresh(listings []dirListing) bool {
	for _, l := range listings {
		info, err := os.Stat(l.dir)
		if err != nil || !info.ModTime().Equal(l.mod) {
			return false
		}
	}
	return true
}

func (s *Service) analyzeFiles(ctx context.Context, files []string, domains []string) *AnalyzeResponse {
	type outcome struct {
		rec *facts.ClassRecord
		err error
	}
	outcomes := make([]outcome, len(files))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, file := range files {
		g.Go(func() error {
			view, err := decodeFile(file)
			if err != nil {
				outcomes[i] = outcome{err: err}
				return nil
			}
			if !matchesDomains(view.FQN, domains) {
				return nil
			}
			outcomes[i] = outcome{rec: facts.FromView(view)}
			return nil
		})
	}
	_ = g.Wait()

	resp := &AnalyzeResponse{Success: true}
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			resp.Failures = append(resp.Failures, FileFailure{File: files[i], Error: o.err.Error()})
		case o.rec != nil:
			resp.Classes = append(resp.Classes, *o.rec)
		}
	}
	return resp
}

func (s *Service) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ShutdownResponse{Status: "shutting down"})
	go func() {
		time.Sleep(200 * time.Millisecond)
		s.quitOnce.Do(func() { close(s.quit) })
	}()
}

// matchesDomains reports whether an FQN passes the prefix filter. An empty
// filter admits everything.
func matchesDomains(fqn string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	for _, d := range domains {
		if strings.HasPrefix(fqn, d) {
			return true
		}
	}
	return false
}

func decodeFile(path string) (*classfile.ClassView, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	view, err := classfile.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return view, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response.encode", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: err.Error()})
}
