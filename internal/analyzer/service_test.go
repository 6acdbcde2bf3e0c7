package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bricklead/jvmgraph/internal/classfile"
	"github.com/bricklead/jvmgraph/internal/classfile/classtest"
)

func writeClass(t *testing.T, dir, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	health := decodeBody[HealthResponse](t, resp)
	if health.Status != "ok" || health.Service != "jvmgraph-analyzer" {
		t.Errorf("health = %+v", health)
	}
}

func TestIndexSingle(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	dir := t.TempDir()
	path := writeClass(t, dir, "com/ex/db/Order.class",
		classtest.New("com/ex/db/Order").
			Method(classfile.AccPublic, "total", "()I").
			Line(20).
			Done().
			Bytes())

	resp := postJSON(t, srv, "/index", IndexRequest{ClassFile: path})
	result := decodeBody[IndexResult](t, resp)
	if !result.Success || result.ClassFQN != "com.ex.db.Order" {
		t.Fatalf("result = %+v", result)
	}
	if !result.IsEntity {
		t.Error("db-package class should be flagged as entity")
	}
	if len(result.Symbols) != 2 || result.Symbols[1].FQN != "com.ex.db.Order.total()" || result.Symbols[1].Line != 20 {
		t.Errorf("symbols = %+v", result.Symbols)
	}
}

func TestIndexEnumSkipped(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	path := writeClass(t, t.TempDir(), "com/ex/Color.class",
		classtest.New("com/ex/Color").
			Access(classfile.AccPublic|classfile.AccEnum).
			Super("java/lang/Enum").
			Bytes())

	resp := postJSON(t, srv, "/index", IndexRequest{ClassFile: path})
	result := decodeBody[IndexResult](t, resp)
	if !result.Success || !result.Skipped || result.Reason != "enum" {
		t.Errorf("result = %+v", result)
	}
	if len(result.Symbols) != 0 {
		t.Errorf("enum symbols = %+v", result.Symbols)
	}
}

func TestIndexBatchPartialFailure(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	dir := t.TempDir()
	good := writeClass(t, dir, "com/ex/A.class", classtest.New("com/ex/A").Bytes())
	bad := writeClass(t, dir, "com/ex/Bad.class", []byte{0x00, 0x01})

	resp := postJSON(t, srv, "/index/batch", IndexRequest{ClassFiles: []string{good, bad}})
	batch := decodeBody[IndexBatchResponse](t, resp)
	if !batch.Success || len(batch.Results) != 2 {
		t.Fatalf("batch = %+v", batch)
	}
	if !batch.Results[0].Success || batch.Results[0].ClassFQN != "com.ex.A" {
		t.Errorf("good result = %+v", batch.Results[0])
	}
	if batch.Results[1].Success || batch.Results[1].Error == "" {
		t.Errorf("bad result = %+v", batch.Results[1])
	}
}

func TestAnalyzeClassFiles(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	path := writeClass(t, t.TempDir(), "com/ex/A.class",
		classtest.New("com/ex/A").
			Super("com/ex/Base").
			Method(classfile.AccPublic, "f", "()V").
			Line(7).
			Invoke(classfile.OpInvokeSpecial, "com/ex/B", "<init>", "()V").
			Done().
			Bytes())

	resp := postJSON(t, srv, "/analyze", AnalyzeRequest{ClassFiles: []string{path}})
	out := decodeBody[AnalyzeResponse](t, resp)
	if !out.Success || len(out.Classes) != 1 {
		t.Fatalf("response = %+v", out)
	}
	rec := out.Classes[0]
	if rec.FQN != "com.ex.A" || rec.NodeType != "class" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Inheritance) != 1 || rec.Inheritance[0].FQN != "com.ex.Base" {
		t.Errorf("inheritance = %+v", rec.Inheritance)
	}
	if len(rec.Methods) != 1 || rec.Methods[0].FQN != "com.ex.A.f()" || rec.Methods[0].LineNumber != 7 {
		t.Fatalf("methods = %+v", rec.Methods)
	}
	calls := rec.Methods[0].Calls
	if len(calls) != 1 || calls[0].ToFQN != "com.ex.B.<init>()" || calls[0].Kind != "new" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestAnalyzeDomainsFilter(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	dir := t.TempDir()
	writeClass(t, dir, "com/ex/A.class", classtest.New("com/ex/A").Bytes())
	writeClass(t, dir, "org/other/B.class", classtest.New("org/other/B").Bytes())

	resp := postJSON(t, srv, "/analyze", AnalyzeRequest{ClassDirs: []string{dir}, Domains: []string{"com.ex."}})
	out := decodeBody[AnalyzeResponse](t, resp)
	if len(out.Classes) != 1 || out.Classes[0].FQN != "com.ex.A" {
		t.Errorf("classes = %+v", out.Classes)
	}
}

func TestAnalyzeEnumsFully(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	path := writeClass(t, t.TempDir(), "com/ex/Color.class",
		classtest.New("com/ex/Color").
			Access(classfile.AccPublic|classfile.AccEnum).
			Super("java/lang/Enum").
			Method(classfile.AccPublic, "hex", "()I").
			Done().
			Bytes())

	resp := postJSON(t, srv, "/analyze", AnalyzeRequest{ClassFiles: []string{path}})
	out := decodeBody[AnalyzeResponse](t, resp)
	if len(out.Classes) != 1 || out.Classes[0].NodeType != "enum" || len(out.Classes[0].Methods) != 1 {
		t.Errorf("classes = %+v", out.Classes)
	}
}

func TestAnalyzePackageRoots(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	root := t.TempDir()
	writeClass(t, filepath.Join(root, "classes"), "com/ex/A.class", classtest.New("com/ex/A").Bytes())

	resp := postJSON(t, srv, "/analyze", AnalyzeRequest{PackageRoots: []string{root}})
	out := decodeBody[AnalyzeResponse](t, resp)
	if len(out.Classes) != 1 || out.Classes[0].FQN != "com.ex.A" {
		t.Errorf("classes = %+v", out.Classes)
	}
}

func TestAnalyzeLimit(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	dir := t.TempDir()
	writeClass(t, dir, "com/ex/A.class", classtest.New("com/ex/A").Bytes())
	writeClass(t, dir, "com/ex/B.class", classtest.New("com/ex/B").Bytes())

	resp := postJSON(t, srv, "/analyze", AnalyzeRequest{ClassDirs: []string{dir}, Limit: 1})
	out := decodeBody[AnalyzeResponse](t, resp)
	if len(out.Classes) != 1 {
		t.Errorf("classes = %+v, want one (limit)", out.Classes)
	}
}

func TestAnalyzeReportsFailures(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	bad := writeClass(t, t.TempDir(), "Bad.class", []byte("not a class"))
	resp := postJSON(t, srv, "/analyze", AnalyzeRequest{ClassFiles: []string{bad}})
	out := decodeBody[AnalyzeResponse](t, resp)
	if !out.Success || len(out.Failures) != 1 || len(out.Classes) != 0 {
		t.Errorf("response = %+v", out)
	}
}

func TestMalformedJSONRejected(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/analyze", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	client := NewClient(strings.TrimPrefix(srv.URL, "http://"))
	ctx := context.Background()

	if _, err := client.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	path := writeClass(t, t.TempDir(), "com/ex/A.class", classtest.New("com/ex/A").Bytes())
	results, err := client.IndexBatch(ctx, []string{path})
	if err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}
	if len(results) != 1 || results[0].ClassFQN != "com.ex.A" {
		t.Errorf("results = %+v", results)
	}

	out, err := client.Analyze(ctx, &AnalyzeRequest{ClassFiles: []string{path}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out.Classes) != 1 {
		t.Errorf("classes = %+v", out.Classes)
	}
}

func TestClientUnavailable(t *testing.T) {
	client := NewClient("127.0.0.1:1")
	client.retryBackoff = 0

	_, err := client.Health(context.Background())
	if !errors.Is(err, ErrAnalyzerUnavailable) {
		t.Errorf("err = %v, want ErrAnalyzerUnavailable", err)
	}
}

func TestShutdownEndpoint(t *testing.T) {
	svc := New()
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/shutdown", struct{}{})
	out := decodeBody[ShutdownResponse](t, resp)
	if out.Status != "shutting down" {
		t.Errorf("status = %q", out.Status)
	}
}

func TestAnalyzeDirListingRefresh(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	dir := t.TempDir()
	writeClass(t, dir, "A.class", classtest.New("com/ex/A").Bytes())

	resp := postJSON(t, srv, "/analyze", AnalyzeRequest{ClassDirs: []string{dir}})
	out := decodeBody[AnalyzeResponse](t, resp)
	if len(out.Classes) != 1 {
		t.Fatalf("classes = %d, want 1", len(out.Classes))
	}

	// Re-unpack: a new class lands in the root and its mtime moves.
	writeClass(t, dir, "B.class", classtest.New("com/ex/B").Bytes())
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(dir, future, future); err != nil {
		t.Fatal(err)
	}

	resp = postJSON(t, srv, "/analyze", AnalyzeRequest{ClassDirs: []string{dir}})
	out = decodeBody[AnalyzeResponse](t, resp)
	if len(out.Classes) != 2 {
		t.Errorf("classes after re-unpack = %d, want 2", len(out.Classes))
	}
}
