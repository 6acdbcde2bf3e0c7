package callgraph

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bricklead/jvmgraph/internal/analyzer"
	"github.com/bricklead/jvmgraph/internal/classfile"
	"github.com/bricklead/jvmgraph/internal/classfile/classtest"
	"github.com/bricklead/jvmgraph/internal/config"
	"github.com/bricklead/jvmgraph/internal/facts"
	"github.com/bricklead/jvmgraph/internal/store"
)

func newClient(t *testing.T) *analyzer.Client {
	t.Helper()
	srv := httptest.NewServer(analyzer.New().Handler())
	t.Cleanup(srv.Close)
	return analyzer.NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func seedSymbols(t *testing.T, s *store.Store, symbols ...*store.Symbol) {
	t.Helper()
	if _, err := s.UpsertSymbolBatch(symbols); err != nil {
		t.Fatal(err)
	}
}

func TestAnalyzePackage(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), nil, 0)

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"),
		classtest.New("com/ex/A").
			Method(classfile.AccPublic, "f", "()V").
			Line(5).
			Invoke(classfile.OpInvokeVirtual, "com/ex/B", "g", "()V").
			Done().
			Bytes())

	seedSymbols(t, s,
		&store.Symbol{FQN: "com.ex.B.g()", URI: "u", Package: "libpkg", Line: 3},
	)

	res, err := b.AnalyzePackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir})
	if err != nil {
		t.Fatalf("AnalyzePackage: %v", err)
	}
	if res.Classes != 1 || res.Nodes != 2 || res.Failures != 0 {
		t.Fatalf("result = %+v", res)
	}

	classNode, err := s.FindNode("com.ex.A")
	if err != nil {
		t.Fatal(err)
	}
	if classNode == nil || classNode.Package != "p1" || classNode.Type != facts.NodeClass {
		t.Errorf("class node = %+v", classNode)
	}
	methodNode, err := s.FindNode("com.ex.A.f()")
	if err != nil {
		t.Fatal(err)
	}
	if methodNode == nil || methodNode.Line != 5 {
		t.Errorf("method node = %+v", methodNode)
	}

	edges, err := s.FindEdgesByFrom("com.ex.A.f()")
	if err != nil {
		t.Fatal(err)
	}
	var call *store.Edge
	for _, e := range edges {
		if e.EdgeType == facts.EdgeCall {
			call = e
		}
	}
	if call == nil {
		t.Fatalf("no call edge in %+v", edges)
	}
	if call.ToFQN != "com.ex.B.g()" || call.ToPackage != "libpkg" || call.FromPackage != "p1" || call.FromLine != 5 {
		t.Errorf("call edge = %+v", call)
	}
}

func TestAnalyzeUnresolvedTarget(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), nil, 0)

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"),
		classtest.New("com/ex/A").
			Method(classfile.AccPublic, "f", "()V").
			Invoke(classfile.OpInvokeStatic, "com/lib/Util", "run", "()V").
			Done().
			Bytes())

	if _, err := b.AnalyzePackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir}); err != nil {
		t.Fatal(err)
	}

	edges, err := s.FindEdgesByFrom("com.ex.A.f()")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range edges {
		if e.EdgeType == facts.EdgeCall && e.ToPackage != UnknownPackage {
			t.Errorf("unresolved target got package %q", e.ToPackage)
		}
	}
}

func TestAnalyzeMemberOfEdges(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), nil, 0)

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"),
		classtest.New("com/ex/A").
			Field(classfile.AccPrivate, "repo", "Lcom/ex/Repo;").
			Method(classfile.AccPublic, "m", "(Lcom/ex/P;)Lcom/ex/R;").
			Done().
			Bytes())

	if _, err := b.AnalyzePackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir}); err != nil {
		t.Fatal(err)
	}

	edges, err := s.FindEdgesByFromPackage("p1")
	if err != nil {
		t.Fatal(err)
	}
	kinds := make(map[string]int)
	for _, e := range edges {
		kinds[e.EdgeType+"/"+e.Kind]++
		if e.FromPackage != "p1" {
			t.Errorf("from_package = %q on %+v", e.FromPackage, e)
		}
	}
	want := map[string]int{
		"member_of/class":    1,
		"member_of/method":   1,
		"member_of/return":   1,
		"member_of/argument": 1,
	}
	for k, n := range want {
		if kinds[k] != n {
			t.Errorf("%s = %d, want %d (all: %v)", k, kinds[k], n, kinds)
		}
	}
}

func TestAnalyzeDomainFilter(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), []string{"com.ex."}, 0)

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"), classtest.New("com/ex/A").Bytes())
	writeFile(t, filepath.Join(classesDir, "org/other/B.class"), classtest.New("org/other/B").Bytes())

	res, err := b.AnalyzePackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Classes != 1 {
		t.Errorf("classes = %d, want 1", res.Classes)
	}
	if n, _ := s.FindNode("org.other.B"); n != nil {
		t.Errorf("filtered class persisted: %+v", n)
	}
}

func TestAnalyzeLimit(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), nil, 1)

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"), classtest.New("com/ex/A").Bytes())
	writeFile(t, filepath.Join(classesDir, "com/ex/B.class"), classtest.New("com/ex/B").Bytes())

	res, err := b.AnalyzePackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Classes != 1 {
		t.Errorf("classes = %d, want 1", res.Classes)
	}
}

func TestAnalyzeCountsFailures(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), nil, 0)

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"), classtest.New("com/ex/A").Bytes())
	writeFile(t, filepath.Join(classesDir, "com/ex/Bad.class"), []byte{9, 9})

	res, err := b.AnalyzePackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failures != 1 || res.Classes != 1 {
		t.Errorf("result = %+v", res)
	}
}
