package index

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
	"github.com/bricklead/jvmgraph/internal/discover"
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

func TestIndexPackage(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), "")

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"),
		classtest.New("com/ex/A").
			Method(classfile.AccPublic, "f", "()V").
			Line(10).
			Done().
			Bytes())

	spec := config.PackageSpec{Name: "p1", ClassesDir: classesDir}
	res, err := b.IndexPackage(context.Background(), spec)
	if err != nil {
		t.Fatalf("IndexPackage: %v", err)
	}
	if res.Skipped || res.Symbols != 2 || res.Failures != 0 {
		t.Fatalf("result = %+v", res)
	}

	classSym, err := s.FindSymbol("com.ex.A")
	if err != nil {
		t.Fatal(err)
	}
	if classSym == nil || classSym.Package != "p1" || classSym.Line != -1 {
		t.Fatalf("class symbol = %+v", classSym)
	}
	if !strings.HasPrefix(classSym.URI, "file:///") || !strings.HasSuffix(classSym.URI, "com/ex/A.class") {
		t.Errorf("class uri = %q", classSym.URI)
	}
	if classSym.IsEntity == nil || *classSym.IsEntity {
		t.Errorf("class is_entity = %v", classSym.IsEntity)
	}

	methodSym, err := s.FindSymbol("com.ex.A.f()")
	if err != nil {
		t.Fatal(err)
	}
	if methodSym == nil || methodSym.Line != 10 || !strings.HasSuffix(methodSym.URI, ":10") {
		t.Fatalf("method symbol = %+v", methodSym)
	}
	if methodSym.IsEntity != nil {
		t.Errorf("method is_entity = %v", methodSym.IsEntity)
	}

	if hash, ok, _ := s.ContentHash("p1"); !ok || hash == "" {
		t.Error("metadata missing after index")
	}
}

func TestIndexSkipsUnchanged(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), "")

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"), classtest.New("com/ex/A").Bytes())
	spec := config.PackageSpec{Name: "p1", ClassesDir: classesDir}

	if _, err := b.IndexPackage(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	res, err := b.IndexPackage(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("unchanged package not skipped: %+v", res)
	}
}

func TestIndexRebuildOnChange(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), "")

	classesDir := t.TempDir()
	path := filepath.Join(classesDir, "com/ex/A.class")
	writeFile(t, path, classtest.New("com/ex/A").Bytes())
	spec := config.PackageSpec{Name: "p1", ClassesDir: classesDir}

	if _, err := b.IndexPackage(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	firstHash, _, _ := s.ContentHash("p1")

	writeFile(t, path, classtest.New("com/ex/A").Method(classfile.AccPublic, "g", "()V").Done().Bytes())
	res, err := b.IndexPackage(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.Symbols != 2 {
		t.Errorf("result = %+v", res)
	}
	secondHash, _, _ := s.ContentHash("p1")
	if firstHash == secondHash {
		t.Error("hash unchanged after class modification")
	}
	if sym, _ := s.FindSymbol("com.ex.A.g()"); sym == nil {
		t.Error("new method not indexed")
	}
}

func TestIndexPrefersSources(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), "")

	root := t.TempDir()
	classesDir := filepath.Join(root, "classes")
	sourcesDir := filepath.Join(root, "sources")
	writeFile(t, filepath.Join(classesDir, "com/ex/Outer$Inner.class"), classtest.New("com/ex/Outer$Inner").Bytes())
	writeFile(t, filepath.Join(sourcesDir, "com/ex/Outer.java"), []byte("class Outer {}"))

	spec := config.PackageSpec{Name: "p1", ClassesDir: classesDir, SourcesDir: sourcesDir}
	if _, err := b.IndexPackage(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	sym, err := s.FindSymbol("com.ex.Outer.Inner")
	if err != nil {
		t.Fatal(err)
	}
	if sym == nil || !strings.HasSuffix(sym.URI, "com/ex/Outer.java") {
		t.Fatalf("symbol uri = %+v", sym)
	}
}

func TestIndexSkipsEnums(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), "")

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/Color.class"),
		classtest.New("com/ex/Color").
			Access(classfile.AccPublic|classfile.AccEnum).
			Super("java/lang/Enum").
			Bytes())

	res, err := b.IndexPackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Symbols != 0 {
		t.Errorf("enum produced symbols: %+v", res)
	}
	if sym, _ := s.FindSymbol("com.ex.Color"); sym != nil {
		t.Errorf("enum symbol indexed: %+v", sym)
	}
}

func TestIndexCountsMalformedFiles(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), "")

	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"), classtest.New("com/ex/A").Bytes())
	writeFile(t, filepath.Join(classesDir, "com/ex/Bad.class"), []byte{1, 2, 3})

	res, err := b.IndexPackage(context.Background(), config.PackageSpec{Name: "p1", ClassesDir: classesDir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failures != 1 || res.Symbols != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestIndexCollisionCounter(t *testing.T) {
	s := newStore(t)
	b := NewBuilder(s, newClient(t), "")

	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(dir1, "com/ex/A.class"), classtest.New("com/ex/A").Bytes())
	writeFile(t, filepath.Join(dir2, "com/ex/A.class"),
		classtest.New("com/ex/A").Field(classfile.AccPrivate, "x", "I").Bytes())

	ctx := context.Background()
	if _, err := b.IndexPackage(ctx, config.PackageSpec{Name: "p1", ClassesDir: dir1}); err != nil {
		t.Fatal(err)
	}
	res, err := b.IndexPackage(ctx, config.PackageSpec{Name: "p2", ClassesDir: dir2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Collisions != 1 {
		t.Errorf("collisions = %d, want 1", res.Collisions)
	}
	// Last writer wins.
	sym, _ := s.FindSymbol("com.ex.A")
	if sym == nil || sym.Package != "p2" {
		t.Errorf("symbol = %+v", sym)
	}
}

func TestIndexRewritesLocalURIs(t *testing.T) {
	s := newStore(t)

	cacheRoot := t.TempDir()
	b := NewBuilder(s, newClient(t), cacheRoot)

	classesDir := filepath.Join(cacheRoot, "myapp", "classes")
	writeFile(t, filepath.Join(classesDir, "com/ex/A.class"), classtest.New("com/ex/A").Bytes())

	spec := config.PackageSpec{
		Name:              "myapp",
		ClassesDir:        classesDir,
		Local:             true,
		ProjectSourceRoot: "/work/myapp/src/main/java",
	}
	if _, err := b.IndexPackage(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	sym, _ := s.FindSymbol("com.ex.A")
	if sym == nil {
		t.Fatal("symbol missing")
	}
	if sym.URI != "file:///work/myapp/src/main/java/com/ex/A.class" {
		t.Errorf("uri = %q", sym.URI)
	}
}

func TestHashDeterministic(t *testing.T) {
	classesDir := t.TempDir()
	writeFile(t, filepath.Join(classesDir, "b/B.class"), []byte("bb"))
	writeFile(t, filepath.Join(classesDir, "a/A.class"), []byte("aa"))

	ctx := context.Background()
	h1 := mustHash(t, ctx, classesDir)
	h2 := mustHash(t, ctx, classesDir)
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}

	writeFile(t, filepath.Join(classesDir, "a/A.class"), []byte("changed"))
	if h3 := mustHash(t, ctx, classesDir); h3 == h1 {
		t.Error("hash unchanged after content change")
	}
}

func mustHash(t *testing.T, ctx context.Context, dir string) string {
	t.Helper()
	files, err := discover.ClassFiles(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	h, err := hashFiles(files)
	if err != nil {
		t.Fatal(err)
	}
	return h
}
