// Package index maintains the symbol index: per-package content hashing,
// skip-if-unchanged decisions, and atomic replacement of a package's rows.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bricklead/jvmgraph/internal/analyzer"
	"github.com/bricklead/jvmgraph/internal/config"
	"github.com/bricklead/jvmgraph/internal/discover"
	"github.com/bricklead/jvmgraph/internal/fqn"
	"github.com/bricklead/jvmgraph/internal/store"
)

// ErrHashMismatch is returned when the post-write verification of a
// package's metadata against a freshly computed hash fails.
var ErrHashMismatch = errors.New("content hash mismatch after indexing")

// indexBatchSize caps class files per /index/batch request.
const indexBatchSize = 200

// Builder drives symbol indexing for one store.
type Builder struct {
	store  *store.Store
	client *analyzer.Client

	// cacheRoot is the prefix replaced by ProjectSourceRoot in local
	// packages' symbol URIs.
	cacheRoot string
}

// NewBuilder returns a builder writing through the given store and client.
func NewBuilder(s *store.Store, c *analyzer.Client, cacheRoot string) *Builder {
	return &Builder{store: s, client: c, cacheRoot: cacheRoot}
}

// Result summarizes one package's indexing.
type Result struct {
	Package    string
	Skipped    bool
	Symbols    int
	Failures   int
	Collisions int
	Elapsed    time.Duration
}

// IndexPackage hashes a package's classes, skips it when unchanged, and
// otherwise replaces its rows under a single transaction. After the commit
// the on-disk tree is rehashed; a mismatch surfaces as ErrHashMismatch and
// the package is not considered clean.
func (b *Builder) IndexPackage(ctx context.Context, spec config.PackageSpec) (*Result, error) {
	start := time.Now()

	files, err := discover.ClassFiles(ctx, spec.ClassesDir)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", spec.Name, err)
	}
	hash, err := hashFiles(files)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", spec.Name, err)
	}

	stored, ok, err := b.store.ContentHash(spec.Name)
	if err != nil {
		return nil, err
	}
	if ok && stored == hash {
		slog.Info("index.skip", "package", spec.Name, "hash", hash[:12])
		return &Result{Package: spec.Name, Skipped: true, Elapsed: time.Since(start)}, nil
	}

	symbols, failures, err := b.collectSymbols(ctx, spec, files)
	if err != nil {
		return nil, err
	}

	var collisions int
	err = b.store.WithTransaction(func(tx *store.Store) error {
		if err := tx.DeletePackage(spec.Name); err != nil {
			return err
		}
		n, err := tx.UpsertSymbolBatch(symbols)
		if err != nil {
			return err
		}
		collisions = n
		return tx.SetContentHash(spec.Name, hash)
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", spec.Name, err)
	}

	if err := b.verifyHash(ctx, spec, hash); err != nil {
		return nil, err
	}

	if collisions > 0 {
		slog.Warn("index.collisions", "package", spec.Name, "count", collisions)
	}
	res := &Result{
		Package:    spec.Name,
		Symbols:    len(symbols),
		Failures:   failures,
		Collisions: collisions,
		Elapsed:    time.Since(start),
	}
	slog.Info("index.package", "package", spec.Name, "symbols", res.Symbols, "failures", failures, "elapsed", res.Elapsed)
	return res, nil
}

// collectSymbols runs the analyzer's index endpoint over the file list and
// assembles symbol rows with resolved source URIs.
func (b *Builder) collectSymbols(ctx context.Context, spec config.PackageSpec, files []discover.FileInfo) ([]*store.Symbol, int, error) {
	relByPath := make(map[string]string, len(files))
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
		relByPath[f.Path] = f.RelPath
	}

	var symbols []*store.Symbol
	failures := 0
	for start := 0; start < len(paths); start += indexBatchSize {
		end := start + indexBatchSize
		if end > len(paths) {
			end = len(paths)
		}
		results, err := b.client.IndexBatch(ctx, paths[start:end])
		if err != nil {
			return nil, 0, fmt.Errorf("index batch %s: %w", spec.Name, err)
		}
		for _, r := range results {
			if !r.Success {
				failures++
				slog.Warn("index.file", "package", spec.Name, "file", r.ClassFile, "err", r.Error)
				continue
			}
			if r.Skipped {
				continue
			}
			symbols = append(symbols, b.symbolRows(spec, relByPath[r.ClassFile], r)...)
		}
	}
	return symbols, failures, nil
}

// symbolRows converts one class's index result into symbol rows. The URI
// points at the .java file when the sources tree has it, otherwise at the
// .class file; method URIs carry a :line suffix.
func (b *Builder) symbolRows(spec config.PackageSpec, relClass string, r analyzer.IndexResult) []*store.Symbol {
	base := r.ClassFile
	if spec.SourcesDir != "" {
		candidate := filepath.Join(spec.SourcesDir, filepath.FromSlash(fqn.SourceRel(relClass)))
		if _, err := os.Stat(candidate); err == nil {
			base = candidate
		}
	}
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	base = b.rewriteLocal(spec, base)

	rows := make([]*store.Symbol, 0, len(r.Symbols))
	for _, sym := range r.Symbols {
		line := -1
		if fqn.IsMethod(sym.FQN) {
			line = sym.Line
		}
		row := &store.Symbol{
			FQN:     sym.FQN,
			URI:     fqn.FileURI(base, line),
			Package: spec.Name,
			Line:    line,
		}
		if !fqn.IsMethod(sym.FQN) {
			entity := r.IsEntity
			row.IsEntity = &entity
		}
		rows = append(rows, row)
	}
	return rows
}

// rewriteLocal maps cache paths of local packages onto the project's source
// tree. The rewrite applies to symbol URIs only.
func (b *Builder) rewriteLocal(spec config.PackageSpec, path string) string {
	if !spec.Local || spec.ProjectSourceRoot == "" || b.cacheRoot == "" {
		return path
	}
	prefix := filepath.ToSlash(b.cacheRoot)
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, prefix) {
		return path
	}
	rest := strings.TrimPrefix(p, prefix)
	// Drop the package-layout segments between the cache root and the
	// java package directories: <package>/sources or <package>/classes.
	for _, marker := range []string{"/sources/", "/classes/"} {
		if i := strings.Index(rest, marker); i >= 0 {
			rest = rest[i+len(marker)-1:]
			break
		}
	}
	return filepath.ToSlash(spec.ProjectSourceRoot) + rest
}

func (b *Builder) verifyHash(ctx context.Context, spec config.PackageSpec, want string) error {
	files, err := discover.ClassFiles(ctx, spec.ClassesDir)
	if err != nil {
		return err
	}
	got, err := hashFiles(files)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: package %s", ErrHashMismatch, spec.Name)
	}
	return nil
}

// hashFiles computes the package content hash: SHA-256 over the byte
// concatenation of every class file, in sorted relative-path order.
func hashFiles(files []discover.FileInfo) (string, error) {
	h := sha256.New()
	for _, f := range files {
		fh, err := os.Open(f.Path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, fh)
		fh.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
