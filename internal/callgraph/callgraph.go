// Package callgraph turns analyzed class records into persisted nodes and
// edges, resolving every referenced FQN to its owning package through the
// symbol index.
package callgraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bricklead/jvmgraph/internal/analyzer"
	"github.com/bricklead/jvmgraph/internal/config"
	"github.com/bricklead/jvmgraph/internal/discover"
	"github.com/bricklead/jvmgraph/internal/facts"
	"github.com/bricklead/jvmgraph/internal/store"
)

// UnknownPackage marks edge targets absent from the symbol index.
const UnknownPackage = "unknown"

// analyzeChunkSize caps classes per /analyze request to bound payloads.
const analyzeChunkSize = 100

// edgeFlushSize is the edge buffer bound between transactional flushes.
const edgeFlushSize = 5000

// Builder drives fact persistence for one store. The fqn→package cache is
// shared across packages; the symbol index is complete before any analysis
// runs, so cached entries never go stale within a run.
type Builder struct {
	store   *store.Store
	client  *analyzer.Client
	domains []string
	limit   int

	pkgCache map[string]string
}

// NewBuilder returns a builder writing through the given store and client.
func NewBuilder(s *store.Store, c *analyzer.Client, domains []string, limit int) *Builder {
	return &Builder{
		store:    s,
		client:   c,
		domains:  domains,
		limit:    limit,
		pkgCache: make(map[string]string),
	}
}

// Result summarizes one package's analysis.
type Result struct {
	Package  string
	Classes  int
	Nodes    int
	Edges    int
	Failures int
	Elapsed  time.Duration
}

// AnalyzePackage enumerates a package's classes in sorted order, submits
// them in bounded chunks, and persists the resulting facts. Edges flush in
// batches; a final commit closes the package boundary.
func (b *Builder) AnalyzePackage(ctx context.Context, spec config.PackageSpec) (*Result, error) {
	start := time.Now()

	files, err := discover.ClassFiles(ctx, spec.ClassesDir)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", spec.Name, err)
	}
	if b.limit > 0 && len(files) > b.limit {
		files = files[:b.limit]
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	res := &Result{Package: spec.Name}
	var nodeBuf []*store.Node
	var edgeBuf []*store.Edge

	for i := 0; i < len(paths); i += analyzeChunkSize {
		end := i + analyzeChunkSize
		if end > len(paths) {
			end = len(paths)
		}
		resp, err := b.client.Analyze(ctx, &analyzer.AnalyzeRequest{
			ClassFiles: paths[i:end],
			Domains:    b.domains,
		})
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", spec.Name, err)
		}
		res.Failures += len(resp.Failures)
		for _, failure := range resp.Failures {
			slog.Warn("analyze.file", "package", spec.Name, "file", failure.File, "err", failure.Error)
		}

		for i := range resp.Classes {
			rec := &resp.Classes[i]
			res.Classes++
			nodes, edges := facts.Expand(rec)
			for _, n := range nodes {
				nodeBuf = append(nodeBuf, &store.Node{
					FQN:             n.FQN,
					Type:            n.Type,
					Package:         spec.Name,
					Line:            n.Line,
					Visibility:      n.Visibility,
					HasOverride:     n.HasOverride,
					IsTransactional: n.IsTransactional,
				})
			}
			for _, e := range edges {
				edgeBuf = append(edgeBuf, &store.Edge{
					FromFQN:     e.FromFQN,
					EdgeType:    e.EdgeType,
					ToFQN:       e.ToFQN,
					Kind:        e.Kind,
					FromPackage: spec.Name,
					FromLine:    e.FromLine,
				})
			}
		}

		if len(edgeBuf) >= edgeFlushSize {
			if err := b.flush(nodeBuf, edgeBuf, res); err != nil {
				return nil, fmt.Errorf("flush %s: %w", spec.Name, err)
			}
			nodeBuf, edgeBuf = nil, nil
		}
	}
	if err := b.flush(nodeBuf, edgeBuf, res); err != nil {
		return nil, fmt.Errorf("flush %s: %w", spec.Name, err)
	}

	res.Elapsed = time.Since(start)
	slog.Info("callgraph.package", "package", spec.Name,
		"classes", res.Classes, "nodes", res.Nodes, "edges", res.Edges,
		"failures", res.Failures, "elapsed", res.Elapsed)
	return res, nil
}

// flush resolves target packages for the buffered edges and writes nodes and
// edges in one transaction.
func (b *Builder) flush(nodes []*store.Node, edges []*store.Edge, res *Result) error {
	if len(nodes) == 0 && len(edges) == 0 {
		return nil
	}
	if err := b.resolveTargets(edges); err != nil {
		return err
	}
	err := b.store.WithTransaction(func(tx *store.Store) error {
		if err := tx.UpsertNodeBatch(nodes); err != nil {
			return err
		}
		return tx.InsertEdgeBatch(edges)
	})
	if err != nil {
		return err
	}
	res.Nodes += len(nodes)
	res.Edges += len(edges)
	return nil
}

// resolveTargets fills to_package for a batch with a single grouped
// symbol_index lookup over the FQNs the cache has not seen.
func (b *Builder) resolveTargets(edges []*store.Edge) error {
	var missing []string
	seen := make(map[string]bool)
	for _, e := range edges {
		if _, ok := b.pkgCache[e.ToFQN]; !ok && !seen[e.ToFQN] {
			seen[e.ToFQN] = true
			missing = append(missing, e.ToFQN)
		}
	}
	if len(missing) > 0 {
		resolved, err := b.store.ResolvePackages(missing)
		if err != nil {
			return err
		}
		for _, fqn := range missing {
			if pkg, ok := resolved[fqn]; ok {
				b.pkgCache[fqn] = pkg
			} else {
				b.pkgCache[fqn] = UnknownPackage
			}
		}
	}
	for _, e := range edges {
		e.ToPackage = b.pkgCache[e.ToFQN]
	}
	return nil
}
