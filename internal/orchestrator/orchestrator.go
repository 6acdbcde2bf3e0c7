// Package orchestrator sequences a full run: open the store, index every
// package, then analyze every package. Indexing completes for all packages
// before any analysis starts so cross-package FQN resolution sees the whole
// symbol index.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bricklead/jvmgraph/internal/analyzer"
	"github.com/bricklead/jvmgraph/internal/callgraph"
	"github.com/bricklead/jvmgraph/internal/config"
	"github.com/bricklead/jvmgraph/internal/index"
	"github.com/bricklead/jvmgraph/internal/store"
)

// PackageFailure records one package that aborted during a phase. Its
// previously committed state, if any, is left intact.
type PackageFailure struct {
	Package string
	Phase   string // "index" or "analyze"
	Err     error
}

// Summary is the run outcome.
type Summary struct {
	Packages   int
	Indexed    int
	SkippedIdx int
	Symbols    int
	Collisions int
	Classes    int
	Nodes      int
	Edges      int
	Failed     []PackageFailure

	IndexElapsed   time.Duration
	AnalyzeElapsed time.Duration
}

// Progress is invoked after each package finishes a phase; phase is "index"
// or "analyze". May be nil.
type Progress func(phase, pkg string)

// Run executes the pipeline for one configuration. Per-package errors are
// collected in the summary; run-level errors (store open, unreachable
// analyzer, hash mismatch) abort everything.
func Run(ctx context.Context, cfg *config.Config, progress Progress) (*Summary, error) {
	if progress == nil {
		progress = func(string, string) {}
	}
	s, err := store.Open(cfg.DBPath, cfg.Init)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	client := analyzer.NewClient(cfg.ServiceAddr)
	if _, err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("analyzer health: %w", err)
	}

	summary := &Summary{Packages: len(cfg.Packages)}
	failed := make(map[string]bool)
	unchanged := make(map[string]bool)

	indexer := index.NewBuilder(s, client, cfg.CacheRoot)
	indexStart := time.Now()
	for _, spec := range cfg.Packages {
		res, err := indexer.IndexPackage(ctx, spec)
		progress("index", spec.Name)
		if err != nil {
			if errors.Is(err, index.ErrHashMismatch) {
				return nil, err
			}
			slog.Error("index.failed", "package", spec.Name, "err", err)
			summary.Failed = append(summary.Failed, PackageFailure{Package: spec.Name, Phase: "index", Err: err})
			failed[spec.Name] = true
			continue
		}
		if res.Skipped {
			summary.SkippedIdx++
			unchanged[spec.Name] = true
			continue
		}
		summary.Indexed++
		summary.Symbols += res.Symbols
		summary.Collisions += res.Collisions
	}
	summary.IndexElapsed = time.Since(indexStart)
	slog.Info("step.timing", "step", "index", "packages", summary.Indexed, "skipped", summary.SkippedIdx, "elapsed", summary.IndexElapsed)

	builder := callgraph.NewBuilder(s, client, cfg.Domains, cfg.Limit)
	analyzeStart := time.Now()
	for _, spec := range cfg.Packages {
		// Unchanged packages keep the facts committed by the run that
		// indexed them.
		if failed[spec.Name] || unchanged[spec.Name] {
			progress("analyze", spec.Name)
			continue
		}
		res, err := builder.AnalyzePackage(ctx, spec)
		progress("analyze", spec.Name)
		if err != nil {
			slog.Error("analyze.failed", "package", spec.Name, "err", err)
			summary.Failed = append(summary.Failed, PackageFailure{Package: spec.Name, Phase: "analyze", Err: err})
			// The package's facts are missing or partial. Drop its
			// metadata row so the next run re-indexes and re-analyzes
			// it instead of skipping it as unchanged.
			if derr := s.DeleteContentHash(spec.Name); derr != nil {
				slog.Error("metadata.clear", "package", spec.Name, "err", derr)
			}
			continue
		}
		summary.Classes += res.Classes
		summary.Nodes += res.Nodes
		summary.Edges += res.Edges
	}
	summary.AnalyzeElapsed = time.Since(analyzeStart)
	slog.Info("step.timing", "step", "analyze", "classes", summary.Classes, "nodes", summary.Nodes, "edges", summary.Edges, "elapsed", summary.AnalyzeElapsed)

	return summary, nil
}
