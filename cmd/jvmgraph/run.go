package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bricklead/jvmgraph/internal/config"
	"github.com/bricklead/jvmgraph/internal/orchestrator"
)

const timeUnit = time.Millisecond

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		dbPath      string
		serviceAddr string
		initDB      bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Index and analyze every configured package",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, dbPath, serviceAddr, initDB, limit)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bar := progressbar.NewOptions(len(cfg.Packages)*2,
				progressbar.OptionSetDescription("index"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			summary, err := orchestrator.Run(ctx, cfg, func(phase, pkg string) {
				bar.Describe(fmt.Sprintf("%s %s", phase, pkg))
				bar.Add(1)
			})
			bar.Finish()
			if err != nil {
				return err
			}

			printSummary(summary)
			if len(summary.Failed) > 0 {
				return fmt.Errorf("%d package(s) failed", len(summary.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "jvmgraph.yaml", "run configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "", "override the database path")
	cmd.Flags().StringVar(&serviceAddr, "service", "", "override the analyzer address")
	cmd.Flags().BoolVar(&initDB, "init", false, "drop and recreate all tables")
	cmd.Flags().IntVar(&limit, "limit", 0, "analyze at most N classes per directory (requires --init)")
	return cmd
}

func loadConfig(path, dbPath, serviceAddr string, initDB bool, limit int) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if serviceAddr != "" {
		cfg.ServiceAddr = serviceAddr
	}
	if initDB {
		cfg.Init = true
	}
	if limit > 0 {
		cfg.Limit = limit
	}
	return cfg, cfg.Validate()
}

func printSummary(s *orchestrator.Summary) {
	fmt.Printf("packages: %d indexed, %d unchanged\n", s.Indexed, s.SkippedIdx)
	fmt.Printf("symbols:  %d (%d collisions) in %s\n", s.Symbols, s.Collisions, s.IndexElapsed.Round(timeUnit))
	fmt.Printf("facts:    %d classes, %d nodes, %d edges in %s\n", s.Classes, s.Nodes, s.Edges, s.AnalyzeElapsed.Round(timeUnit))
	if len(s.Failed) == 0 {
		color.Green("done")
		return
	}
	color.Red("%d package(s) failed:", len(s.Failed))
	for _, f := range s.Failed {
		color.Red("  %s (%s): %v", f.Package, f.Phase, f.Err)
	}
}
