package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bricklead/jvmgraph/internal/analyzer"
	"github.com/bricklead/jvmgraph/internal/index"
	"github.com/bricklead/jvmgraph/internal/store"
)

func newIndexCmd() *cobra.Command {
	var (
		configPath  string
		dbPath      string
		serviceAddr string
		initDB      bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the symbol index without analyzing call graphs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, dbPath, serviceAddr, initDB, 0)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := store.Open(cfg.DBPath, cfg.Init)
			if err != nil {
				return err
			}
			defer s.Close()

			client := analyzer.NewClient(cfg.ServiceAddr)
			if _, err := client.Health(ctx); err != nil {
				return fmt.Errorf("analyzer health: %w", err)
			}

			builder := index.NewBuilder(s, client, cfg.CacheRoot)
			var failures int
			for _, spec := range cfg.Packages {
				res, err := builder.IndexPackage(ctx, spec)
				if err != nil {
					color.Red("%s: %v", spec.Name, err)
					failures++
					continue
				}
				if res.Skipped {
					fmt.Printf("%s: unchanged\n", spec.Name)
					continue
				}
				fmt.Printf("%s: %d symbols (%d collisions) in %s\n",
					spec.Name, res.Symbols, res.Collisions, res.Elapsed.Round(timeUnit))
			}
			if failures > 0 {
				return fmt.Errorf("%d package(s) failed", failures)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "jvmgraph.yaml", "run configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "", "override the database path")
	cmd.Flags().StringVar(&serviceAddr, "service", "", "override the analyzer address")
	cmd.Flags().BoolVar(&initDB, "init", false, "drop and recreate all tables")
	return cmd
}
