package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bricklead/jvmgraph/internal/store"
)

func newStatsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print fact-base counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Inspection only: opening a missing path would create an
			// empty database.
			if _, err := os.Stat(dbPath); err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("database %s does not exist", dbPath)
				}
				return err
			}
			s, err := store.Open(dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			symbols, err := s.CountSymbols()
			if err != nil {
				return err
			}
			nodes, err := s.CountNodes()
			if err != nil {
				return err
			}
			edges, err := s.CountEdges()
			if err != nil {
				return err
			}
			packages, err := s.IndexedPackages()
			if err != nil {
				return err
			}

			fmt.Printf("packages: %d\n", len(packages))
			fmt.Printf("symbols:  %d\n", symbols)
			fmt.Printf("nodes:    %d\n", nodes)
			fmt.Printf("edges:    %d\n", edges)

			counts, err := s.SymbolCountsByPackage()
			if err != nil {
				return err
			}
			for _, c := range counts {
				fmt.Printf("  %-40s %d\n", c.Package, c.Count)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "jvmgraph.db", "database path")
	return cmd
}
