package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bricklead/jvmgraph/internal/analyzer"
	"github.com/bricklead/jvmgraph/internal/config"
)

func newStopCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running analysis service to exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := analyzer.NewClient(addr).Shutdown(context.Background()); err != nil {
				return err
			}
			fmt.Println("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultServiceAddr, "analyzer address")
	return cmd
}
