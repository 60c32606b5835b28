package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one verification drain and print its counters",
		Long: `Claims a batch of pending verification requests, verifies them against
the fiscal registry and awards cashback, exactly like one scheduler tick.

Stale processing rows are requeued first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Queue.DrainOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
