package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Maintain the award audit trail",
	}
	cmd.AddCommand(auditCleanupCmd())
	return cmd
}

func auditCleanupCmd() *cobra.Command {
	var retentionDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retentionDays < 1 {
				return fmt.Errorf("--retention-days must be at least 1")
			}
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.Audit.CleanupOldLogs(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries older than %d days\n", deleted, retentionDays)
			return nil
		},
	}
	cmd.Flags().IntVar(&retentionDays, "retention-days", 365, "keep entries newer than this many days")
	return cmd
}
