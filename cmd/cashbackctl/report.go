package main

import (
	"encoding/json"

	"github.com/malwarebo/cashback/analytics"
	"github.com/malwarebo/cashback/utils"
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	var period, tenantID string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the cashback report for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if tenantID != "" {
				ctx = utils.WithTenantID(ctx, tenantID)
			}
			report, err := a.Reports.GetCashbackReport(ctx, period)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&period, "period", analytics.PeriodDaily, "daily, weekly or monthly")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "limit the report to one tenant")
	return cmd
}
