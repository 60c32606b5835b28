package main

import (
	"fmt"

	"github.com/malwarebo/cashback/utils"
	"github.com/spf13/cobra"
)

func awardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "award",
		Short: "Inspect and cancel cashback awards",
	}
	cmd.AddCommand(awardShowCmd(), awardCancelCmd())
	return cmd
}

func awardShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [award-id]",
		Short: "Show one award with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			award, err := a.Ledger.GetAward(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Award:    %s\n", award.ID)
			fmt.Fprintf(out, "Tenant:   %s\n", award.TenantID)
			fmt.Fprintf(out, "Customer: %s\n", award.CustomerID)
			fmt.Fprintf(out, "Amount:   %d\n", award.Amount)
			fmt.Fprintf(out, "Status:   %s\n", award.Status)
			for _, item := range award.Items {
				fmt.Fprintf(out, "  - %s (offer %s) = %d\n", item.ItemName, item.OfferID, item.MatchedAmount)
			}
			return nil
		},
	}
}

func awardCancelCmd() *cobra.Command {
	var adminID, reason string
	cmd := &cobra.Command{
		Use:   "cancel [award-id]",
		Short: "Cancel an award and debit the customer balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminID == "" || reason == "" {
				return fmt.Errorf("--admin and --reason are required")
			}
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := utils.WithAdmin(utils.WithUserID(cmd.Context(), adminID), true)
			refunded, err := a.Ledger.Cancel(ctx, args[0], adminID, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Award %s canceled, %d debited from the customer balance\n", args[0], refunded)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminID, "admin", "", "id of the administrator performing the cancellation")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	return cmd
}
