package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func customerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Inspect customer balances",
	}
	cmd.AddCommand(customerShowCmd())
	return cmd
}

func customerShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show [customer-id]",
		Short: "Show a customer's balance and latest awards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			customer, err := a.Customers.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			awards, err := a.Awards.ListByCustomer(cmd.Context(), customer.ID, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Customer: %s\n", customer.ID)
			fmt.Fprintf(out, "Tenant:   %s\n", customer.TenantID)
			fmt.Fprintf(out, "Balance:  %d\n\n", customer.Balance)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AWARD\tAMOUNT\tSTATUS\tCREATED")
			for _, award := range awards {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", award.ID, award.Amount, award.Status, award.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of awards to show")
	return cmd
}
