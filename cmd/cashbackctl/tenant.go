package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/malwarebo/cashback/services"
	"github.com/spf13/cobra"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage pharmacy networks",
	}
	cmd.AddCommand(
		tenantCreateCmd(),
		tenantListCmd(),
		tenantSetActiveCmd("enable", "Allow a pharmacy network to submit receipts", true),
		tenantSetActiveCmd("disable", "Reject all requests from a pharmacy network", false),
	)
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var req services.CreateTenantRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a pharmacy network and print its API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tenant, apiKey, err := a.Tenants.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tenant:  %s\n", tenant.ID)
			fmt.Fprintf(out, "API key: %s\n", apiKey)
			if tenant.WebhookSecret != "" {
				fmt.Fprintf(out, "Webhook secret: %s\n", tenant.WebhookSecret)
			}
			fmt.Fprintln(out, "Store the API key now, it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "display name of the pharmacy network")
	cmd.Flags().StringVar(&req.WebhookURL, "webhook-url", "", "url receiving cashback events")
	cmd.Flags().IntVar(&req.DailyAwardCap, "daily-cap", 0, "awards per customer per day (default 10)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func tenantListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pharmacy networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tenants, total, err := a.Tenants.List(cmd.Context(), activeOnly, 0, 0)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tACTIVE\tDAILY CAP\tWEBHOOK")
			for _, t := range tenants {
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", t.ID, t.Name, t.IsActive, t.EffectiveDailyAwardCap(), t.WebhookURL)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tenant(s)\n", total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active tenants")
	return cmd
}

func tenantSetActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [tenant-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Tenants.SetActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s %sd\n", args[0], use)
			return nil
		},
	}
}
