package main

import (
	"fmt"
	"time"

	"github.com/malwarebo/cashback/security"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage registry session and API access tokens",
	}
	cmd.AddCommand(tokenRefreshCmd(), tokenIssueCmd())
	return cmd
}

func tokenRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Obtain a fresh fiscal registry session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Tokens.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("refresh registry token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registry token valid until %s\n", a.Tokens.ExpiresAt().Format(time.RFC3339))
			return nil
		},
	}
}

func tokenIssueCmd() *cobra.Command {
	var (
		tenantID string
		admin    bool
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue [subject]",
		Short: "Sign an access token for a customer or administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return fmt.Errorf("jwt secret is not configured")
			}
			if ttl <= 0 {
				ttl = cfg.Security.JWTExpiration
			}

			if tenantID == "" && !admin {
				return fmt.Errorf("customer tokens need --tenant")
			}

			var roles []string
			if admin {
				roles = append(roles, security.RoleAdmin)
			}
			jwt := security.CreateJWTManager(cfg.Security.JWTSecret, "cashback", "cashback-api")
			token, err := jwt.GenerateToken(args[0], tenantID, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant the token is bound to")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to the configured expiration)")
	return cmd
}
