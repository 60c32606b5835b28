package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/malwarebo/cashback/app"
	"github.com/malwarebo/cashback/config"
	"github.com/malwarebo/cashback/utils"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "cashbackctl",
		Short:         "Operate the cashback receipt verification service",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.json", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(drainCmd())
	rootCmd.AddCommand(awardCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(customerCmd())
	rootCmd.AddCommand(auditCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Monitoring.LogLevel
	if verbose {
		level = "debug"
	}
	utils.ConfigureLogging(os.Stderr, level, "text")
	return cfg, nil
}

// buildApp loads and validates the config, then wires the full service.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return app.Build(ctx, cfg)
}
