package main

import (
	"fmt"

	"github.com/malwarebo/cashback/db"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(migrateUpCmd(), migrateDownCmd(), migrateVersionCmd())
	return cmd
}

func openMigrator() (*db.Migrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return db.CreateNewMigrator(cfg.GetDatabaseURL(), verbose)
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Up(); err != nil {
				return err
			}
			status, err := m.Status()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", status.Version)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Down(steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			status, err := m.Status()
			if err != nil {
				return err
			}
			if !status.Applied {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %d\nDirty:   %t\n", status.Version, status.Dirty)
			return nil
		},
	}
}
