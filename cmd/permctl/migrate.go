package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := db.NewMigrator(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer func() { _, _ = m.Close() }()

		applied, err := db.MigrateUp(m)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if !applied {
			fmt.Fprintln(cmd.OutOrStdout(), "No migrations to run - database is up to date")
			return nil
		}
		version, _, _ := m.Version()
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated to version: %d\n", version)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		m, err := db.NewMigrator(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer func() { _, _ = m.Close() }()

		if err := m.Steps(-steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		version, _, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(cmd.OutOrStdout(), "Rolled back all migrations")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to version: %d\n", version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current migration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := db.NewMigrator(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer func() { _, _ = m.Close() }()

		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations have been applied yet")
				return nil
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\n", version)
		if dirty {
			fmt.Fprintln(cmd.OutOrStdout(), "Warning: database is in a dirty state")
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
