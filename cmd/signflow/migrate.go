package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/signflow/internal/platform/database"
	"github.com/R3E-Network/signflow/internal/platform/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(db *sqlx.DB) error {
			if err := migrations.Up(db.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := parseSteps(args)
		if err != nil {
			return err
		}
		return withDatabase(cmd, func(db *sqlx.DB) error {
			if err := migrations.Down(db.DB, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(db *sqlx.DB) error {
			v, dirty, ok, err := migrations.Version(db.DB)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return n, nil
}

func withDatabase(cmd *cobra.Command, fn func(db *sqlx.DB) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !strings.EqualFold(cfg.Database.Driver, "postgres") {
		return fmt.Errorf("migrations need database.driver=postgres, got %q", cfg.Database.Driver)
	}
	db, err := database.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
