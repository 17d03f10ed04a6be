package main

import (
	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-timetable-sync/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the schedule store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logr, err := bootstrap()
		if err != nil {
			return err
		}
		defer logr.Sync() //nolint:errcheck

		db, err := database.NewPostgres(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		return database.RunMigrations(db.DB, logr)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		cfg, logr, err := bootstrap()
		if err != nil {
			return err
		}
		defer logr.Sync() //nolint:errcheck

		db, err := database.NewPostgres(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		return database.RollbackMigrations(db.DB, steps, logr)
	},
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to revert")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
