package main

import (
	"guidy/internal/config"
	"guidy/internal/migrations"

	"github.com/spf13/cobra"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newCommandLogger(LogLevel, LogFormat)
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if migrateStatus {
			return migrations.GetMigrationStatus(cfg, logger)
		}
		return migrations.RunMigrations(cfg, logger)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print migration status instead of applying")
}
