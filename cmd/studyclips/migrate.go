package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/studyclips/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "applies the database migrations and exits",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	return db.RunMigrations(cfg.Database, log)
}
