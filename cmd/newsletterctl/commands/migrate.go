package commands

import (
	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.Open(cmd.Context(), cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer database.Close()

	return db.Migrate(database, log)
}
