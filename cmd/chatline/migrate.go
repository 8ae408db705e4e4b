package main

import (
	"chatline/internal/repository"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := repository.Open(cfg.DB.Driver, cfg.DB.ConnStr)
		if err != nil {
			return err
		}
		defer db.Close()

		dialect := repository.Dialect(cfg.DB.Driver)
		store := repository.NewStore(db, dialect, repository.NewSQLOutboxRepository(db, dialect))
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil
	},
}
