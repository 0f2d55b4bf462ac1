package main

import (
	"github.com/spf13/cobra"

	"github.com/execution-hub/contractsync/internal/config"
	"github.com/execution-hub/contractsync/internal/infrastructure/postgres"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Level())
			if err := postgres.RunMigrations(cfg.DatabaseURL, args[0]); err != nil {
				return err
			}
			logger.Info().Str("direction", args[0]).Msg("migrations applied")
			return nil
		},
	}
}
