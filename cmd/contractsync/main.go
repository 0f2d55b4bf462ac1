package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "contractsync",
		Short:        "Multi-device contract session sync server",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newTokenCommand())
	return cmd
}

func newLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
