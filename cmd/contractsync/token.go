package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/execution-hub/contractsync/internal/api/http"
	"github.com/execution-hub/contractsync/internal/config"
)

func newTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Issue a bearer token for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := httpapi.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, false).IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
