package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	httpapi "github.com/execution-hub/contractsync/internal/api/http"
	"github.com/execution-hub/contractsync/internal/application/broadcast"
	"github.com/execution-hub/contractsync/internal/application/pairing"
	"github.com/execution-hub/contractsync/internal/application/registry"
	appSession "github.com/execution-hub/contractsync/internal/application/session"
	"github.com/execution-hub/contractsync/internal/config"
	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/infrastructure/boltstore"
	"github.com/execution-hub/contractsync/internal/infrastructure/memory"
	pairingInfra "github.com/execution-hub/contractsync/internal/infrastructure/pairing"
	"github.com/execution-hub/contractsync/internal/infrastructure/postgres"
	"github.com/execution-hub/contractsync/internal/infrastructure/sse"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and event stream server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := newLogger(cfg.Level())
	ctx := context.Background()

	gateway, closeStore, err := openGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	policy, err := appSession.NewApprovalPolicy(cfg.ApprovalPolicy)
	if err != nil {
		return err
	}
	verifier, err := pairingInfra.NewVerifier([]byte(cfg.PairingSecret), logger)
	if err != nil {
		return err
	}

	// infrastructure
	hub := sse.NewHub()
	defer hub.Stop()

	// services
	sessions := registry.NewSessionRegistry(gateway, logger)
	connections := registry.NewConnectionRegistry(sessions, logger)
	coordinator := broadcast.NewCoordinator(connections, hub, logger)
	pairingSvc := pairing.NewService(sessions, verifier, coordinator, logger)
	syncSvc := appSession.NewService(sessions, connections, coordinator, pairingSvc, gateway, policy, logger)

	auth := httpapi.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.AuthDisabled)
	if cfg.AuthDisabled {
		logger.Warn().Msg("authentication disabled, owners are taken from X-Owner-ID")
	}
	apiServer := httpapi.NewServer(syncSvc, hub, verifier, auth, cfg.SendBuffer, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		// event streams are unbounded; request handlers carry their own timeout
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	stopEviction := make(chan struct{})
	if cfg.IdleEviction > 0 && cfg.EvictionInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.EvictionInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					syncSvc.EvictIdleSessions(cfg.IdleEviction)
				case <-stopEviction:
					return
				}
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.StoreDriver).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		close(stopEviction)
		return fmt.Errorf("http server: %w", err)
	}
	close(stopEviction)

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// closing the streams first lets Shutdown drain them
	hub.Stop()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openGateway opens the configured session store and returns its closer.
func openGateway(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (contract.Gateway, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL, "up"); err != nil {
			return nil, nil, fmt.Errorf("migration error: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db error: %w", err)
		}
		return postgres.NewGateway(pool), pool.Close, nil
	case config.StoreBolt:
		gw, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("bolt error: %w", err)
		}
		return gw, func() {
			if err := gw.Close(); err != nil {
				logger.Warn().Err(err).Msg("close bolt store")
			}
		}, nil
	default:
		logger.Warn().Msg("using in-memory store, sessions do not survive restarts")
		return memory.NewGateway(), func() {}, nil
	}
}
