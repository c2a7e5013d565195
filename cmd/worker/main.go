// Worker periodically deletes expired mini-app sessions and ledger entries from Postgres.
// Redis-backed stores expire on their own and are not swept.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"miniapp-sso/backend/internal/config"
	"miniapp-sso/backend/internal/db"
	"miniapp-sso/backend/internal/logging"
	sessionrepo "miniapp-sso/backend/internal/session/repository"
	"miniapp-sso/backend/internal/sweep"
	ticketrepo "miniapp-sso/backend/internal/ticket/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.IsDevelopment()).With().Str("component", "sweeper").Logger()
	log.Logger = logger

	if !cfg.UsesBackend(config.BackendPostgres) {
		logger.Info().Msg("no postgres backend configured; nothing to sweep")
		return
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer sqlDB.Close()

	stores := map[string]sweep.Expirer{}
	if cfg.SessionBackend == config.BackendPostgres {
		stores["sessions"] = sessionrepo.NewPostgresRepository(sqlDB)
	}
	if cfg.LedgerBackend == config.BackendPostgres {
		stores["tickets"] = ticketrepo.NewPostgresRepository(sqlDB)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cfg.SweepInterval()
	logger.Info().Dur("interval", interval).Int("stores", len(stores)).Msg("sweeper started")
	sweep.New(stores, sweep.DefaultGrace, logger).Run(ctx, interval)
	logger.Info().Msg("sweeper stopped")
}
