// migrate applies the embedded SQL migrations; run with go run ./cmd/migrate [-direction up|down].
package main

import (
	"errors"
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"miniapp-sso/backend/internal/config"
	"miniapp-sso/backend/internal/db/migrate"
	"miniapp-sso/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.IsDevelopment())
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Str("direction", *direction).Msg("no change")
			return
		}
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migrate")
	}
	logger.Info().Str("direction", *direction).Msg("migrations applied")
}
