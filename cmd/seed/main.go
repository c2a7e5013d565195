// seed registers a demo mini-app for local testing. Idempotent: the app row is upserted.
// With -host-key it also prints a host access token for the dev user so the
// session and ticket endpoints can be called with curl.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"miniapp-sso/backend/internal/config"
	"miniapp-sso/backend/internal/db"
	"miniapp-sso/backend/internal/logging"
	"miniapp-sso/backend/internal/miniapp/domain"
	"miniapp-sso/backend/internal/miniapp/repository"
	"miniapp-sso/backend/internal/security"
)

const (
	devAppID  = "app-1"
	devOrigin = "https://mini.example"
	devUserID = "dev-user-001"
)

func main() {
	appID := flag.String("app", devAppID, "ID of the demo mini-app")
	origin := flag.String("origin", devOrigin, "Origin the demo mini-app is served from")
	hostKey := flag.String("host-key", "", "PEM (inline or path) of the host private key; prints a dev access token when set")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.IsDevelopment())
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	app := &domain.App{
		ID:                        *appID,
		Name:                      "Demo mini-app",
		Status:                    domain.AppStatusActive,
		LaunchMode:                domain.LaunchModeIframe,
		Origin:                    *origin,
		LaunchURL:                 *origin + "/start?x=1",
		AllowedOrigins:            []string{*origin},
		AllowedPostMessageOrigins: []string{*origin},
		AllowedStartURLPatterns:   []domain.StartURLPattern{{PatternType: domain.PatternPrefix, Value: "/start"}},
		Scopes:                    []string{"profile:read"},
		SSOMode:                   "ticket",
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := repository.NewPostgresRepository(sqlDB).Upsert(ctx, app); err != nil {
		logger.Fatal().Err(err).Msg("upsert demo app")
	}
	logger.Info().Str("app_id", app.ID).Str("origin", app.Origin).Msg("demo mini-app seeded")

	if *hostKey == "" {
		return
	}
	priv, err := security.ParsePrivateKey(*hostKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("host key")
	}
	tp, err := security.NewTokenProvider(priv.Public(), cfg.HostJWTIssuer, cfg.HostJWTAudience)
	if err != nil {
		logger.Fatal().Err(err).Msg("token provider")
	}
	if tp, err = tp.WithSigner(priv, time.Hour); err != nil {
		logger.Fatal().Err(err).Msg("token signer")
	}
	token, exp, err := tp.IssueAccess(devUserID, "dev-session")
	if err != nil {
		logger.Fatal().Err(err).Msg("issue access token")
	}
	logger.Info().Str("user_id", devUserID).Time("expires_at", exp).Msg("dev host access token")
	fmt.Println(token)
}
