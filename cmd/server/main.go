// Server runs the mini-app SSO HTTP API and the gRPC health service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"miniapp-sso/backend/internal/audit"
	"miniapp-sso/backend/internal/config"
	"miniapp-sso/backend/internal/db"
	healthhandler "miniapp-sso/backend/internal/health/handler"
	"miniapp-sso/backend/internal/logging"
	apprepo "miniapp-sso/backend/internal/miniapp/repository"
	policyengine "miniapp-sso/backend/internal/policy/engine"
	"miniapp-sso/backend/internal/security"
	"miniapp-sso/backend/internal/server"
	"miniapp-sso/backend/internal/server/interceptors"
	sessionrepo "miniapp-sso/backend/internal/session/repository"
	sessionservice "miniapp-sso/backend/internal/session/service"
	"miniapp-sso/backend/internal/telemetry"
	telemetryotel "miniapp-sso/backend/internal/telemetry/otel"
	"miniapp-sso/backend/internal/telemetry/producer"
	ticketrepo "miniapp-sso/backend/internal/ticket/repository"
	ticketservice "miniapp-sso/backend/internal/ticket/service"
)

const serviceName = "miniapp-sso"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.IsDevelopment())
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("otel")
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Fatal().Err(err).Msg("metrics")
	}

	var sqlDB *sql.DB
	pingers := map[string]healthhandler.Pinger{}
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database")
		}
		defer sqlDB.Close()
		pingers["postgres"] = sqlDB
	} else if cfg.UsesBackend(config.BackendPostgres) {
		logger.Fatal().Msg("DATABASE_URL is required for the postgres backend and the app registry")
	}

	var redisClient *redis.Client
	if cfg.UsesBackend(config.BackendRedis) {
		redisClient, err = db.OpenRedis(ctx, db.RedisOptions{
			Addr: cfg.RedisAddr, Username: cfg.RedisUsername, Password: cfg.RedisPassword, DB: cfg.RedisDB,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		pingers["redis"] = healthhandler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	var apps sessionservice.AppRegistry
	if sqlDB != nil {
		apps = apprepo.NewPostgresRepository(sqlDB)
	} else {
		logger.Warn().Msg("no DATABASE_URL: using an empty in-memory app registry")
		apps = apprepo.NewMemoryRepository()
	}

	var sessions sessionrepo.Repository
	switch cfg.SessionBackend {
	case config.BackendPostgres:
		sessions = sessionrepo.NewPostgresRepository(sqlDB)
	case config.BackendRedis:
		sessions = sessionrepo.NewRedisRepository(redisClient)
	default:
		sessions = sessionrepo.NewMemoryRepository()
	}
	var ledger ticketrepo.Repository
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		ledger = ticketrepo.NewPostgresRepository(sqlDB)
	case config.BackendRedis:
		ledger = ticketrepo.NewRedisRepository(redisClient)
	default:
		ledger = ticketrepo.NewMemoryRepository()
	}

	modules, err := policyengine.LoadPolicyFile(cfg.LaunchPolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("launch policy file")
	}
	policy, err := policyengine.NewOPAEvaluator(ctx, modules)
	if err != nil {
		logger.Fatal().Err(err).Msg("launch policy")
	}

	signer, err := security.NewTicketSigner([]byte(cfg.TicketSecret), cfg.TicketIssuer, cfg.TicketTTL(), cfg.ClockSkew())
	if err != nil {
		logger.Fatal().Err(err).Msg("ticket signer")
	}
	var tokens interceptors.AccessValidator
	if cfg.HostJWTPublicKey != "" {
		pub, err := security.ParsePublicKey(cfg.HostJWTPublicKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("HOST_JWT_PUBLIC_KEY")
		}
		tp, err := security.NewTokenProvider(pub, cfg.HostJWTIssuer, cfg.HostJWTAudience)
		if err != nil {
			logger.Fatal().Err(err).Msg("host token provider")
		}
		tokens = tp
	} else {
		logger.Warn().Msg("HOST_JWT_PUBLIC_KEY not set: host endpoints will reject every request")
	}

	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic)
	if err != nil {
		logger.Fatal().Err(err).Msg("kafka producer")
	}
	emitters := telemetry.MultiEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		logger.Info().Str("topic", kafkaProducer.Topic()).Msg("kafka audit producer enabled")
	}
	auditLogger := audit.NewLogger(logger.With().Str("component", "audit").Logger(), emitters, interceptors.ClientIPFromContext)

	registry := sessionservice.NewRegistry(apps, sessions, policy, cfg.SessionTTL())
	health := healthhandler.NewServer(pingers, policy)
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewHTTPHandler(server.Deps{
			Sessions:     registry,
			Tickets:      ticketservice.NewIssuer(apps, registry, signer, ledger),
			Introspector: ticketservice.NewIntrospector(signer, ledger),
			Tokens:       tokens,
			Health:       health,
			Audit:        auditLogger,
			Metrics:      metrics,
			Log:          logger,
			Tracer:       otel.Tracer(serviceName),
			CORSOrigins:  cfg.CORSOrigins(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).
			Str("session_backend", cfg.SessionBackend).
			Str("ledger_backend", cfg.LedgerBackend).
			Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http serve")
		}
	}()

	grpcSrv, grpcHealth := server.NewGRPCServer()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("grpc listen")
		}
		go health.SyncGRPC(ctx, grpcHealth, 10*time.Second)
		go func() {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health server listening")
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("grpc serve")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down...")
	grpcHealth.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	grpcSrv.GracefulStop()

	// Let in-flight async audit emits finish before closing their sinks.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := kafkaProducer.Close(); err != nil {
		logger.Warn().Err(err).Msg("kafka close")
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("stopped")
}
