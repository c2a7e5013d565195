// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends selectable for sessions and the ticket ledger.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// MinTicketSecretLen is the minimum length in bytes of SSO_TICKET_SECRET.
const MinTicketSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health service listens on. Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required when any backend is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is host:port of Redis. Required when any backend is redis.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisUsername string `mapstructure:"REDIS_USERNAME"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// SessionBackend selects session storage: postgres, redis or memory.
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	// LedgerBackend selects ticket ledger storage: postgres, redis or memory.
	LedgerBackend string `mapstructure:"LEDGER_BACKEND"`

	// TicketSecret is the symmetric secret tickets are signed with. No default.
	TicketSecret string `mapstructure:"SSO_TICKET_SECRET"`
	// TicketIssuer is the iss claim of minted tickets.
	TicketIssuer string `mapstructure:"SSO_TICKET_ISSUER"`
	// TicketTTLRaw is the ticket lifetime (e.g. "60s").
	TicketTTLRaw string `mapstructure:"SSO_TICKET_TTL"`
	// SessionTTLRaw is the mini-app session lifetime (e.g. "30m").
	SessionTTLRaw string `mapstructure:"SSO_SESSION_TTL"`
	// ClockSkewRaw is the tolerated iat skew between minting and introspecting processes.
	ClockSkewRaw string `mapstructure:"SSO_CLOCK_SKEW"`

	// HostJWTPublicKey is the PEM (inline or path) verifying host access tokens (RS256/ES256).
	HostJWTPublicKey string `mapstructure:"HOST_JWT_PUBLIC_KEY"`
	// HostJWTIssuer is the expected iss of host access tokens.
	HostJWTIssuer string `mapstructure:"HOST_JWT_ISSUER"`
	// HostJWTAudience is the expected aud of host access tokens.
	HostJWTAudience string `mapstructure:"HOST_JWT_AUDIENCE"`

	// LaunchPolicyFile is an optional Rego file evaluated on session start.
	LaunchPolicyFile string `mapstructure:"LAUNCH_POLICY_FILE"`

	// KafkaBrokers is a comma-separated list of Kafka brokers for audit events. Empty disables Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the topic audit events are written to.
	AuditKafkaTopic string `mapstructure:"SSO_AUDIT_KAFKA_TOPIC"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext OTLP connection.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// SweepIntervalRaw is how often the worker deletes expired rows (e.g. "5m").
	SweepIntervalRaw string `mapstructure:"SWEEP_INTERVAL"`

	// CORSAllowedOrigins is a comma-separated list of origins allowed to call the API from a browser.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_USERNAME", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_BACKEND", BackendPostgres)
	v.SetDefault("LEDGER_BACKEND", BackendPostgres)
	v.SetDefault("SSO_TICKET_SECRET", "")
	v.SetDefault("SSO_TICKET_ISSUER", "miniapp-sso")
	v.SetDefault("SSO_TICKET_TTL", "60s")
	v.SetDefault("SSO_SESSION_TTL", "30m")
	v.SetDefault("SSO_CLOCK_SKEW", "5s")
	v.SetDefault("HOST_JWT_PUBLIC_KEY", "")
	v.SetDefault("HOST_JWT_ISSUER", "host-auth")
	v.SetDefault("HOST_JWT_AUDIENCE", "host-api")
	v.SetDefault("LAUNCH_POLICY_FILE", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SSO_AUDIT_KAFKA_TOPIC", "miniapp-sso-audit")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(c.TicketSecret) < MinTicketSecretLen {
		return fmt.Errorf("config: SSO_TICKET_SECRET must be at least %d bytes", MinTicketSecretLen)
	}
	if strings.TrimSpace(c.TicketIssuer) == "" {
		return errors.New("config: SSO_TICKET_ISSUER must be set")
	}
	for name, b := range map[string]string{"SESSION_BACKEND": c.SessionBackend, "LEDGER_BACKEND": c.LedgerBackend} {
		switch b {
		case BackendPostgres, BackendRedis, BackendMemory:
		default:
			return fmt.Errorf("config: %s must be postgres, redis or memory, got %q", name, b)
		}
	}
	if c.UsesBackend(BackendRedis) && c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR must be set when a redis backend is selected")
	}
	if c.Env == "production" && c.UsesBackend(BackendMemory) {
		return errors.New("config: memory backends must not be used when APP_ENV=production")
	}
	return nil
}

// UsesBackend reports whether either the session store or the ledger uses backend.
func (c *Config) UsesBackend(backend string) bool {
	return c.SessionBackend == backend || c.LedgerBackend == backend
}

// TicketTTL parses TicketTTLRaw. Returns 60s if unset or invalid.
func (c *Config) TicketTTL() time.Duration {
	return parseDuration(c.TicketTTLRaw, 60*time.Second)
}

// SessionTTL parses SessionTTLRaw. Returns 30m if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.SessionTTLRaw, 30*time.Minute)
}

// ClockSkew parses ClockSkewRaw. Returns 5s if unset or invalid; zero is allowed.
func (c *Config) ClockSkew() time.Duration {
	d, err := time.ParseDuration(c.ClockSkewRaw)
	if err != nil || d < 0 {
		return 5 * time.Second
	}
	return d
}

// SweepInterval parses SweepIntervalRaw. Returns 5m if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.SweepIntervalRaw, 5*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the configured CORS allow-list.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

// IsDevelopment reports whether APP_ENV is development or unset.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
