// Package audit records SSO audit events. Recording is best-effort and never
// changes the outcome of the request that produced the event.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"miniapp-sso/backend/internal/telemetry"
	"miniapp-sso/backend/internal/telemetry/domain"
)

// Source is stamped on every event this service emits.
const Source = "miniapp-sso"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. Used by the HTTP handlers.
type AuditLogger interface {
	LogEvent(ctx context.Context, ev domain.Event)
}

// Logger implements AuditLogger with a zerolog line per event plus an optional
// asynchronous emitter (Kafka, OTel logs).
type Logger struct {
	log         zerolog.Logger
	emitter     telemetry.EventEmitter
	ipExtractor IPExtractor
	now         func() time.Time
}

// NewLogger returns a Logger. emitter and ipExtractor may be nil; then events are
// only logged and the IP is recorded as "unknown".
func NewLogger(log zerolog.Logger, emitter telemetry.EventEmitter, ipExtractor IPExtractor) *Logger {
	return &Logger{log: log, emitter: emitter, ipExtractor: ipExtractor, now: time.Now}
}

// LogEvent fills ID, Source, ClientIP and CreatedAt when empty, logs the event
// and hands it to the emitter without waiting.
func (l *Logger) LogEvent(ctx context.Context, ev domain.Event) {
	if l == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Source == "" {
		ev.Source = Source
	}
	if ev.ClientIP == "" {
		ev.ClientIP = "unknown"
		if l.ipExtractor != nil {
			if ip := l.ipExtractor(ctx); ip != "" {
				ev.ClientIP = ip
			}
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now().UTC()
	}

	level := zerolog.InfoLevel
	if ev.Reason != "" {
		level = zerolog.WarnLevel
	}
	e := l.log.WithLevel(level).Str("event_id", ev.ID).Str("event_type", ev.Type).Str("client_ip", ev.ClientIP)
	if ev.UserID != "" {
		e = e.Str("user_id", ev.UserID)
	}
	if ev.AppID != "" {
		e = e.Str("app_id", ev.AppID)
	}
	if ev.SessionID != "" {
		e = e.Str("session_id", ev.SessionID)
	}
	if ev.JTI != "" {
		e = e.Str("jti", ev.JTI)
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	e.Msg("audit")

	telemetry.EmitAsync(ctx, l.emitter, &ev)
}
