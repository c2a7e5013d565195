// Package producer defines the interface for publishing audit events to a broker (e.g. Kafka).
package producer

import (
	"context"

	"miniapp-sso/backend/internal/telemetry/domain"
)

// Producer publishes audit events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call through telemetry.EmitAsync.
	Emit(ctx context.Context, event *domain.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
