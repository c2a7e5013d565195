package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "miniapp-sso"

// Metrics holds the SSO counters. A nil *Metrics records nothing.
type Metrics struct {
	sessionsStarted metric.Int64Counter
	ticketsIssued   metric.Int64Counter
	introspections  metric.Int64Counter
}

// NewMetrics creates the counters on provider's meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	sessions, err := meter.Int64Counter("miniapp_sso.sessions.started",
		metric.WithDescription("Mini-app session start attempts by outcome"))
	if err != nil {
		return nil, err
	}
	tickets, err := meter.Int64Counter("miniapp_sso.tickets.issued",
		metric.WithDescription("Ticket requests by outcome"))
	if err != nil {
		return nil, err
	}
	introspections, err := meter.Int64Counter("miniapp_sso.introspections",
		metric.WithDescription("Ticket introspections by verdict"))
	if err != nil {
		return nil, err
	}
	return &Metrics{sessionsStarted: sessions, ticketsIssued: tickets, introspections: introspections}, nil
}

// SessionStarted counts a session start; outcome is "ok" or a rejection name.
func (m *Metrics) SessionStarted(ctx context.Context, appID, outcome string) {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_id", appID), attribute.String("outcome", outcome)))
}

// TicketIssued counts a ticket request; outcome is "ok" or a rejection name.
func (m *Metrics) TicketIssued(ctx context.Context, appID, outcome string) {
	if m == nil {
		return
	}
	m.ticketsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_id", appID), attribute.String("outcome", outcome)))
}

// Introspection counts one introspection verdict.
func (m *Metrics) Introspection(ctx context.Context, valid bool, reason string) {
	if m == nil {
		return
	}
	m.introspections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("valid", strconv.FormatBool(valid)), attribute.String("reason", reason)))
}
