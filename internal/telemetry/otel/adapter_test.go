package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"miniapp-sso/backend/internal/telemetry/domain"
)

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec   otellog.Record
	calls int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.calls++
}

func attrs(rec otellog.Record) map[string]string {
	out := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), &domain.Event{Type: "x"}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestNewEventEmitter_Provider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventSessionStarted}); err != nil {
		t.Errorf("Emit: %v", err)
	}
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(nil): %v", err)
	}
}

func TestEmit_AttributeMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := &domain.Event{
		ID: "e1", Type: domain.EventTicketIssued, UserID: "u1", AppID: "app-1",
		JTI: "j1", Source: "miniapp-sso", CreatedAt: created,
	}
	if err := em.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if cap.calls != 1 {
		t.Fatalf("calls = %d, want 1", cap.calls)
	}
	if !cap.rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", cap.rec.Timestamp(), created)
	}
	if cap.rec.Body().AsString() != domain.EventTicketIssued {
		t.Errorf("body = %q", cap.rec.Body().AsString())
	}
	if cap.rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want info", cap.rec.Severity())
	}
	got := attrs(cap.rec)
	want := map[string]string{
		"event_id": "e1", "event_type": domain.EventTicketIssued, "user_id": "u1",
		"app_id": "app-1", "jti": "j1", "source": "miniapp-sso",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %s = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["reason"]; ok {
		t.Error("empty reason should not be recorded")
	}
}

func TestEmit_RejectionIsWarn(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	_ = em.Emit(context.Background(), &domain.Event{Type: domain.EventTicketRejected, Reason: "invalid session"})
	if cap.rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", cap.rec.Severity())
	}
	if attrs(cap.rec)["reason"] != "invalid session" {
		t.Error("reason attribute missing")
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().UTC()
	_ = em.Emit(context.Background(), &domain.Event{Type: "x"})
	if cap.rec.Timestamp().Before(before) {
		t.Errorf("timestamp %v before %v", cap.rec.Timestamp(), before)
	}
}
