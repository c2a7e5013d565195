package domain

import "time"

// Event types emitted by the SSO flow.
const (
	EventSessionStarted     = "session_started"
	EventSessionRejected    = "session_rejected"
	EventTicketIssued       = "ticket_issued"
	EventTicketRejected     = "ticket_rejected"
	EventTicketIntrospected = "ticket_introspected"
	EventIntrospectRejected = "ticket_introspect_rejected"
)

// Event is one audit/telemetry record. Optional fields are empty when not applicable.
// It never carries session nonces or ticket bodies.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"event_type"`
	UserID    string    `json:"user_id,omitempty"`
	AppID     string    `json:"app_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	JTI       string    `json:"jti,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
