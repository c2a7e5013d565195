// Package service implements ticket issuance from a validated mini-app session and
// single-use ticket introspection.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appdomain "miniapp-sso/backend/internal/miniapp/domain"
	"miniapp-sso/backend/internal/origin"
	"miniapp-sso/backend/internal/security"
	sessiondomain "miniapp-sso/backend/internal/session/domain"
	"miniapp-sso/backend/internal/ticket/domain"
	"miniapp-sso/backend/internal/ticket/repository"
)

// Sentinel errors for ticket requests; the handler maps them to HTTP statuses.
var (
	ErrMissingFields         = errors.New("appId and sessionNonce are required")
	ErrAppNotFound           = errors.New("app not found")
	ErrAppNotActive          = errors.New("app is not active")
	ErrInvalidSession        = errors.New("invalid session")
	ErrSessionOriginMismatch = errors.New("session origin does not match app origin")
)

// AppRegistry is the read-only app lookup needed by the issuer.
type AppRegistry interface {
	GetApp(ctx context.Context, appID string) (*appdomain.App, error)
}

// SessionValidator resolves a session nonce to a live session, or (nil, nil).
type SessionValidator interface {
	Validate(ctx context.Context, nonce string) (*sessiondomain.Session, error)
}

// IssuedTicket is returned to the mini-app.
type IssuedTicket struct {
	Ticket    string
	ExpiresIn int
	JTI       string
}

// Issuer mints tickets for callers holding a valid session.
type Issuer struct {
	apps     AppRegistry
	sessions SessionValidator
	signer   *security.TicketSigner
	ledger   repository.Repository
	now      func() time.Time
}

// NewIssuer returns an Issuer. signer must be the same signing context the Introspector uses.
func NewIssuer(apps AppRegistry, sessions SessionValidator, signer *security.TicketSigner, ledger repository.Repository) *Issuer {
	return &Issuer{apps: apps, sessions: sessions, signer: signer, ledger: ledger, now: time.Now}
}

// RequestTicket validates the session behind nonce and mints a ticket for userID on appID.
// The ledger entry is persisted before the ticket is returned; if that fails no ticket is returned.
func (s *Issuer) RequestTicket(ctx context.Context, userID, appID, nonce string) (*IssuedTicket, error) {
	if appID == "" || nonce == "" {
		return nil, ErrMissingFields
	}
	app, err := s.apps.GetApp(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	if app == nil {
		return nil, ErrAppNotFound
	}
	if !app.IsActive() {
		return nil, ErrAppNotActive
	}
	sess, err := s.sessions.Validate(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if sess == nil || sess.UserID != userID || sess.AppID != app.ID {
		return nil, ErrInvalidSession
	}
	// Compared as normalized origins so host case and default ports do not matter.
	if !origin.SameOrigin(sess.AppOrigin, app.Origin) {
		return nil, ErrSessionOriginMismatch
	}

	signed, err := s.signer.Sign(userID, app.ID, app.Scopes, app.Origin)
	if err != nil {
		return nil, fmt.Errorf("sign ticket: %w", err)
	}
	entry := &domain.LedgerEntry{
		ID:        uuid.New().String(),
		JTI:       signed.JTI,
		UserID:    userID,
		AppID:     app.ID,
		ExpiresAt: signed.ExpiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.ledger.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}
	return &IssuedTicket{
		Ticket:    signed.Token,
		ExpiresIn: int(s.signer.TTL() / time.Second),
		JTI:       signed.JTI,
	}, nil
}
