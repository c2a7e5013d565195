// Package service implements the mini-app session registry: starting sessions for
// embeddable apps and validating the nonces handed to them.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appdomain "miniapp-sso/backend/internal/miniapp/domain"
	"miniapp-sso/backend/internal/origin"
	policyengine "miniapp-sso/backend/internal/policy/engine"
	"miniapp-sso/backend/internal/security"
	"miniapp-sso/backend/internal/session/domain"
	"miniapp-sso/backend/internal/session/repository"
)

// DefaultTTL is the lifetime of a mini-app session.
const DefaultTTL = 30 * time.Minute

// nonceAttempts bounds retries on a nonce hash collision.
const nonceAttempts = 3

// Sentinel errors for session start; the handler maps them to HTTP statuses.
var (
	ErrAppNotFound        = errors.New("app not found")
	ErrAppNotActive       = errors.New("app is not active")
	ErrIframeNotSupported = errors.New("app does not support iframe mode")
	ErrStartURLNotAllowed = errors.New("start url not allowed")
	ErrLaunchDenied       = errors.New("launch denied by policy")
)

// AppRegistry is the read-only app lookup needed by the registry.
type AppRegistry interface {
	GetApp(ctx context.Context, appID string) (*appdomain.App, error)
}

// LaunchPolicy decides whether a user may launch an app after the static checks pass.
type LaunchPolicy interface {
	EvaluateLaunch(ctx context.Context, in policyengine.LaunchInput) (policyengine.LaunchDecision, error)
}

// StartResult is returned to the host page after a successful Start.
type StartResult struct {
	SessionID                 string
	AppID                     string
	SessionNonce              string
	Origin                    string
	StartURL                  string
	AllowedPostMessageOrigins []string
	ExpiresAt                 time.Time
}

// Registry issues and validates session nonces.
type Registry struct {
	apps     AppRegistry
	sessions repository.Repository
	policy   LaunchPolicy
	ttl      time.Duration
	now      func() time.Time
	newNonce func() (string, error)
}

// NewRegistry returns a Registry. policy may be nil to skip the launch policy gate.
// A non-positive ttl uses DefaultTTL.
func NewRegistry(apps AppRegistry, sessions repository.Repository, policy LaunchPolicy, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		apps:     apps,
		sessions: sessions,
		policy:   policy,
		ttl:      ttl,
		now:      time.Now,
		newNonce: security.NewSessionNonce,
	}
}

// WithClock returns a copy of r that reads time from now.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	cp := *r
	cp.now = now
	return &cp
}

// Start opens a session for userID on appID. Preconditions are checked in order and
// each failure has its own sentinel; nothing is persisted unless all pass.
func (r *Registry) Start(ctx context.Context, userID, appID string) (*StartResult, error) {
	app, err := r.apps.GetApp(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	if app == nil {
		return nil, ErrAppNotFound
	}
	if !app.IsActive() {
		return nil, ErrAppNotActive
	}
	if !app.SupportsIframe() {
		return nil, ErrIframeNotSupported
	}
	if app.LaunchURL != "" && !origin.IsAllowedStartURL(app, app.LaunchURL) {
		return nil, ErrStartURLNotAllowed
	}
	startURL := app.LaunchURL
	if startURL == "" {
		startURL = app.Origin + "/"
	}
	if r.policy != nil {
		decision, err := r.policy.EvaluateLaunch(ctx, policyengine.LaunchInput{
			UserID:    userID,
			AppID:     app.ID,
			AppOrigin: app.Origin,
			Scopes:    app.Scopes,
			SSOMode:   app.SSOMode,
			StartURL:  startURL,
		})
		if err != nil || !decision.Allow {
			return nil, ErrLaunchDenied
		}
	}

	now := r.now().UTC()
	for attempt := 1; ; attempt++ {
		nonce, err := r.newNonce()
		if err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		s := &domain.Session{
			ID:        uuid.New().String(),
			UserID:    userID,
			AppID:     app.ID,
			NonceHash: security.HashNonce(nonce),
			AppOrigin: app.Origin,
			ExpiresAt: now.Add(r.ttl),
			CreatedAt: now,
		}
		err = r.sessions.Create(ctx, s)
		if errors.Is(err, repository.ErrDuplicateNonce) && attempt < nonceAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return &StartResult{
			SessionID:                 s.ID,
			AppID:                     app.ID,
			SessionNonce:              nonce,
			Origin:                    app.Origin,
			StartURL:                  startURL,
			AllowedPostMessageOrigins: append([]string{}, app.AllowedPostMessageOrigins...),
			ExpiresAt:                 s.ExpiresAt,
		}, nil
	}
}

// Validate returns the session for nonce, or (nil, nil) when it is unknown or expired.
// Expiry is evaluated here, at read time.
func (r *Registry) Validate(ctx context.Context, nonce string) (*domain.Session, error) {
	if nonce == "" {
		return nil, nil
	}
	s, err := r.sessions.GetValid(ctx, security.HashNonce(nonce), r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil || s.ExpiredAt(r.now()) {
		return nil, nil
	}
	return s, nil
}
