package repository

import (
	"context"
	"errors"
	"time"

	"miniapp-sso/backend/internal/session/domain"
)

// ErrDuplicateNonce is returned by Create when the nonce hash already exists.
var ErrDuplicateNonce = errors.New("session nonce already exists")

// Repository defines persistence for mini-app sessions.
type Repository interface {
	// Create persists s. The session must have ID and NonceHash set.
	Create(ctx context.Context, s *domain.Session) error
	// GetValid returns the session with nonceHash if it exists and ExpiresAt > now; otherwise (nil, nil).
	// Expired rows may still exist physically and are never returned.
	GetValid(ctx context.Context, nonceHash string, now time.Time) (*domain.Session, error)
	// DeleteExpired removes sessions with ExpiresAt < before and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
