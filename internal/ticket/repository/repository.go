package repository

import (
	"context"
	"errors"
	"time"

	"miniapp-sso/backend/internal/ticket/domain"
)

// ErrDuplicateJTI is returned by Create when an entry with the same jti exists.
var ErrDuplicateJTI = errors.New("ticket jti already exists")

// Repository defines persistence for the ticket ledger.
type Repository interface {
	// Create persists a new, unused entry.
	Create(ctx context.Context, e *domain.LedgerEntry) error
	// Get returns the entry for jti, or (nil, nil) when none exists.
	Get(ctx context.Context, jti string) (*domain.LedgerEntry, error)
	// TryMarkUsed flips used from false to true for jti when the entry exists,
	// is unused and ExpiresAt > now. It is a single atomic conditional write:
	// across any number of concurrent callers and processes, at most one gets true.
	TryMarkUsed(ctx context.Context, jti string, now time.Time) (bool, error)
	// DeleteExpired removes entries with ExpiresAt < before and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
