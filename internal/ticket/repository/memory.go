package repository

import (
	"context"
	"sync"
	"time"

	"miniapp-sso/backend/internal/ticket/domain"
)

// MemoryRepository is an in-memory ledger for tests and single-process development.
// TryMarkUsed is atomic within the process only.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]domain.LedgerEntry
}

// NewMemoryRepository returns an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.LedgerEntry)}
}

func (r *MemoryRepository) Create(ctx context.Context, e *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[e.JTI]; ok {
		return ErrDuplicateJTI
	}
	cp := *e
	cp.Used = false
	cp.UsedAt = nil
	r.m[e.JTI] = cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, jti string) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[jti]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *MemoryRepository) TryMarkUsed(ctx context.Context, jti string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[jti]
	if !ok || e.Used || e.ExpiredAt(now) {
		return false, nil
	}
	e.Used = true
	e.UsedAt = &now
	r.m[jti] = e
	return true, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, e := range r.m {
		if e.ExpiresAt.Before(before) {
			delete(r.m, k)
			n++
		}
	}
	return n, nil
}
