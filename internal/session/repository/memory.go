package repository

import (
	"context"
	"sync"
	"time"

	"miniapp-sso/backend/internal/session/domain"
)

// MemoryRepository is an in-memory Repository for tests and single-process development.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]domain.Session
}

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Session)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[s.NonceHash]; ok {
		return ErrDuplicateNonce
	}
	r.m[s.NonceHash] = *s
	return nil
}

func (r *MemoryRepository) GetValid(ctx context.Context, nonceHash string, now time.Time) (*domain.Session, error) {
	r.mu.RLock()
	s, ok := r.m[nonceHash]
	r.mu.RUnlock()
	if !ok || s.ExpiredAt(now) {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, s := range r.m {
		if s.ExpiresAt.Before(before) {
			delete(r.m, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
