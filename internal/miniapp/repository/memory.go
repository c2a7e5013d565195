package repository

import (
	"context"
	"sync"

	"miniapp-sso/backend/internal/miniapp/domain"
)

// MemoryRepository is an in-memory Registry used in tests and local development.
type MemoryRepository struct {
	mu   sync.RWMutex
	apps map[string]domain.App
}

// NewMemoryRepository returns a registry preloaded with apps.
func NewMemoryRepository(apps ...*domain.App) *MemoryRepository {
	r := &MemoryRepository{apps: make(map[string]domain.App, len(apps))}
	for _, a := range apps {
		r.Put(a)
	}
	return r
}

// Put stores a copy of a, replacing any app with the same ID.
func (r *MemoryRepository) Put(a *domain.App) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[a.ID] = *a
}

// GetApp returns a copy of the app so callers cannot mutate registry state.
func (r *MemoryRepository) GetApp(ctx context.Context, appID string) (*domain.App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[appID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
