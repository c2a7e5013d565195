package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miniapp-sso/backend/internal/session/domain"
)

func TestMemoryRepository_CreateAndGetValid(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository()
	s := &domain.Session{ID: "s1", UserID: "u1", AppID: "app-1", NonceHash: "h1", ExpiresAt: now.Add(30 * time.Minute)}
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.GetValid(ctx, "h1", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)

	got, err = repo.GetValid(ctx, "h1", now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got, "session is invalid at its expiry instant")
	assert.Equal(t, 1, repo.Len(), "expired session stays stored until swept")

	got, err = repo.GetValid(ctx, "missing", now)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryRepository_DuplicateNonce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &domain.Session{ID: "s1", NonceHash: "h1", ExpiresAt: time.Now().Add(time.Minute)}))

	err := repo.Create(ctx, &domain.Session{ID: "s2", NonceHash: "h1", ExpiresAt: time.Now().Add(time.Minute)})
	assert.ErrorIs(t, err, ErrDuplicateNonce)
}

func TestMemoryRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &domain.Session{ID: "old", NonceHash: "h-old", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, repo.Create(ctx, &domain.Session{ID: "new", NonceHash: "h-new", ExpiresAt: now.Add(time.Hour)}))

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, repo.Len())
}
