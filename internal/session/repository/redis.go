package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"miniapp-sso/backend/internal/session/domain"
)

const redisKeyPrefix = "miniapp:session:"

type sessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AppID     string    `json:"app_id"`
	AppOrigin string    `json:"app_origin"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisRepository stores sessions as JSON values keyed by nonce hash, expiring with the session.
type RedisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository returns a session repository backed by client.
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

// Create stores the session with SET NX so a nonce hash can never be overwritten.
func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(sessionRecord{
		ID: s.ID, UserID: s.UserID, AppID: s.AppID, AppOrigin: s.AppOrigin,
		ExpiresAt: s.ExpiresAt, CreatedAt: s.CreatedAt,
	})
	if err != nil {
		return err
	}
	ttl, err := sessionTTL(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+s.NonceHash, data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateNonce
	}
	return nil
}

// sessionTTL is the key lifetime, taken from the session's own timestamps so the
// caller's clock decides it. Without CreatedAt it falls back to the wall clock.
func sessionTTL(s *domain.Session) (time.Duration, error) {
	var ttl time.Duration
	if s.CreatedAt.IsZero() {
		ttl = time.Until(s.ExpiresAt)
	} else {
		ttl = s.ExpiresAt.Sub(s.CreatedAt)
	}
	if ttl <= 0 {
		return 0, errors.New("session already expired")
	}
	return ttl, nil
}

// GetValid loads the session and re-checks expiry against now; Redis TTLs are not trusted for correctness.
func (r *RedisRepository) GetValid(ctx context.Context, nonceHash string, now time.Time) (*domain.Session, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+nonceHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	s := &domain.Session{
		ID: rec.ID, UserID: rec.UserID, AppID: rec.AppID, NonceHash: nonceHash,
		AppOrigin: rec.AppOrigin, ExpiresAt: rec.ExpiresAt, CreatedAt: rec.CreatedAt,
	}
	if s.ExpiredAt(now) {
		return nil, nil
	}
	return s, nil
}

// DeleteExpired is a no-op: Redis evicts session keys when their TTL elapses.
func (r *RedisRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
