package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"miniapp-sso/backend/internal/ticket/domain"
)

const redisKeyPrefix = "miniapp:ticket:"

// RedisRetention keeps ledger hashes readable for a while after expiry so late
// introspections still find them.
const RedisRetention = 5 * time.Minute

// createScript writes the hash only when the key is absent and sets its expiry.
// ARGV: id, user_id, app_id, expires_at_ms, created_at_ms, pexpire_ms.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'user_id', ARGV[2], 'app_id', ARGV[3],
  'expires_at', ARGV[4], 'created_at', ARGV[5], 'used', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

// markUsedScript is the compare-and-swap on the used field. ARGV: now_ms.
var markUsedScript = redis.NewScript(`
local vals = redis.call('HMGET', KEYS[1], 'used', 'expires_at')
if not vals[1] or vals[1] ~= '0' then
  return 0
end
if tonumber(vals[2]) <= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1])
return 1
`)

// RedisRepository stores ledger entries as hashes; Lua scripts make create and
// mark-used atomic on the server.
type RedisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository returns a ledger repository backed by client.
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Create(ctx context.Context, e *domain.LedgerEntry) error {
	ok, err := createScript.Run(ctx, r.client, []string{redisKeyPrefix + e.JTI},
		e.ID, e.UserID, e.AppID,
		e.ExpiresAt.UnixMilli(), e.CreatedAt.UnixMilli(),
		keyLifetime(e).Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if ok != 1 {
		return ErrDuplicateJTI
	}
	return nil
}

// keyLifetime is the ticket lifetime plus RedisRetention, measured from the
// entry's own CreatedAt so the caller's clock decides it.
func keyLifetime(e *domain.LedgerEntry) time.Duration {
	var d time.Duration
	if e.CreatedAt.IsZero() {
		d = time.Until(e.ExpiresAt)
	} else {
		d = e.ExpiresAt.Sub(e.CreatedAt)
	}
	if d < 0 {
		d = 0
	}
	return d + RedisRetention
}

func (r *RedisRepository) Get(ctx context.Context, jti string) (*domain.LedgerEntry, error) {
	m, err := r.client.HGetAll(ctx, redisKeyPrefix+jti).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	e := &domain.LedgerEntry{
		ID:     m["id"],
		JTI:    jti,
		UserID: m["user_id"],
		AppID:  m["app_id"],
		Used:   m["used"] == "1",
	}
	if e.ExpiresAt, err = parseMillis(m["expires_at"]); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseMillis(m["created_at"]); err != nil {
		return nil, err
	}
	if raw, ok := m["used_at"]; ok {
		t, err := parseMillis(raw)
		if err != nil {
			return nil, err
		}
		e.UsedAt = &t
	}
	return e, nil
}

func (r *RedisRepository) TryMarkUsed(ctx context.Context, jti string, now time.Time) (bool, error) {
	n, err := markUsedScript.Run(ctx, r.client, []string{redisKeyPrefix + jti}, now.UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpired is a no-op: keys carry their own PEXPIRE.
func (r *RedisRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("ledger: malformed timestamp " + strconv.Quote(s))
	}
	return time.UnixMilli(ms).UTC(), nil
}
