package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"miniapp-sso/backend/internal/session/domain"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session. A nonce hash collision returns ErrDuplicateNonce.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO miniapp_sessions (id, user_id, app_id, nonce_hash, app_origin, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.AppID, s.NonceHash, s.AppOrigin, s.ExpiresAt, s.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateNonce
	}
	return err
}

// GetValid returns the unexpired session for nonceHash, or nil if not found or expired.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetValid(ctx context.Context, nonceHash string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRowContext(ctx, `
SELECT id, user_id, app_id, nonce_hash, app_origin, expires_at, created_at
FROM miniapp_sessions
WHERE nonce_hash = $1 AND expires_at > $2`, nonceHash, now).Scan(
		&s.ID, &s.UserID, &s.AppID, &s.NonceHash, &s.AppOrigin, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// DeleteExpired removes sessions that expired before the given time.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM miniapp_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
