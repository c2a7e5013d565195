package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"miniapp-sso/backend/internal/ticket/domain"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a ledger repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the entry with used = false.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sso_tickets (id, jti, user_id, app_id, expires_at, used, created_at)
VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		e.ID, e.JTI, e.UserID, e.AppID, e.ExpiresAt, e.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateJTI
	}
	return err
}

// Get returns the entry by jti, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, jti string) (*domain.LedgerEntry, error) {
	var (
		e      domain.LedgerEntry
		usedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, jti, user_id, app_id, expires_at, used, used_at, created_at
FROM sso_tickets WHERE jti = $1`, jti).Scan(
		&e.ID, &e.JTI, &e.UserID, &e.AppID, &e.ExpiresAt, &e.Used, &usedAt, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		e.UsedAt = &t
	}
	return &e, nil
}

// TryMarkUsed is one conditional UPDATE; the row lock taken by Postgres serializes
// concurrent callers, and only the first sees used = FALSE.
func (r *PostgresRepository) TryMarkUsed(ctx context.Context, jti string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE sso_tickets SET used = TRUE, used_at = $2
WHERE jti = $1 AND used = FALSE AND expires_at > $2`, jti, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpired removes ledger entries that expired before the given time.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sso_tickets WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
