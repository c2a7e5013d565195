package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"miniapp-sso/backend/internal/miniapp/domain"
)

const getAppQuery = `
SELECT id, name, status, launch_mode, origin, launch_url,
       allowed_origins, allowed_post_message_origins, allowed_start_url_patterns,
       scopes, sso_mode, created_at, updated_at
FROM mini_apps
WHERE id = $1`

const upsertAppQuery = `
INSERT INTO mini_apps (id, name, status, launch_mode, origin, launch_url,
       allowed_origins, allowed_post_message_origins, allowed_start_url_patterns,
       scopes, sso_mode, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
       name = EXCLUDED.name,
       status = EXCLUDED.status,
       launch_mode = EXCLUDED.launch_mode,
       origin = EXCLUDED.origin,
       launch_url = EXCLUDED.launch_url,
       allowed_origins = EXCLUDED.allowed_origins,
       allowed_post_message_origins = EXCLUDED.allowed_post_message_origins,
       allowed_start_url_patterns = EXCLUDED.allowed_start_url_patterns,
       scopes = EXCLUDED.scopes,
       sso_mode = EXCLUDED.sso_mode,
       updated_at = EXCLUDED.updated_at`

// PostgresRepository reads apps from the mini_apps projection table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a registry that reads from db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetApp returns the app for appID, or nil if not found.
// It returns an error only for database or decoding failures, not for missing rows.
func (r *PostgresRepository) GetApp(ctx context.Context, appID string) (*domain.App, error) {
	var (
		a                                    domain.App
		status, launchMode                   string
		origins, pmOrigins, patterns, scopes []byte
	)
	err := r.db.QueryRowContext(ctx, getAppQuery, appID).Scan(
		&a.ID, &a.Name, &status, &launchMode, &a.Origin, &a.LaunchURL,
		&origins, &pmOrigins, &patterns, &scopes, &a.SSOMode, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Status = domain.AppStatus(status)
	a.LaunchMode = domain.LaunchMode(launchMode)
	if err := decodeJSON(origins, &a.AllowedOrigins); err != nil {
		return nil, fmt.Errorf("app %s allowed_origins: %w", appID, err)
	}
	if err := decodeJSON(pmOrigins, &a.AllowedPostMessageOrigins); err != nil {
		return nil, fmt.Errorf("app %s allowed_post_message_origins: %w", appID, err)
	}
	if err := decodeJSON(patterns, &a.AllowedStartURLPatterns); err != nil {
		return nil, fmt.Errorf("app %s allowed_start_url_patterns: %w", appID, err)
	}
	if err := decodeJSON(scopes, &a.Scopes); err != nil {
		return nil, fmt.Errorf("app %s scopes: %w", appID, err)
	}
	return &a, nil
}

// Upsert writes the app row. The SSO core never calls it; cmd/seed does.
func (r *PostgresRepository) Upsert(ctx context.Context, a *domain.App) error {
	args := []any{a.ID, a.Name, string(a.Status), string(a.LaunchMode), a.Origin, a.LaunchURL}
	for _, v := range []any{a.AllowedOrigins, a.AllowedPostMessageOrigins, a.AllowedStartURLPatterns, a.Scopes} {
		b, err := encodeJSON(v)
		if err != nil {
			return err
		}
		args = append(args, b)
	}
	args = append(args, a.SSOMode, a.CreatedAt, a.UpdatedAt)
	_, err := r.db.ExecContext(ctx, upsertAppQuery, args...)
	return err
}

func decodeJSON(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// encodeJSON marshals v, mapping nil slices to an empty JSON array.
func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}
