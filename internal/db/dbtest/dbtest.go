// Package dbtest opens a migrated Postgres database for repository tests.
package dbtest

import (
	"database/sql"
	"errors"
	"os"
	"testing"

	"miniapp-sso/backend/internal/db"
	"miniapp-sso/backend/internal/db/migrate"
)

// EnvDSN names the variable holding the test database DSN.
const EnvDSN = "TEST_DATABASE_URL"

// Open connects to TEST_DATABASE_URL and applies the embedded migrations, or skips
// the test when the variable is unset. The connection is closed on cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skip(EnvDSN + " not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
