// Package dbtest opens migrated throwaway SQLite databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/goSession/internal/db"
)

// Open returns a migrated database living in t.TempDir.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gosession.db")

	conn, err := db.Open(ctx, db.DriverSQLite, "file:"+path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	return conn
}
