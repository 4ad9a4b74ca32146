// Package testutil provides test utilities and fixtures for the proxy.
package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/user/pmb-go/internal/database"
)

// NewTestDB creates an in-memory SQLite database with the full schema.
// The database is closed when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:?_foreign_keys=ON")
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.RunMigrations(db), "failed to run migrations")
	return db
}

// SeedTemplates inserts sample request templates.
func SeedTemplates(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO request_templates (id, name, method, url, headers, body, created, last_saved)
		VALUES
			('tpl-1', 'login probe', 'POST', 'http://target.test/login',
			 '{"Content-Type":"application/x-www-form-urlencoded"}', 'user=admin&pass=admin',
			 '2026-01-02T10:00:00Z', '2026-01-02T10:00:00Z'),
			('tpl-2', 'api listing', 'GET', 'http://target.test/api/items',
			 '{}', '', '2026-01-03T11:00:00Z', '2026-01-04T12:00:00Z')
	`)
	require.NoError(t, err)
}
