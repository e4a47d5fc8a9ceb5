// Package dbtest provides a migrated in-memory store for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/maheshrc27/postqueue/internal/database"
	"github.com/stretchr/testify/require"
)

// New returns a fresh, migrated SQLite database that is closed when t finishes.
func New(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}
