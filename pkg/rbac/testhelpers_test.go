package rbac

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens an in-memory SQLite database with the rbac tables.
// A single connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE functional_areas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			permissions TEXT NOT NULL DEFAULT '[]',
			functional_area_id TEXT REFERENCES functional_areas(id),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE profile_assignments (
			principal_id TEXT NOT NULL,
			profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			granted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (principal_id, profile_id)
		);

		CREATE TABLE admin_roles (
			principal_id TEXT PRIMARY KEY,
			granted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewStore(setupTestDB(t), logger)
}
