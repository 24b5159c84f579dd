// Package testutil provides shared fixtures: rows, a seeded SQLite database
// and fake build tools for the compile pipeline.
package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

// Schema is the sales table used by tabular and end-to-end tests.
const Schema = `
CREATE TABLE sales (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	region TEXT,
	product TEXT NOT NULL,
	amount REAL,
	qty INTEGER NOT NULL DEFAULT 1,
	note TEXT
);
`

// NewTestDB opens an in-memory database with Schema applied.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)
	return db
}
