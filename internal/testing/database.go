// Package testing provides shared helpers for package tests.
package testing

import (
	"database/sql"
	"testing"

	"github.com/researchintegrity/elis-backend/db"
)

// CreateTestDB creates an in-memory SQLite test database with the full
// ELIS schema applied. Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// An in-memory database exists per connection; pin the pool to one
	// so concurrent goroutines share the same schema.
	conn.SetMaxOpenConns(1)

	if err := db.Migrate(conn, nil); err != nil {
		conn.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
