package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB opens a fresh on-disk SQLite database in a temp directory (not
// :memory:) with foreign keys enabled, since foreign-key cascade behavior is
// part of what these tests exercise, and returns it with its file path and a
// cleanup func.
func testDB(t *testing.T) (*sql.DB, string, func()) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=ON")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("ping test db: %v", err)
	}

	return db, path, func() { _ = db.Close() }
}
