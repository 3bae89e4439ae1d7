package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_RunsMigrations(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(StoreConfig{Path: filepath.Join(dir, "clipvault.db")})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping())

	var count int
	err = store.DB().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='embeddings'",
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_GetStmt_CachesPreparedStatements(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(StoreConfig{Path: filepath.Join(dir, "clipvault.db")})
	require.NoError(t, err)
	defer store.Close()

	stmt1, err := store.GetStmt("SELECT 1")
	require.NoError(t, err)
	stmt2, err := store.GetStmt("SELECT 1")
	require.NoError(t, err)
	assert.Same(t, stmt1, stmt2)
}

func TestStore_ExecQueryContext(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(StoreConfig{Path: filepath.Join(dir, "clipvault.db")})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.ExecContext(ctx, "INSERT INTO clipboard_items (id, text, created_at_epoch) VALUES (1, 'hi', 1)")
	require.NoError(t, err)

	row := store.QueryRowContext(ctx, "SELECT text FROM clipboard_items WHERE id = ?", 1)
	var text string
	require.NoError(t, row.Scan(&text))
	assert.Equal(t, "hi", text)
}

func TestStore_Close_ClosesCachedStatements(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(StoreConfig{Path: filepath.Join(dir, "clipvault.db")})
	require.NoError(t, err)

	_, err = store.GetStmt("SELECT 1")
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.Nil(t, store.stmtCache)
}
