package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), Config{Path: filepath.Join(dir, "sena.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	var version int
	err := s.FetchOne(context.Background(),
		"SELECT COALESCE(MAX(version), 0) FROM schema_version", nil,
		func(row *sql.Row) error { return row.Scan(&version) },
	)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestStore_InsertAndFetchOne(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "long_term_memory", map[string]any{
		"id":         "mem-1",
		"content":    "prefers dark mode",
		"category":   "preference",
		"importance": 7,
		"created_at": time.Now().UTC(),
		"updated_at": time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id) // a TEXT primary key does not stop SQLite assigning a rowid; first row gets 1

	var content string
	err = s.FetchOne(ctx, "SELECT content FROM long_term_memory WHERE id = ?", []any{"mem-1"},
		func(row *sql.Row) error { return row.Scan(&content) },
	)
	require.NoError(t, err)
	assert.Equal(t, "prefers dark mode", content)
}

func TestStore_FetchOne_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var content string
	err := s.FetchOne(ctx, "SELECT content FROM long_term_memory WHERE id = ?", []any{"missing"},
		func(row *sql.Row) error { return row.Scan(&content) },
	)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_IntegrityViolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "extensions_registry", map[string]any{
		"name":       "core",
		"enabled":    1,
		"updated_at": time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = s.Insert(ctx, "extensions_registry", map[string]any{
		"name":       "core",
		"enabled":    1,
		"updated_at": time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestStore_Transaction_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO extensions_registry (name, enabled, updated_at) VALUES (?, ?, ?)",
			"rollback-me", 1, time.Now().UTC(),
		); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	fetchErr := s.FetchOne(ctx, "SELECT COUNT(*) FROM extensions_registry WHERE name = ?",
		[]any{"rollback-me"}, func(row *sql.Row) error { return row.Scan(&count) },
	)
	require.NoError(t, fetchErr)
	assert.Zero(t, count)
}

func TestStore_FetchAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"ext-a", "ext-b"} {
		_, err := s.Insert(ctx, "extensions_registry", map[string]any{
			"name": name, "enabled": 1, "updated_at": time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	var names []string
	err := s.FetchAll(ctx, "SELECT name FROM extensions_registry ORDER BY name", nil,
		func(rows *sql.Rows) error {
			var n string
			if err := rows.Scan(&n); err != nil {
				return err
			}
			names = append(names, n)
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"ext-a", "ext-b"}, names)
}

func TestStore_Stats(t *testing.T) {
	s := openTestStore(t)
	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.WriteOpenConnections, 0)
	assert.GreaterOrEqual(t, stats.ReadOpenConnections, 0)
}

func TestStore_Health(t *testing.T) {
	s := openTestStore(t)
	h := s.Health(context.Background())
	assert.True(t, h.Healthy)
}
