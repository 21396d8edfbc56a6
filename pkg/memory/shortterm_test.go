package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sena-run/core/pkg/models"
	"github.com/sena-run/core/pkg/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(context.Background(), storage.Config{Path: dir + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestShortTermMemory_AddAndGetAll(t *testing.T) {
	store := openTestStore(t)
	stm := NewShortTerm(store, 10, time.Hour)
	ctx := context.Background()

	_, err := stm.Add(ctx, "session-1", "hello", models.RoleUser, nil)
	require.NoError(t, err)
	_, err = stm.Add(ctx, "session-1", "hi there", models.RoleAssistant, nil)
	require.NoError(t, err)

	items, err := stm.GetAll(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "hello", items[0].Content)
	assert.Equal(t, "hi there", items[1].Content)
}

func TestShortTermMemory_EnforcesCapacity(t *testing.T) {
	store := openTestStore(t)
	stm := NewShortTerm(store, 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := stm.Add(ctx, "session-1", "msg", models.RoleUser, nil)
		require.NoError(t, err)
	}

	items, err := stm.GetAll(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestShortTermMemory_EvictsExpired(t *testing.T) {
	store := openTestStore(t)
	stm := NewShortTerm(store, 10, -time.Hour)
	ctx := context.Background()

	_, err := stm.Add(ctx, "session-1", "stale", models.RoleUser, nil)
	require.NoError(t, err)

	items, err := stm.GetAll(ctx, "session-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestShortTermMemory_GetContext(t *testing.T) {
	store := openTestStore(t)
	stm := NewShortTerm(store, 10, time.Hour)
	ctx := context.Background()

	_, _ = stm.Add(ctx, "session-1", "hello", models.RoleUser, nil)
	_, _ = stm.Add(ctx, "session-1", "hi there", models.RoleAssistant, nil)

	out, err := stm.GetContext(ctx, "session-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "USER: hello\nASSISTANT: hi there", out)
}

func TestShortTermMemory_GetContext_RespectsLimit(t *testing.T) {
	store := openTestStore(t)
	stm := NewShortTerm(store, 10, time.Hour)
	ctx := context.Background()

	_, _ = stm.Add(ctx, "session-1", "one", models.RoleUser, nil)
	_, _ = stm.Add(ctx, "session-1", "two", models.RoleUser, nil)
	_, _ = stm.Add(ctx, "session-1", "three", models.RoleUser, nil)

	out, err := stm.GetContext(ctx, "session-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "USER: three", out)
}

func TestShortTermMemory_Clear(t *testing.T) {
	store := openTestStore(t)
	stm := NewShortTerm(store, 10, time.Hour)
	ctx := context.Background()

	_, _ = stm.Add(ctx, "session-1", "hello", models.RoleUser, nil)
	count, err := stm.Clear(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	items, err := stm.GetAll(ctx, "session-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestShortTermMemory_SessionsAreIsolated(t *testing.T) {
	store := openTestStore(t)
	stm := NewShortTerm(store, 10, time.Hour)
	ctx := context.Background()

	_, _ = stm.Add(ctx, "session-1", "for one", models.RoleUser, nil)
	_, _ = stm.Add(ctx, "session-2", "for two", models.RoleUser, nil)

	items, err := stm.GetAll(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "for one", items[0].Content)
}
