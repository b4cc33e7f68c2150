package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
)

func TestInMemoryStore_WriteIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	snap, err := store.Read(ctx, "project:p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Empty(t, snap.Data)

	v1, err := store.Write(ctx, "project:p1", map[string]any{"phase": "plan"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := store.Write(ctx, "project:p1", map[string]any{"phase": "build"}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	snap, err = store.Read(ctx, "project:p1", "phase")
	require.NoError(t, err)
	assert.Equal(t, "build", snap.Data["phase"])
	assert.Equal(t, int64(2), snap.Version)
}

func TestInMemoryStore_StaleWriteConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := store.Write(ctx, core.GlobalScope, map[string]any{"a": 1}, 0)
	require.NoError(t, err)

	_, err = store.Write(ctx, core.GlobalScope, map[string]any{"a": 2}, 0)
	require.Error(t, err)
	assert.True(t, core.IsConflict(err))

	var ce *core.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(0), ce.Expected)
	assert.Equal(t, int64(1), ce.Actual)

	// The losing write must not have touched the scope.
	snap, err := store.Read(ctx, core.GlobalScope, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Data["a"])
}

func TestInMemoryStore_ConcurrentWritersExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.Write(ctx, "project:race", map[string]any{"n": 0}, 0)
	require.NoError(t, err)

	snap, err := store.Read(ctx, "project:race")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Write(ctx, "project:race", map[string]any{"n": i}, snap.Version)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, core.IsConflict(err))
		}
	}
	assert.Equal(t, 1, winners, "exactly one direct write may succeed from the same version")
}

func TestInMemoryStore_WildcardRead(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.Write(ctx, "project:p", map[string]any{"a": 1, "b": 2}, 0)
	require.NoError(t, err)

	snap, err := store.Read(ctx, "project:p", core.WildcardKey)
	require.NoError(t, err)
	assert.Len(t, snap.Data, 2)
}

func TestInMemoryStore_SetDeleteBypassVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	require.NoError(t, store.Set(ctx, "project:p", "flag", true))
	require.NoError(t, store.Set(ctx, "project:p", "flag", false))
	require.NoError(t, store.Delete(ctx, "project:p", "flag"))

	snap, err := store.Read(ctx, "project:p", "flag")
	require.NoError(t, err)
	_, exists := snap.Data["flag"]
	assert.False(t, exists)
	// Unlocked mutations still advance the version.
	assert.Equal(t, int64(3), snap.Version)
}

func TestInMemoryStore_AuditTrail(t *testing.T) {
	ctx := core.WithCaller(context.Background(), "coder")
	store := NewInMemoryStore()

	_, err := store.Write(ctx, "project:p", map[string]any{"a": 1}, 0)
	require.NoError(t, err)
	_, err = store.Read(ctx, "project:p", "a")
	require.NoError(t, err)

	entries, err := store.Audit(ctx, "project:p", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "write", entries[0].Op)
	assert.Equal(t, "read", entries[1].Op)
	assert.Equal(t, "coder", entries[0].Caller)
	assert.Equal(t, int64(1), entries[0].Version)
	assert.False(t, entries[1].Timestamp.Before(entries[0].Timestamp))

	limited, err := store.Audit(ctx, "project:p", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "read", limited[0].Op)
}

func TestInMemoryStore_ClearDestroysScope(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.Write(ctx, "project:p", map[string]any{"a": 1}, 0)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "project:p"))

	snap, err := store.Read(ctx, "project:p")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Empty(t, snap.Data)
}
