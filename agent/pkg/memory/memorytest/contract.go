// Package memorytest holds the behavior every memory backend must share.
package memorytest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/agent/pkg/memory"
)

// RunStoreContract exercises store. clock must be the clock the store was built with.
func RunStoreContract(t *testing.T, store memory.Store, clock *clockwork.FakeClock) {
	t.Helper()
	ctx := context.Background()

	t.Run("round trip is byte identical", func(t *testing.T) {
		payloads := [][]byte{
			[]byte(`[{"id":1,"name":"a"}]`),
			[]byte("  {\n\t\"spaced\" : true }\n"),
			{0x00, 0xff, 0x10, 0x80, 0x7f},
			bytes.Repeat([]byte("x"), 60000),
		}
		for _, p := range payloads {
			key, err := store.Store(ctx, "rt000001", p, "summary")
			require.NoError(t, err)

			got, err := store.Retrieve(ctx, key)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(p, got), "payload of %d bytes changed on round trip", len(p))
		}
	})

	t.Run("keys are unique within a session and carry the session", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := range 25 {
			key, err := store.Store(ctx, "uniq0001", []byte{byte(i)}, "")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(key, "uniq0001_"), "key %q", key)
			assert.False(t, seen[key], "duplicate key %q", key)
			seen[key] = true

			sessionID, err := memory.SessionFromKey(key)
			require.NoError(t, err)
			assert.Equal(t, "uniq0001", sessionID)
		}
	})

	t.Run("unknown key is not found", func(t *testing.T) {
		_, err := store.Retrieve(ctx, "nosuch01_deadbeef")
		assert.ErrorIs(t, err, memory.ErrNotFound)

		_, err = store.Get(ctx, "nosuch01_deadbeef")
		assert.ErrorIs(t, err, memory.ErrNotFound)
	})

	t.Run("get returns metadata", func(t *testing.T) {
		key, err := store.Store(ctx, "meta0001", []byte("payload"), "Query 1 result: 3 rows x 2 columns")
		require.NoError(t, err)

		e, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, e.Key)
		assert.Equal(t, "meta0001", e.SessionID)
		assert.Equal(t, "Query 1 result: 3 rows x 2 columns", e.Summary)
		assert.Equal(t, []byte("payload"), e.Payload)
		assert.WithinDuration(t, clock.Now(), e.CreatedAt, time.Second)
	})

	t.Run("invalid session is rejected", func(t *testing.T) {
		_, err := store.Store(ctx, "../escape", []byte("x"), "")
		assert.Error(t, err)
	})

	t.Run("list is per session and newest first", func(t *testing.T) {
		first, err := store.Store(ctx, "list0001", []byte("1"), "first")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		second, err := store.Store(ctx, "list0001", []byte("22"), "second")
		require.NoError(t, err)
		_, err = store.Store(ctx, "list0002", []byte("3"), "other")
		require.NoError(t, err)

		infos, err := store.List(ctx, "list0001")
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, second, infos[0].Key)
		assert.Equal(t, "second", infos[0].Summary)
		assert.Equal(t, 2, infos[0].Size)
		assert.Equal(t, first, infos[1].Key)

		empty, err := store.List(ctx, "list9999")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("cleanup removes only old entries", func(t *testing.T) {
		old, err := store.Store(ctx, "clean001", []byte("old"), "")
		require.NoError(t, err)
		clock.Advance(8 * 24 * time.Hour)
		fresh, err := store.Store(ctx, "clean001", []byte("fresh"), "")
		require.NoError(t, err)

		removed, err := store.Cleanup(ctx, 7*24*time.Hour)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, 1)

		_, err = store.Retrieve(ctx, old)
		assert.ErrorIs(t, err, memory.ErrNotFound)

		got, err := store.Retrieve(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), got)

		infos, err := store.List(ctx, "clean001")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, fresh, infos[0].Key)
	})
}
