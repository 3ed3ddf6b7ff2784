package memory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/agent/pkg/memory"
	"github.com/malbeclabs/analyst/agent/pkg/memory/memorytest"
	agenttesting "github.com/malbeclabs/analyst/agent/pkg/testing"
)

func newFileStore(t *testing.T, clock clockwork.Clock) (*memory.FileStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "memory")
	store, err := memory.NewFileStore(memory.FileStoreConfig{
		Logger: agenttesting.NewLogger(),
		Clock:  clock,
		Dir:    dir,
	})
	require.NoError(t, err)
	return store, dir
}

func TestMemory_FileStore_Contract(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, _ := newFileStore(t, clock)
	memorytest.RunStoreContract(t, store, clock)
}

func TestMemory_FileStore_WritesEnvelope(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, dir := newFileStore(t, clock)

	key, err := store.Store(t.Context(), "abcd1234", []byte(`[{"a":1}]`), "Query 1 result: 1 rows x 1 columns")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, key+".json"))
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "abcd1234", env["session_id"])
	assert.Equal(t, key, env["memory_key"])
	assert.Equal(t, "Query 1 result: 1 rows x 1 columns", env["summary"])
	assert.EqualValues(t, 9, env["size"])
	assert.Contains(t, env, "timestamp")
	assert.Contains(t, env, "payload")
}

func TestMemory_FileStore_SkipsUnreadableFiles(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, dir := newFileStore(t, clock)

	key, err := store.Store(t.Context(), "skip0001", []byte("ok"), "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip0001_00000000.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))

	infos, err := store.List(t.Context(), "skip0001")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, key, infos[0].Key)

	_, err = store.Retrieve(t.Context(), "skip0001_00000000")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, memory.ErrNotFound)
}

func TestMemory_FileStore_RejectsMalformedKeys(t *testing.T) {
	t.Parallel()
	store, _ := newFileStore(t, clockwork.NewFakeClock())

	for _, key := range []string{"", "../etc/passwd", "nounderscore", "abc_XYZ12345"} {
		_, err := store.Retrieve(t.Context(), key)
		assert.ErrorIs(t, err, memory.ErrNotFound, "key %q", key)
	}
}

func TestMemory_FileStoreConfig_Validate(t *testing.T) {
	t.Parallel()

	_, err := memory.NewFileStore(memory.FileStoreConfig{Dir: t.TempDir()})
	assert.ErrorContains(t, err, "logger is required")

	_, err = memory.NewFileStore(memory.FileStoreConfig{Logger: agenttesting.NewLogger()})
	assert.ErrorContains(t, err, "directory is required")
}
