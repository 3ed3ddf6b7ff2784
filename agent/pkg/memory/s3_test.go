package memory_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/agent/pkg/memory"
	"github.com/malbeclabs/analyst/agent/pkg/memory/memorytest"
	agenttesting "github.com/malbeclabs/analyst/agent/pkg/testing"
)

func newMinIO(t *testing.T, bucket string) *agenttesting.MinIO {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	m, err := agenttesting.NewMinIO(t.Context(), agenttesting.NewLogger(), nil)
	if err != nil {
		t.Skipf("minio container unavailable: %v", err)
	}
	t.Cleanup(m.Close)
	require.NoError(t, m.CreateBucket(t.Context(), bucket))
	return m
}

func TestMemory_S3Store_Contract(t *testing.T) {
	m := newMinIO(t, "memory-contract")
	clock := clockwork.NewFakeClock()

	store, err := memory.NewS3Store(t.Context(), memory.S3StoreConfig{
		Logger:          agenttesting.NewLogger(),
		Clock:           clock,
		Bucket:          "memory-contract",
		Region:          m.Region(),
		EndpointURL:     m.EndpointURL(),
		AccessKeyID:     m.Username(),
		SecretAccessKey: m.Password(),
	})
	require.NoError(t, err)

	memorytest.RunStoreContract(t, store, clock)
}

func TestMemory_S3Store_LayoutAndMetadata(t *testing.T) {
	m := newMinIO(t, "memory-layout")

	store, err := memory.NewS3Store(t.Context(), memory.S3StoreConfig{
		Logger:          agenttesting.NewLogger(),
		Bucket:          "memory-layout",
		Prefix:          "/custom/prefix/",
		Region:          m.Region(),
		EndpointURL:     m.EndpointURL(),
		AccessKeyID:     m.Username(),
		SecretAccessKey: m.Password(),
	})
	require.NoError(t, err)

	summary := "Query 1 result: 2 rows x 1 columns, ünïcode & spaces"
	key, err := store.Store(t.Context(), "layout01", []byte("[1,2]"), summary)
	require.NoError(t, err)

	keys := agenttesting.ListObjectKeys(t, m.Client(), "memory-layout", "")
	assert.Equal(t, []string{"custom/prefix/layout01/" + key}, keys)

	e, err := store.Get(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, summary, e.Summary)
	assert.Equal(t, "layout01", e.SessionID)
}

func TestMemory_S3Store_RootPrefix(t *testing.T) {
	m := newMinIO(t, "memory-root")
	clock := clockwork.NewFakeClock()

	store, err := memory.NewS3Store(t.Context(), memory.S3StoreConfig{
		Logger:          agenttesting.NewLogger(),
		Clock:           clock,
		Bucket:          "memory-root",
		Prefix:          "/",
		Region:          m.Region(),
		EndpointURL:     m.EndpointURL(),
		AccessKeyID:     m.Username(),
		SecretAccessKey: m.Password(),
	})
	require.NoError(t, err)

	key, err := store.Store(t.Context(), "rootpfx1", []byte("[1]"), "one row")
	require.NoError(t, err)
	assert.Equal(t, []string{"rootpfx1/" + key}, agenttesting.ListObjectKeys(t, m.Client(), "memory-root", ""))

	entries, err := store.List(t.Context(), "rootpfx1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].Key)

	clock.Advance(2 * time.Hour)
	removed, err := store.Cleanup(t.Context(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, agenttesting.ListObjectKeys(t, m.Client(), "memory-root", ""))
}
