package snapshot

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, store Store, name string, payload []byte) {
	t.Helper()
	w, err := store.Create(context.Background(), name)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readArtifact(t *testing.T, store Store, name string) []byte {
	t.Helper()
	r, err := store.Open(context.Background(), name)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// testStoreRoundTrip exercises the Store contract shared by all backends.
func testStoreRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()

	writeArtifact(t, store, "shard-0000", []byte("first"))
	writeArtifact(t, store, "shard-0001", []byte("second"))

	assert.Equal(t, []byte("first"), readArtifact(t, store, "shard-0000"))
	assert.Equal(t, []byte("second"), readArtifact(t, store, "shard-0001"))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shard-0000", "shard-0001"}, names)

	// Writing the same name again replaces the old artifact.
	writeArtifact(t, store, "shard-0000", []byte("rewritten"))
	assert.Equal(t, []byte("rewritten"), readArtifact(t, store, "shard-0000"))

	_, err = store.Open(ctx, "shard-9999")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	testStoreRoundTrip(t, store)
}

func TestFileStore_RejectsUnsafeNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := store.Create(context.Background(), name)
		assert.Error(t, err, "create %q", name)
		_, err = store.Open(context.Background(), name)
		assert.Error(t, err, "open %q", name)
	}
}

func TestFileStore_ListIgnoresInFlightWrites(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Create(context.Background(), "pending")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)

	// Until Close renames it into place the artifact is invisible.
	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, w.Close())
	names, err = store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, names)
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	testStoreRoundTrip(t, store)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	writeArtifact(t, store, "shard-0000", []byte("durable"))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []byte("durable"), readArtifact(t, reopened, "shard-0000"))
}
