package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecentEntities(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.TouchRecent("CustomersV3", "https://a.example.com"))
	require.NoError(t, store.TouchRecent("VendorsV2", "https://a.example.com"))
	require.NoError(t, store.TouchRecent("CustomersV3", "https://b.example.com"))

	recents, err := store.RecentEntities("https://a.example.com", 10)
	require.NoError(t, err)
	require.Len(t, recents, 2, "recents are scoped per environment")

	// Re-touching moves an entity to the front, not duplicates it.
	require.NoError(t, store.TouchRecent("CustomersV3", "https://a.example.com"))
	recents, err = store.RecentEntities("https://a.example.com", 10)
	require.NoError(t, err)
	require.Len(t, recents, 2)
	assert.Equal(t, "CustomersV3", recents[0].Name)
}

func TestRecentEntitiesLimit(t *testing.T) {
	store := openTestStore(t)

	for _, name := range []string{"A", "B", "C", "D"} {
		require.NoError(t, store.TouchRecent(name, "env"))
	}

	recents, err := store.RecentEntities("env", 2)
	require.NoError(t, err)
	assert.Len(t, recents, 2)
}

func TestEnvironmentLabels(t *testing.T) {
	store := openTestStore(t)

	label, err := store.EnvironmentLabel("https://a.example.com")
	require.NoError(t, err)
	assert.Empty(t, label, "unknown URL yields empty label")

	require.NoError(t, store.SetEnvironmentLabel("https://a.example.com", "UAT"))
	require.NoError(t, store.SetEnvironmentLabel("https://a.example.com", "Production"))

	label, err = store.EnvironmentLabel("https://a.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Production", label, "labels are upserted")
}

func TestMetadataCache(t *testing.T) {
	store := openTestStore(t)

	_, _, ok, err := store.GetMetadata("https://a.example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	doc := []byte("<edmx>one</edmx>")
	require.NoError(t, store.PutMetadata("https://a.example.com", doc))

	got, fetchedAt, ok, err := store.GetMetadata("https://a.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc, got)
	assert.WithinDuration(t, time.Now().UTC(), fetchedAt, time.Minute)

	// Replacement overwrites.
	require.NoError(t, store.PutMetadata("https://a.example.com", []byte("<edmx>two</edmx>")))
	got, _, ok, err = store.GetMetadata("https://a.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("<edmx>two</edmx>"), got)
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir + "/odgrid.db")
	require.NoError(t, err)
	require.NoError(t, store.TouchRecent("X", "env"))
	require.NoError(t, store.Close())

	reopened, err := Open(dir + "/odgrid.db")
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	recents, err := reopened.RecentEntities("env", 5)
	require.NoError(t, err)
	assert.Len(t, recents, 1, "data persists across reopen")
}
