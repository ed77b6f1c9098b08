package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state", "index.yaml"))
}

func TestMissingFileIsEmptyIndex(t *testing.T) {
	ix := newTestIndex(t)
	entries, err := ix.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, ok, err := ix.Lookup("m/f")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetActiveAndLookup(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)

	require.NoError(t, ix.SetActive("app.math.ops/multiply", "aaaa1111", now))

	e, ok, err := ix.Lookup("app.math.ops/multiply")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aaaa1111", e.Active)
	assert.Equal(t, "2026-08-25T09:30:00Z", e.Created)
}

func TestLastWriterWins(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Now()

	require.NoError(t, ix.SetActive("m/f", "first", now))
	require.NoError(t, ix.SetActive("m/f", "second", now.Add(time.Minute)))

	entries, err := ix.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one entry per unit id")
	assert.Equal(t, "second", entries["m/f"].Active)
}

func TestUpdatePreservesOtherUnits(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Now()

	require.NoError(t, ix.SetActive("m/a", "fa", now))
	require.NoError(t, ix.SetActive("m/b", "fb", now))

	entries, err := ix.Load()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "fa", entries["m/a"].Active)
	assert.Equal(t, "fb", entries["m/b"].Active)
}

func TestRemove(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.SetActive("m/a", "fa", time.Now()))
	require.NoError(t, ix.Remove("m/a"))
	require.NoError(t, ix.Remove("m/a"), "removing an absent entry is a no-op")

	entries, err := ix.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteIsFullRewrite(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.SetActive("m/a", "fa", time.Now()))

	// No stray temp files stay behind after the atomic rename.
	files, err := os.ReadDir(filepath.Dir(ix.path))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "index.yaml", files[0].Name())
}
