package syncstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmptyV1(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)
	assert.False(t, c.IsFileSynced("a/b.ini", 10))
}

func TestAddFileThenIsFileSynced(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)

	c.AddFile("SetA/song.mid", 1024)
	assert.True(t, c.IsFileSynced("SetA/song.mid", 1024))
	assert.False(t, c.IsFileSynced("SetA/song.mid", 2048))
}

func TestAddArchiveThenIsArchiveSynced(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)

	c.AddArchive("SetA/pack.7z", "abc123", 5000, map[string]int64{"SetA/chart/song.ini": 50})
	assert.True(t, c.IsArchiveSynced("SetA/pack.7z", "abc123"))
	assert.False(t, c.IsArchiveSynced("SetA/pack.7z", "def456"))
}

func TestRemovePathDropsEntry(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)

	c.AddFile("SetA/song.mid", 1024)
	c.RemovePath("SetA/song.mid")
	assert.False(t, c.IsFileSynced("SetA/song.mid", 1024))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sync_state.json")

	c, err := Load(path)
	require.NoError(t, err)
	c.AddFile("SetA/song.mid", 1024)
	c.AddArchive("SetA/pack.7z", "abc123", 5000, map[string]int64{"SetA/chart/song.ini": 50})
	require.NoError(t, c.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.IsFileSynced("SetA/song.mid", 1024))
	assert.True(t, loaded.IsArchiveSynced("SetA/pack.7z", "abc123"))
}

func TestCheckFilesExist(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)
	c.AddFile("SetA/song.mid", 1024)

	result := c.CheckFilesExist([]string{"SetA/song.mid", "SetA/missing.mid"})
	assert.True(t, result["SetA/song.mid"])
	assert.False(t, result["SetA/missing.mid"])
}

func TestCleanupOrphanedEntriesRemovesUnlistedPaths(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)
	c.AddFile("SetA/song.mid", 1024)
	c.AddFile("SetA/gone.mid", 512)

	removed := c.CleanupOrphanedEntries(map[string]bool{"SetA/song.mid": true})
	assert.Equal(t, 1, removed)
	assert.True(t, c.IsFileSynced("SetA/song.mid", 1024))
	assert.False(t, c.IsFileSynced("SetA/gone.mid", 512))
}

func TestCleanupStaleArchivesRemovesMismatchedMD5(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)
	c.AddArchive("SetA/pack.7z", "old-md5", 1000, nil)

	removed := c.CleanupStaleArchives(map[string]string{"SetA/pack.7z": "new-md5"})
	assert.Equal(t, 1, removed)
	assert.False(t, c.IsArchiveSynced("SetA/pack.7z", "old-md5"))
}

func TestCleanupStaleArchivesKeepsMatching(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)
	c.AddArchive("SetA/pack.7z", "current", 1000, nil)

	removed := c.CleanupStaleArchives(map[string]string{"SetA/pack.7z": "current"})
	assert.Equal(t, 0, removed)
	assert.True(t, c.IsArchiveSynced("SetA/pack.7z", "current"))
}
