package stats

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingStartsEmpty(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "folder_stats.json"), nil)
	require.NoError(t, err)

	_, ok := c.Get("drive1", "SetA")
	assert.False(t, ok)
}

func TestSetGetRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "folder_stats.json"), nil)
	require.NoError(t, err)

	c.Set("drive1", "SetA", SetlistStats{TotalCharts: 10, SyncedCharts: 7})

	got, ok := c.Get("drive1", "SetA")
	require.True(t, ok)
	assert.Equal(t, 10, got.TotalCharts)
	assert.Equal(t, 7, got.SyncedCharts)
}

func TestSaveLoadPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "folder_stats.json")

	c, err := Load(path, nil)
	require.NoError(t, err)

	c.Set("drive1", "SetA", SetlistStats{TotalCharts: 5, SyncedCharts: 5, TotalSize: 100})
	require.NoError(t, c.Save())

	reloaded, err := Load(path, nil)
	require.NoError(t, err)

	got, ok := reloaded.Get("drive1", "SetA")
	require.True(t, ok)
	assert.Equal(t, int64(100), got.TotalSize)
}

func TestFolderTotalSumsEnabledOnly(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "folder_stats.json"), nil)
	require.NoError(t, err)

	c.Set("drive1", "A", SetlistStats{TotalCharts: 10, SyncedCharts: 10})
	c.Set("drive1", "B", SetlistStats{TotalCharts: 20, SyncedCharts: 5})

	enabled := func(setlist string) bool { return setlist != "B" }

	total := c.FolderTotal("drive1", enabled)
	assert.Equal(t, 10, total.TotalCharts)
	assert.Equal(t, 10, total.SyncedCharts)
}

func TestInvalidateDropsEntries(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "folder_stats.json"), nil)
	require.NoError(t, err)

	c.Set("drive1", "A", SetlistStats{TotalCharts: 1})
	c.Invalidate("drive1")

	_, ok := c.Get("drive1", "A")
	assert.False(t, ok)
}

func TestMetricsObserveAndRateLimited(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	m.Observe("drive1", SetlistStats{SyncedCharts: 3, PurgeableSize: 1024})
	m.AddRateLimited(2)

	assert.InDelta(t, 3, testutil.ToFloat64(m.syncedCharts.WithLabelValues("drive1")), 0.0001)
	assert.InDelta(t, 2, testutil.ToFloat64(m.rateLimitedTotal), 0.0001)
}
