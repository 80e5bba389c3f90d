// Package stats implements the persisted per-setlist/per-drive stats
// aggregator: cheap numbers the UI can redraw from
// without re-walking disk or re-parsing the manifest on every repaint.
// Entries are recomputed only when a scan, sync, or settings change
// invalidates them; otherwise they are served from the on-disk cache.
package stats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// SetlistStats is one setlist's cached counters.
type SetlistStats struct {
	TotalCharts  int   `json:"total_charts"`
	SyncedCharts int   `json:"synced_charts"`
	TotalSize    int64 `json:"total_size"`
	SyncedSize   int64 `json:"synced_size"`

	DiskFiles  int   `json:"disk_files"`
	DiskSize   int64 `json:"disk_size"`
	DiskCharts int   `json:"disk_charts"`

	PurgeableFiles  int   `json:"purgeable_files"`
	PurgeableSize   int64 `json:"purgeable_size"`
	PurgeableCharts int   `json:"purgeable_charts"`
}

// Add accumulates another setlist's counters into a running folder
// total; drive-level stats are just the sum of their enabled setlists.
func (s *SetlistStats) Add(other SetlistStats) {
	s.TotalCharts += other.TotalCharts
	s.SyncedCharts += other.SyncedCharts
	s.TotalSize += other.TotalSize
	s.SyncedSize += other.SyncedSize
	s.DiskFiles += other.DiskFiles
	s.DiskSize += other.DiskSize
	s.DiskCharts += other.DiskCharts
	s.PurgeableFiles += other.PurgeableFiles
	s.PurgeableSize += other.PurgeableSize
	s.PurgeableCharts += other.PurgeableCharts
}

// document is the on-disk shape of folder_stats.json: a single
// "_setlists" map keyed by drive id, then setlist name.
type document struct {
	Setlists map[string]map[string]SetlistStats `json:"_setlists"`
}

// Cache is the persisted stats store, one lock per folder-id entry. Every
// read or write takes that entry's lock and then the coarse map lock,
// which also guards the stats data itself, so accesses to unrelated
// drives still serialize on the map lock.
type Cache struct {
	path string

	mapMu sync.RWMutex
	locks map[string]*sync.RWMutex
	data  map[string]map[string]SetlistStats

	logger *slog.Logger
}

// Load reads folder_stats.json, or starts empty if absent.
func Load(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		path:   path,
		locks:  make(map[string]*sync.RWMutex),
		data:   make(map[string]map[string]SetlistStats),
		logger: logger,
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-controlled cache path
	if os.IsNotExist(err) {
		return c, nil
	}

	if err != nil {
		return nil, fmt.Errorf("stats: reading %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("stats: cache corrupt, starting empty", slog.String("error", err.Error()))

		return c, nil
	}

	if doc.Setlists != nil {
		c.data = doc.Setlists
	}

	return c, nil
}

func (c *Cache) lockFor(driveID string) *sync.RWMutex {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()

	l, ok := c.locks[driveID]
	if !ok {
		l = &sync.RWMutex{}
		c.locks[driveID] = l
	}

	return l
}

// Get returns the cached stats for (driveID, setlist), and whether an
// entry existed.
func (c *Cache) Get(driveID, setlist string) (SetlistStats, bool) {
	lock := c.lockFor(driveID)
	lock.RLock()
	defer lock.RUnlock()

	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

	drive, ok := c.data[driveID]
	if !ok {
		return SetlistStats{}, false
	}

	s, ok := drive[setlist]

	return s, ok
}

// Set stores the computed stats for (driveID, setlist), replacing any
// cached value — called after a setlist is newly scanned, after a sync
// affecting it, or after a settings change invalidates its folder.
func (c *Cache) Set(driveID, setlist string, s SetlistStats) {
	lock := c.lockFor(driveID)
	lock.Lock()
	defer lock.Unlock()

	c.mapMu.Lock()
	defer c.mapMu.Unlock()

	if c.data[driveID] == nil {
		c.data[driveID] = make(map[string]SetlistStats)
	}

	c.data[driveID][setlist] = s
}

// Invalidate drops every cached setlist entry for driveID, forcing the
// next FolderTotal/Get to be recomputed upstream.
func (c *Cache) Invalidate(driveID string) {
	lock := c.lockFor(driveID)
	lock.Lock()
	defer lock.Unlock()

	c.mapMu.Lock()
	defer c.mapMu.Unlock()

	delete(c.data, driveID)
}

// FolderTotal sums every enabled setlist's cached stats for driveID.
// enabled reports whether a given setlist name counts toward the total;
// callers normally pass settings.DisabledSetlists's complement.
func (c *Cache) FolderTotal(driveID string, enabled func(setlist string) bool) SetlistStats {
	lock := c.lockFor(driveID)
	lock.RLock()
	defer lock.RUnlock()

	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

	var total SetlistStats

	for setlist, s := range c.data[driveID] {
		if enabled == nil || enabled(setlist) {
			total.Add(s)
		}
	}

	return total
}

// Save persists the cache atomically (temp file + rename), matching every
// other on-disk document in this engine.
func (c *Cache) Save() error {
	c.mapMu.RLock()
	doc := document{Setlists: c.data}
	data, err := json.MarshalIndent(doc, "", "  ")
	c.mapMu.RUnlock()

	if err != nil {
		return fmt.Errorf("stats: marshal: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // cache file, not sensitive
		return fmt.Errorf("stats: writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("stats: renaming %s to %s: %w", tmp, c.path, err)
	}

	return nil
}
