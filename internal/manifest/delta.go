package manifest

// ChangesFeed is the consumer-side interface for an incremental manifest
// delta feed. Generating the feed is an
// admin-side tool and explicitly out of scope; the engine only needs to be
// able to apply whatever a generator produces to its cached manifest.
type ChangesFeed interface {
	// GetChanges returns the files added/updated/removed since token, and
	// the token to resume from on the next call. An empty token requests
	// a full resync.
	GetChanges(token string) (delta *Delta, nextToken string, err error)
}

// Delta describes an incremental update to one folder's file list.
type Delta struct {
	FolderID string
	Upserts  []File
	Removed  []string // file IDs removed since the last token
}

// Apply merges a Delta into the manifest in place, replacing or adding
// upserted files by ID and dropping removed ones. Unknown FolderIDs are
// ignored — the caller is expected to have created the folder via a prior
// full discovery pass (internal/scanner).
func (m *Manifest) Apply(d *Delta) {
	folder := m.FolderByID(d.FolderID)
	if folder == nil {
		return
	}

	removed := make(map[string]bool, len(d.Removed))
	for _, id := range d.Removed {
		removed[id] = true
	}

	kept := folder.Files[:0]

	for _, f := range folder.Files {
		if removed[f.ID] {
			continue
		}

		kept = append(kept, f)
	}

	folder.Files = kept

	// Index after the removal pass, then apply upserts.
	byID := make(map[string]int, len(folder.Files))
	for i, f := range folder.Files {
		byID[f.ID] = i
	}

	for _, upsert := range d.Upserts {
		if removed[upsert.ID] {
			continue
		}

		if idx, ok := byID[upsert.ID]; ok {
			folder.Files[idx] = upsert
		} else {
			folder.Files = append(folder.Files, upsert)
			byID[upsert.ID] = len(folder.Files) - 1
		}
	}
}
