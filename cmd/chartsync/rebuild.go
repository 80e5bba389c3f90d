package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/markers"
	"github.com/dm-sync/chartsync/internal/syncstate"
)

func newRebuildMarkersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-markers",
		Short: "Reconstruct missing markers from on-disk content and the manifest",
		Long: `Walks the manifest's archive entries and, for any that has no marker file
but whose extracted file list is recorded in the legacy sync_state.json
under the manifest's current MD5 and is present on disk at the recorded
sizes, writes the marker so a future sync recognizes it as synced. Archives
with no such legacy record are skipped; the disk is not searched for their
content. Never deletes or overwrites existing state.`,
		RunE: runRebuildMarkers,
	}
}

func runRebuildMarkers(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	m, err := manifest.Load(cc.Layout.ManifestPath())
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	candidates := markers.CandidatesFromManifest(m)

	if sc, err := syncstate.Load(cc.Layout.SyncStatePath()); err != nil {
		cc.Logger.Warn("reading legacy sync-state tree", "error", err.Error())
	} else {
		candidates = markers.CandidatesFromSyncState(m, sc)
	}

	result, err := cc.Markers.RebuildFromDisk(cc.Layout.DownloadDir(), candidates, cc.Logger)
	if err != nil {
		return fmt.Errorf("rebuilding markers: %w", err)
	}

	fmt.Printf("Rebuilt %d marker(s), skipped %d\n", result.Created, result.Skipped)

	return nil
}
