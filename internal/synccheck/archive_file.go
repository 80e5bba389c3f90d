package synccheck

import "strings"

// ArchiveExtensions are the chart-pack container formats the engine
// extracts.
var ArchiveExtensions = []string{".zip", ".7z", ".rar"}

// VideoExtensions are filtered out when Settings.DeleteVideos is set.
var VideoExtensions = []string{".mp4", ".avi", ".mkv", ".mov", ".webm", ".flv", ".wmv"}

// IsArchiveFile reports whether filename has one of the chart-archive
// extensions the engine handles.
func IsArchiveFile(filename string) bool {
	return hasAnyExtension(filename, ArchiveExtensions)
}

// IsVideoFile reports whether filename has one of the filtered video
// extensions.
func IsVideoFile(filename string) bool {
	return hasAnyExtension(filename, VideoExtensions)
}

func hasAnyExtension(filename string, exts []string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}
