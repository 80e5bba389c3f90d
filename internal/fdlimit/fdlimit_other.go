//go:build !unix

package fdlimit

import "log/slog"

// DefaultWant mirrors the unix build's constant for callers that format
// log messages around it regardless of platform.
const DefaultWant = 4096

// Raise is a no-op off Unix: Windows does not impose a per-process
// file-descriptor limit in the same sense, so there is nothing to raise.
func Raise(want uint64, logger *slog.Logger) (uint64, error) {
	return want, nil
}
