//go:build unix

// Package fdlimit raises the process's open-file-descriptor limit at
// startup: concurrent downloads, extraction workers, and the
// background scanner can each hold dozens of files open simultaneously,
// and the default soft RLIMIT_NOFILE on many systems is too low for that.
package fdlimit

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// DefaultWant is the soft limit the engine asks for; sized for a W=24
// download pool plus an extraction pool plus scanner and stats I/O with
// headroom.
const DefaultWant = 4096

// Raise attempts to raise RLIMIT_NOFILE's soft limit to want, capped at
// the hard limit. Returns the limit actually in effect after the call.
// Failure to raise is logged, not fatal — the engine degrades to whatever
// concurrency the existing limit allows.
func Raise(want uint64, logger *slog.Logger) (uint64, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, fmt.Errorf("fdlimit: getrlimit: %w", err)
	}

	target := want
	if rlim.Max != unix.RLIM_INFINITY && target > rlim.Max {
		target = rlim.Max
	}

	if rlim.Cur >= target {
		return rlim.Cur, nil
	}

	newLim := unix.Rlimit{Cur: target, Max: rlim.Max}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &newLim); err != nil {
		logger.Warn("fdlimit: could not raise RLIMIT_NOFILE",
			slog.Uint64("current", rlim.Cur),
			slog.Uint64("wanted", want),
			slog.String("error", err.Error()),
		)

		return rlim.Cur, nil
	}

	logger.Debug("fdlimit: raised RLIMIT_NOFILE", slog.Uint64("from", rlim.Cur), slog.Uint64("to", target))

	return target, nil
}
