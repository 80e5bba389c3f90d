//go:build windows

package planner

import (
	"golang.org/x/sys/windows/registry"
)

const windowsMaxPath = 260

// exceedsWindowsPathLimit reports whether p would exceed MAX_PATH on a
// system that hasn't opted into long-path support via the registry.
func exceedsWindowsPathLimit(p string) bool {
	if len(p) < windowsMaxPath {
		return false
	}

	return !longPathsEnabled()
}

func longPathsEnabled() bool {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SYSTEM\CurrentControlSet\Control\FileSystem`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer key.Close()

	value, _, err := key.GetIntegerValue("LongPathsEnabled")
	if err != nil {
		return false
	}

	return value == 1
}
