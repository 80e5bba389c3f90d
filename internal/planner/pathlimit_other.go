//go:build !windows

package planner

// exceedsWindowsPathLimit is a no-op off Windows: every other target in
// the support matrix has filesystems that accept long paths natively.
func exceedsWindowsPathLimit(string) bool {
	return false
}
