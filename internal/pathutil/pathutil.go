// Package pathutil centralizes every name and path transformation the rest
// of the engine relies on: sanitizing cloud-supplied names, collapsing
// posix paths into lookup keys, and deduplicating manifest entries that
// only differ by case. Normalization drift between packages is where
// sync bugs breed, so every other package imports this one rather than
// reimplementing any of it.
package pathutil

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxMarkerBaseLen is the longest a marker filename base may be before
// TruncateMarkerBase shortens it (see markers package); callers go through
// TruncateMarkerBase rather than reading the constant.
const maxMarkerBaseLen = 230

// reservedWindowsNames are device names that are illegal as a path
// component on Windows regardless of extension.
var reservedWindowsNames = map[string]bool{
	"CON": true, "PRN": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename applies the cross-platform illegal-character rules to a
// single path component: NFC-normalize, replace illegal characters,
// collapse control characters, strip trailing dots/spaces, and prefix
// reserved Windows device names. Idempotent: applying it twice yields
// the same result as applying it once.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)

	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r == ':':
			b.WriteString(" -")
		case r == '?' || r == '*':
			// dropped entirely
		case r == '<' || r == '>' || r == '|' || r == '\\' || r == '/':
			b.WriteByte('-')
		case r == '"':
			b.WriteByte('\'')
		case r < 0x20 || r == 0x7F:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimRight(b.String(), " .")

	upper := strings.ToUpper(out)
	if base, _, found := strings.Cut(upper, "."); found {
		upper = base
	}

	if reservedWindowsNames[upper] {
		out = "_" + out
	}

	return out
}

// EscapeNameSlashes doubles every literal '/' in a cloud-supplied name so
// that a downstream split("/") treats the doubled sequence as part of the
// name rather than as a path separator. Sanitization later turns each
// escaped slash into a dash, producing the expected consecutive-dash
// artifact for names that legitimately contained a slash.
func EscapeNameSlashes(name string) string {
	return strings.ReplaceAll(name, "/", "//")
}

// SanitizePath splits a posix path on unescaped '/' separators, sanitizes
// each component, and rejoins them with '/'. A doubled "//" produced by
// EscapeNameSlashes stays inside its component (handled by the
// splitOnUnescapedSlash helper) rather than being treated as an empty path
// segment; SanitizeFilename then turns each of those slashes into '-',
// which is why names that legitimately contained a slash end up with
// consecutive dashes.
func SanitizePath(p string) string {
	parts := splitOnUnescapedSlash(p)
	for i, part := range parts {
		parts[i] = SanitizeFilename(part)
	}

	return strings.Join(parts, "/")
}

// splitOnUnescapedSlash splits on '/' but treats a "//" run as an escaped
// literal slash belonging to the surrounding component, not a separator.
func splitOnUnescapedSlash(p string) []string {
	var parts []string

	var cur strings.Builder

	runes := []rune(p)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '/' {
			if i+1 < len(runes) && runes[i+1] == '/' {
				cur.WriteString("//")
				i++

				continue
			}

			parts = append(parts, cur.String())
			cur.Reset()

			continue
		}

		cur.WriteRune(runes[i])
	}

	parts = append(parts, cur.String())

	return parts
}

// NormalizePathKey produces the hash key used everywhere paths are
// compared for equality: SanitizePath, then lowercase, then NFC. Markers,
// manifests, and purge plans all compare paths through this function so
// that a filesystem which canonicalizes case or Unicode form differently
// than the cloud store never causes a false "missing" or false "extra".
func NormalizePathKey(p string) string {
	return norm.NFC.String(strings.ToLower(SanitizePath(p)))
}

// TruncateMarkerBase truncates a sanitized archive-path-derived filename to
// fit within the marker filename budget (see internal/markers), appending
// an 8-character hash of the full original path for uniqueness. Safe to
// call unconditionally; it is a no-op when the name already fits.
func TruncateMarkerBase(archivePath, safeName string) string {
	if len(safeName) <= maxMarkerBaseLen {
		return safeName
	}

	sum := md5.Sum([]byte(archivePath)) //nolint:gosec // content-addressing, not security-sensitive
	pathHash := hex.EncodeToString(sum[:])[:8]

	return safeName[:maxMarkerBaseLen-9] + "_" + pathHash
}

// ManifestFile is the subset of file-entry fields dedupe needs. Callers in
// internal/manifest satisfy this with their richer File type.
type ManifestFile interface {
	PathKey() string
	ModifiedUnix() int64
}

// DedupeByNewest collapses manifest entries that normalize to the same
// path key, keeping only the entry with the latest Modified timestamp.
// Needed because cloud filesystems (unlike most local ones) permit "Foo"
// and "foo" to coexist as distinct entries. Idempotent.
func DedupeByNewest[T ManifestFile](files []T) []T {
	byKey := make(map[string]T, len(files))
	order := make([]string, 0, len(files))

	for _, f := range files {
		key := f.PathKey()

		existing, ok := byKey[key]
		if !ok {
			order = append(order, key)
			byKey[key] = f

			continue
		}

		if f.ModifiedUnix() > existing.ModifiedUnix() {
			byKey[key] = f
		}
	}

	out := make([]T, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}

	return out
}
