// Package archive implements extraction and in-place processing of
// downloaded chart packs: dispatch by container format,
// restrictive-permission repair, flatten detection, and the move into the
// final destination folder that precedes a marker write.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode"
)

// Extract dispatches by file extension and writes the full internal tree
// of archivePath into dest. dest must already exist.
func Extract(archivePath, dest string) error {
	switch ext := strings.ToLower(filepath.Ext(archivePath)); ext {
	case ".zip":
		return extractZip(archivePath, dest)
	case ".7z":
		return extract7z(archivePath, dest)
	case ".rar":
		return extractRar(archivePath, dest)
	default:
		return fmt.Errorf("archive: unsupported format %q", ext)
	}
}

func extractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath) //nolint:gosec // archivePath is our own temp-download path
	if err != nil {
		return fmt.Errorf("archive: opening zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := writeZipEntry(f, dest); err != nil {
			return err
		}
	}

	return nil
}

func writeZipEntry(f *zip.File, dest string) error {
	target, err := safeJoin(dest, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("archive: opening zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	return writeFile(target, rc)
}

func extract7z(archivePath, dest string) error {
	r, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("archive: opening 7z: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("archive: creating %s: %w", target, err)
			}

			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("archive: creating %s: %w", filepath.Dir(target), err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("archive: opening 7z entry %s: %w", f.Name, err)
		}

		writeErr := writeFile(target, rc)
		rc.Close()

		if writeErr != nil {
			return writeErr
		}
	}

	return nil
}

func extractRar(archivePath, dest string) error {
	r, err := rardecode.OpenReader(archivePath, "")
	if err != nil {
		return fmt.Errorf("archive: opening rar: %w", err)
	}
	defer r.Close()

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return fmt.Errorf("archive: reading rar entry: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		if hdr.IsDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("archive: creating %s: %w", target, err)
			}

			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("archive: creating %s: %w", filepath.Dir(target), err)
		}

		if err := writeFile(target, r); err != nil {
			return err
		}
	}

	return nil
}

// safeJoin joins dest and name, rejecting entries that would escape dest
// via a path-traversal component — a malicious or corrupt archive must
// never write outside its destination.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.Join(dest, name))

	if clean != dest && !strings.HasPrefix(clean, dest+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q escapes destination", name)
	}

	return clean, nil
}

func writeFile(target string, r io.Reader) error {
	f, err := os.Create(target) //nolint:gosec // target is validated by safeJoin to stay under dest
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", target, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil { //nolint:gosec // archive content, not attacker-controlled network input
		return fmt.Errorf("archive: writing %s: %w", target, err)
	}

	return nil
}

// FixPermissions walks dest and adds owner read+write to every file and
// directory that lacks it — some archives (notably RAR) preserve
// restrictive Unix modes that would otherwise block later moves or
// deletes. Returns the count of entries fixed.
func FixPermissions(dest string) int {
	const needed = 0o600

	fixed := 0

	_ = filepath.Walk(dest, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort repair; unreadable entries are simply skipped
		}

		mode := info.Mode().Perm()
		if mode&needed != needed {
			if chErr := os.Chmod(path, mode|needed); chErr == nil {
				fixed++
			}
		}

		return nil
	})

	return fixed
}
