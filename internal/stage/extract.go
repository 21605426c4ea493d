package stage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const partSuffix = ".part"

// ExtractArchive extracts every entry of the zip archive at src into dst,
// preserving entry names, and returns the extracted file names relative to dst.
//
// When removeSource is set, src is deleted once every entry has been written.
// A failure before that point leaves src in place. Entries already written
// by a failed extraction are not removed; the entry being written when the
// failure happened is.
func ExtractArchive(src, dst string, removeSource bool) ([]string, error) {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, src)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrConfig, src, err)
	}

	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCorruptArchive, filepath.Base(src), err)
	}

	// Validate every name up front so a hostile entry aborts before any write.
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		target, err := entryPath(dst, f.Name)
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, filepath.Base(src), err)
		}
		targets[i] = target
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: create %s: %v", ErrConfig, dst, err)
	}

	var written []string
	for i, f := range zr.File {
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0o755); err != nil {
				zr.Close()
				return written, fmt.Errorf("%w: create directory %s: %v", ErrConfig, f.Name, err)
			}
			continue
		}
		if err := extractEntry(f, targets[i]); err != nil {
			zr.Close()
			return written, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, filepath.Base(src), err)
		}
		rel, _ := filepath.Rel(dst, targets[i])
		written = append(written, filepath.ToSlash(rel))
	}

	// The reader holds src open; close before removal so it also works on Windows.
	if err := zr.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", filepath.Base(src), err)
	}

	if removeSource {
		if err := os.Remove(src); err != nil {
			return written, fmt.Errorf("remove %s: %w", filepath.Base(src), err)
		}
	}
	return written, nil
}

// extractEntry writes f to target through a ".part" sibling so a failed copy
// never leaves a truncated file under the final name.
func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	part := target + partSuffix
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(part)
		return fmt.Errorf("copy entry %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("close %s: %w", f.Name, err)
	}
	if err := os.Rename(part, target); err != nil {
		os.Remove(part)
		return fmt.Errorf("rename %s: %w", f.Name, err)
	}
	return nil
}

// entryPath resolves an archive entry name under dst, rejecting names that
// would escape it.
func entryPath(dst, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty entry name")
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes destination", name)
	}
	return filepath.Join(dst, clean), nil
}
