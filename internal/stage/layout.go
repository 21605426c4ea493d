package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Relative directory names under the dataset root.
const (
	ZipDir       = "raw/zip"
	StagingDir   = "raw/staging"
	CSVDir       = "raw/csv"
	WarehouseDir = "data_warehouse"
)

// Layout holds the resolved absolute paths of the dataset directories.
type Layout struct {
	Root      string
	Zip       string
	Staging   string
	CSV       string
	Warehouse string
}

// NewLayout resolves the layout under root without touching the filesystem.
func NewLayout(root string) (Layout, error) {
	abs, err := absRoot(root)
	if err != nil {
		return Layout{}, err
	}
	return Layout{
		Root:      abs,
		Zip:       filepath.Join(abs, filepath.FromSlash(ZipDir)),
		Staging:   filepath.Join(abs, filepath.FromSlash(StagingDir)),
		CSV:       filepath.Join(abs, filepath.FromSlash(CSVDir)),
		Warehouse: filepath.Join(abs, filepath.FromSlash(WarehouseDir)),
	}, nil
}

// EnsureDir makes sure root/name exists and returns its absolute path.
// name may contain several segments; missing intermediates are created.
// Calling it on an existing directory is a no-op.
func EnsureDir(root, name string) (string, error) {
	abs, err := absRoot(root)
	if err != nil {
		return "", err
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: directory %q must be relative to the dataset root", ErrConfig, name)
	}

	dir := filepath.Join(abs, clean)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory %s: %v", ErrConfig, dir, err)
	}
	return dir, nil
}

// EnsureLayout creates all four dataset directories under root.
func EnsureLayout(root string) (Layout, error) {
	layout, err := NewLayout(root)
	if err != nil {
		return Layout{}, err
	}

	for _, name := range []string{ZipDir, StagingDir, CSVDir, WarehouseDir} {
		if _, err := EnsureDir(layout.Root, name); err != nil {
			return Layout{}, err
		}
	}
	return layout, nil
}

func absRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: dataset root is empty", ErrConfig)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: resolve dataset root %q: %v", ErrConfig, root, err)
	}
	return abs, nil
}
