package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Suffixes recognized in the staging directory.
const (
	TableSuffix         = ".csv"
	NestedArchiveSuffix = ".csv.zip"
)

// removeFile is swapped in tests to force removal failures.
var removeFile = os.Remove

// CleanStale removes every entry of dir whose name ends in TableSuffix and
// returns the removed names. Other files and subdirectories are left alone.
// A missing or already clean directory is a no-op.
//
// The first failed removal aborts; entries removed before it stay removed.
func CleanStale(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrPartialCleanup, dir, err)
	}

	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), TableSuffix) {
			continue
		}
		if err := removeFile(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("%w: remove %s: %v", ErrPartialCleanup, entry.Name(), err)
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}
