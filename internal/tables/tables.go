// Package tables inspects the table files produced by a staging run.
package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/datastage/internal/stage"
)

// TableFile describes one table in the csv directory.
type TableFile struct {
	Name    string   `json:"name" yaml:"name"`
	Size    int64    `json:"size" yaml:"size"`
	Columns []string `json:"columns" yaml:"columns"`
	Rows    int      `json:"rows" yaml:"rows"`
}

// progressStep is the percentage between progress reports while counting rows.
const progressStep = 10

// Describe reads the header and counts data rows of the table at path.
// Progress through large tables is logged at debug level.
func Describe(path string) (TableFile, error) {
	return describe(path, func(table string, percent int) {
		slog.Debug("describing table", "table", table, "progress", percent)
	})
}

func describe(path string, progress func(table string, percent int)) (TableFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return TableFile{}, fmt.Errorf("%w: %s", stage.ErrTableNotFound, filepath.Base(path))
		}
		return TableFile{}, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return TableFile{}, fmt.Errorf("stat table: %w", err)
	}

	table := TableFile{Name: filepath.Base(path), Size: info.Size()}

	src := Wrap(f, info.Size())
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return table, nil
	}
	if err != nil {
		return TableFile{}, fmt.Errorf("read header of %s: %w", table.Name, err)
	}
	table.Columns = make([]string, len(header))
	for i, h := range header {
		table.Columns[i] = strings.TrimSpace(h)
	}

	reported := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TableFile{}, fmt.Errorf("read %s: %w", table.Name, err)
		}
		table.Rows++
		if pct := src.Progress(); pct >= reported+progressStep {
			reported = pct - pct%progressStep
			progress(table.Name, reported)
		}
	}
	return table, nil
}

// List describes every table file in dir, sorted by name.
func List(dir string) ([]TableFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read table directory: %w", err)
	}

	var out []TableFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), stage.TableSuffix) {
			continue
		}
		table, err := Describe(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, table)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve returns the path of a named table inside dir. The ".csv" suffix is
// optional and names containing path separators are rejected.
func Resolve(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: invalid table name %q", stage.ErrTableNotFound, name)
	}
	if !strings.HasSuffix(name, stage.TableSuffix) {
		name += stage.TableSuffix
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", stage.ErrTableNotFound, name)
	}
	return path, nil
}
