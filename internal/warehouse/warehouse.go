// Package warehouse converts staged tables into Parquet files and profiles
// their columns. DuckDB does the heavy lifting in an in-memory database, so
// tables larger than RAM are streamed rather than loaded.
package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/datastage/internal/stage"
	"github.com/marcboeker/go-duckdb"
)

// ParquetSuffix is the extension of converted tables.
const ParquetSuffix = ".parquet"

// Supported parquet compression codecs.
var Compressions = []string{"zstd", "snappy", "gzip", "uncompressed"}

// Options configures a Converter.
type Options struct {
	// Compression is the parquet codec (default zstd).
	Compression string
	// MemoryLimit caps DuckDB memory, e.g. "1GB". Empty leaves the default.
	MemoryLimit string
	// Threads caps DuckDB worker threads. Zero leaves the default.
	Threads int
}

// Output describes one converted table.
type Output struct {
	Table string `json:"table" yaml:"table"`
	Path  string `json:"path" yaml:"path"`
	Rows  int64  `json:"rows" yaml:"rows"`
}

// Converter owns an in-memory DuckDB database.
type Converter struct {
	db          *sql.DB
	compression string
	logger      *slog.Logger
}

// Open starts an in-memory DuckDB instance. A nil logger uses slog.Default.
func Open(opts Options, logger *slog.Logger) (*Converter, error) {
	compression := strings.ToLower(strings.TrimSpace(opts.Compression))
	if compression == "" {
		compression = "zstd"
	}
	if !validCompression(compression) {
		return nil, fmt.Errorf("%w: unknown parquet compression %q", stage.ErrConfig, opts.Compression)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var pragmas []string
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, "SET memory_limit="+quoteLiteral(opts.MemoryLimit))
	}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("SET threads=%d", opts.Threads))
	}
	pragmas = append(pragmas, "SET enable_progress_bar=false")

	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create duckdb connector: %w", err)
	}

	return &Converter{
		db:          sql.OpenDB(connector),
		compression: compression,
		logger:      logger,
	}, nil
}

// Close releases the DuckDB instance.
func (c *Converter) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Convert writes the csv table at src to a parquet file at dst.
func (c *Converter) Convert(ctx context.Context, src, dst string) (Output, error) {
	source, err := sourceExpr(src)
	if err != nil {
		return Output{}, err
	}

	tmp := dst + ".tmp"
	query := fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT PARQUET, COMPRESSION %s)",
		source, quoteLiteral(tmp), quoteLiteral(c.compression))
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		os.Remove(tmp)
		return Output{}, fmt.Errorf("convert %s: %w", filepath.Base(src), err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return Output{}, fmt.Errorf("publish %s: %w", filepath.Base(dst), err)
	}

	var rows int64
	if err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM read_parquet("+quoteLiteral(dst)+")").Scan(&rows); err != nil {
		return Output{}, fmt.Errorf("count rows of %s: %w", filepath.Base(dst), err)
	}

	return Output{
		Table: strings.TrimSuffix(filepath.Base(src), stage.TableSuffix),
		Path:  dst,
		Rows:  rows,
	}, nil
}

// ConvertAll converts every table in csvDir into outDir. Parquet files left
// in outDir by an earlier run are removed first.
func (c *Converter) ConvertAll(ctx context.Context, csvDir, outDir string) ([]Output, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", stage.ErrConfig, outDir, err)
	}
	if err := removeStaleParquet(outDir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(csvDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", csvDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), stage.TableSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	outputs := make([]Output, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return outputs, fmt.Errorf("conversion cancelled: %w", err)
		}
		dst := filepath.Join(outDir, strings.TrimSuffix(name, stage.TableSuffix)+ParquetSuffix)
		out, err := c.Convert(ctx, filepath.Join(csvDir, name), dst)
		if err != nil {
			return outputs, err
		}
		c.logger.Info("table converted", "table", out.Table, "rows", out.Rows)
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func removeStaleParquet(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ParquetSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("%w: remove %s: %v", stage.ErrPartialCleanup, e.Name(), err)
		}
	}
	return nil
}

// sourceExpr returns the DuckDB table function reading path.
func sourceExpr(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", stage.ErrTableNotFound, filepath.Base(path))
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	switch {
	case strings.HasSuffix(path, stage.TableSuffix):
		return "read_csv_auto(" + quoteLiteral(path) + ", header=true)", nil
	case strings.HasSuffix(path, ParquetSuffix):
		return "read_parquet(" + quoteLiteral(path) + ")", nil
	default:
		return "", fmt.Errorf("%w: %s", stage.ErrUnsupportedFormat, filepath.Base(path))
	}
}

func validCompression(c string) bool {
	for _, v := range Compressions {
		if v == c {
			return true
		}
	}
	return false
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
