package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// NullSample stands for a missing value in ColumnSummary.Sample.
const NullSample = "NULL"

// DefaultSampleSize is the number of distinct values sampled per column.
const DefaultSampleSize = 10

// ProfileOptions narrows which columns are summarized.
type ProfileOptions struct {
	// Types keeps columns whose DuckDB type starts with one of these names
	// (case-insensitive), e.g. "VARCHAR" or "DECIMAL".
	Types []string
	// Prefixes keeps columns whose name starts with one of these prefixes.
	Prefixes []string
	// SampleSize is the number of distinct values to sample.
	SampleSize int
}

// ColumnSummary describes the values of one column.
type ColumnSummary struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Sample        []string `json:"sample"`
	DistinctCount int64    `json:"distinct_count"`
	PercentNull   float64  `json:"percent_null"`
}

type column struct {
	name string
	typ  string
}

// Profile summarizes the columns of a csv or parquet table: the first
// distinct values in order of appearance (NULL reported as NullSample), the
// distinct count and the null percentage rounded to two decimals.
func (c *Converter) Profile(ctx context.Context, path string, opts ProfileOptions) ([]ColumnSummary, error) {
	source, err := sourceExpr(path)
	if err != nil {
		return nil, err
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}

	cols, err := c.describe(ctx, source)
	if err != nil {
		return nil, err
	}

	var out []ColumnSummary
	for _, col := range cols {
		if !matchesAny(col.typ, opts.Types, true) || !matchesAny(col.name, opts.Prefixes, false) {
			continue
		}
		summary, err := c.summarize(ctx, source, col, opts.SampleSize)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (c *Converter) describe(ctx context.Context, source string) ([]column, error) {
	rows, err := c.db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return nil, fmt.Errorf("describe table: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var cols []column
	for rows.Next() {
		vals := make([]sql.NullString, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan column description: %w", err)
		}
		// DESCRIBE yields column_name, column_type, null, key, default, extra.
		cols = append(cols, column{name: vals[0].String, typ: vals[1].String})
	}
	return cols, rows.Err()
}

func (c *Converter) summarize(ctx context.Context, source string, col column, sampleSize int) (ColumnSummary, error) {
	ident := quoteIdent(col.name)
	summary := ColumnSummary{Name: col.name, Type: col.typ, Sample: []string{}}

	stats := fmt.Sprintf(
		"SELECT COUNT(DISTINCT %[1]s), COALESCE(ROUND(100.0 * COUNT(*) FILTER (WHERE %[1]s IS NULL) / NULLIF(COUNT(*), 0), 2), 0) FROM %[2]s",
		ident, source)
	if err := c.db.QueryRowContext(ctx, stats).Scan(&summary.DistinctCount, &summary.PercentNull); err != nil {
		return ColumnSummary{}, fmt.Errorf("summarize %s: %w", col.name, err)
	}

	// Distinct values in order of first appearance, NULL included.
	sample := fmt.Sprintf(
		"SELECT v FROM (SELECT CAST(%[1]s AS VARCHAR) AS v, row_number() OVER () AS pos FROM %[2]s) GROUP BY v ORDER BY min(pos) LIMIT %[3]d",
		ident, source, sampleSize)
	rows, err := c.db.QueryContext(ctx, sample)
	if err != nil {
		return ColumnSummary{}, fmt.Errorf("sample %s: %w", col.name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return ColumnSummary{}, fmt.Errorf("scan sample of %s: %w", col.name, err)
		}
		if !v.Valid {
			summary.Sample = append(summary.Sample, NullSample)
			continue
		}
		summary.Sample = append(summary.Sample, v.String)
	}
	return summary, rows.Err()
}

// matchesAny reports whether s starts with one of prefixes. An empty prefix
// list matches everything.
func matchesAny(s string, prefixes []string, fold bool) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if fold {
			if strings.HasPrefix(strings.ToUpper(s), strings.ToUpper(p)) {
				return true
			}
		} else if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
