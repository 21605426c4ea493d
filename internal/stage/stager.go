package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Options configures a Stager.
type Options struct {
	// ArchivePath is the location of the input zip.
	ArchivePath string
	// DatasetRoot is the base directory of the layout.
	DatasetRoot string
}

// Report summarizes a completed (or aborted) run.
type Report struct {
	Archive    string
	Layout     Layout
	StartedAt  time.Time
	FinishedAt time.Time

	// Removed lists stale tables deleted from csv/.
	Removed []string
	// Staged lists entries extracted from the top-level archive.
	Staged []string
	// Nested lists nested archives extracted into csv/ and removed.
	Nested []string
	// Moved lists plain tables renamed from staging/ into csv/.
	Moved []string
	// Skipped lists staging entries matching neither suffix.
	Skipped []string
	// Tables lists the table files present in csv/ after the run.
	Tables []string
}

// Stager runs the ingestion sequence for one archive and dataset root.
// A Stager is not safe for concurrent Run calls against the same root.
type Stager struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New validates opts and returns a Stager. A nil logger uses slog.Default.
func New(opts Options, logger *slog.Logger) (*Stager, error) {
	if strings.TrimSpace(opts.DatasetRoot) == "" {
		return nil, fmt.Errorf("%w: dataset root is required", ErrConfig)
	}
	if strings.TrimSpace(opts.ArchivePath) == "" {
		return nil, fmt.Errorf("%w: archive path is required", ErrConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{opts: opts, logger: logger, now: time.Now}, nil
}

// Run executes one staging pass. On error the returned report describes the
// steps that completed before the failure.
func (s *Stager) Run(ctx context.Context) (*Report, error) {
	report := &Report{Archive: s.opts.ArchivePath, StartedAt: s.now()}
	defer func() { report.FinishedAt = s.now() }()

	layout, err := EnsureLayout(s.opts.DatasetRoot)
	if err != nil {
		return report, err
	}
	report.Layout = layout
	log := s.logger.With("root", layout.Root)

	if err := checkArchive(s.opts.ArchivePath); err != nil {
		return report, err
	}

	// Cleanup is destructive; a cancelled run must not reach it.
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run cancelled: %w", err)
	}

	removed, err := CleanStale(layout.CSV)
	report.Removed = removed
	if err != nil {
		return report, err
	}
	log.Debug("stale tables removed", "count", len(removed))

	staged, err := ExtractArchive(s.opts.ArchivePath, layout.Staging, false)
	report.Staged = staged
	if err != nil {
		return report, err
	}
	log.Info("archive extracted", "archive", filepath.Base(s.opts.ArchivePath), "entries", len(staged))

	if err := s.distribute(ctx, layout, report); err != nil {
		return report, err
	}

	tables, err := listTables(layout.CSV)
	if err != nil {
		return report, err
	}
	report.Tables = tables

	log.Info("staging complete",
		"tables", len(report.Tables),
		"nested", len(report.Nested),
		"moved", len(report.Moved),
		"skipped", len(report.Skipped),
	)
	return report, nil
}

// distribute moves the contents of staging/ into csv/.
func (s *Stager) distribute(ctx context.Context, layout Layout, report *Report) error {
	entries, err := os.ReadDir(layout.Staging)
	if err != nil {
		return fmt.Errorf("read staging: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}

		name := entry.Name()
		path := filepath.Join(layout.Staging, name)

		switch {
		case entry.IsDir():
			report.Skipped = append(report.Skipped, name)
			s.logger.Warn("staging entry left in place", "entry", name, "reason", "directory")

		case strings.HasSuffix(name, NestedArchiveSuffix):
			extracted, err := ExtractArchive(path, layout.CSV, true)
			if err != nil {
				return err
			}
			report.Nested = append(report.Nested, name)
			s.logger.Debug("nested archive extracted", "archive", name, "entries", len(extracted))

		case strings.HasSuffix(name, TableSuffix):
			if err := os.Rename(path, filepath.Join(layout.CSV, name)); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMoveTable, name, err)
			}
			report.Moved = append(report.Moved, name)
			s.logger.Debug("table moved", "table", name)

		default:
			report.Skipped = append(report.Skipped, name)
			s.logger.Warn("staging entry left in place", "entry", name, "reason", "unrecognized suffix")
		}
	}
	return nil
}

func checkArchive(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
		}
		return fmt.Errorf("%w: stat archive %s: %v", ErrConfig, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: archive path %s is a directory", ErrConfig, path)
	}
	return nil
}

func listTables(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read csv directory: %w", err)
	}
	var tables []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), TableSuffix) {
			tables = append(tables, entry.Name())
		}
	}
	sort.Strings(tables)
	return tables, nil
}
