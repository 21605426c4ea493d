// Package pipeline ties a staging run to the steps around it: run gating,
// table inspection, optional parquet conversion, the run manifest and run
// history. The CLI and the HTTP server both drive runs through Service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/logging"
	"github.com/JonMunkholm/datastage/internal/stage"
	"github.com/JonMunkholm/datastage/internal/tables"
	"github.com/JonMunkholm/datastage/internal/warehouse"
	"github.com/google/uuid"
)

// Converter turns staged tables into columnar files and profiles them.
type Converter interface {
	ConvertAll(ctx context.Context, csvDir, outDir string) ([]warehouse.Output, error)
	Profile(ctx context.Context, path string, opts warehouse.ProfileOptions) ([]warehouse.ColumnSummary, error)
}

// Runner executes one staging pass.
type Runner interface {
	Run(ctx context.Context) (*stage.Report, error)
}

// Options tunes a Service.
type Options struct {
	// DatasetRoot locates the layout for table listing and profiling.
	DatasetRoot string
	// Archive is reported in history and the manifest.
	Archive string
	// Warehouse converts tables to parquet after each successful run.
	Warehouse bool
	// RunTimeout bounds a single run; zero means no bound.
	RunTimeout time.Duration
	// SampleSize is the default profile sample size.
	SampleSize int
	// Metrics receives run metrics; nil disables them.
	Metrics *Metrics
}

// Result is the outcome of Service.Run.
type Result struct {
	Run      history.Run
	Report   *stage.Report
	Manifest *Manifest
}

// Service coordinates staging runs.
type Service struct {
	runner    Runner
	converter Converter
	store     history.Store
	gate      *RunGate
	opts      Options
	layout    stage.Layout

	now   func() time.Time
	newID func() uuid.UUID
}

// NewService wires a Service. converter may be nil when neither conversion
// nor profiling is needed; store may be nil to skip history.
func NewService(runner Runner, converter Converter, store history.Store, gate *RunGate, opts Options) (*Service, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", stage.ErrConfig)
	}
	layout, err := stage.NewLayout(opts.DatasetRoot)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = history.NopStore{}
	}
	if gate == nil {
		gate = NewRunGate(1, DefaultMaxWait)
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = warehouse.DefaultSampleSize
	}
	return &Service{
		runner:    runner,
		converter: converter,
		store:     store,
		gate:      gate,
		opts:      opts,
		layout:    layout,
		now:       time.Now,
		newID:     uuid.New,
	}, nil
}

// Layout returns the dataset layout the service works on.
func (s *Service) Layout() stage.Layout {
	return s.layout
}

// Status reports whether a run is in progress.
func (s *Service) Status() GateStatus {
	return s.gate.Status()
}

// WaitForRuns blocks until the active run, if any, completes.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.gate.WaitForDrain(ctx)
}

// Run performs one staging run and records it. The returned Result is
// populated even when the run fails, except when the gate is busy.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	if err := s.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.gate.Release()

	run := history.Run{ID: s.newID(), Archive: s.opts.Archive, StartedAt: s.now()}
	ctx = logging.ContextWithRunID(ctx, run.ID.String())
	logger := logging.WithFields(ctx, "archive", filepath.Base(s.opts.Archive))

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	logger.Info("run started")
	s.opts.Metrics.started()
	result := &Result{}
	err := s.execute(ctx, run.ID, result)

	run.FinishedAt = s.now()
	if result.Report != nil {
		run.Tables = len(result.Report.Tables)
	}
	if err != nil {
		run.Status = history.StatusFailed
		run.Error = err.Error()
		run.Code = stage.MapError(err).Code
		logger.Error("run failed", "error", err, "code", run.Code)
	} else {
		run.Status = history.StatusSucceeded
		logger.Info("run succeeded", "tables", run.Tables, "duration", run.Duration().Round(time.Millisecond))
	}
	result.Run = run
	s.opts.Metrics.finished(result)

	// Record even when the run was cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if recErr := s.store.Record(recordCtx, run); recErr != nil {
		logger.Warn("run history not recorded", "error", recErr)
	}

	return result, err
}

func (s *Service) execute(ctx context.Context, runID uuid.UUID, result *Result) error {
	report, err := s.runner.Run(ctx)
	result.Report = report
	if err != nil {
		return err
	}

	described, err := tables.List(report.Layout.CSV)
	if err != nil {
		return err
	}

	manifest := &Manifest{
		RunID:       runID.String(),
		Archive:     s.opts.Archive,
		GeneratedAt: s.now().UTC(),
		Tables:      described,
		Skipped:     report.Skipped,
	}

	if s.opts.Warehouse {
		if s.converter == nil {
			return fmt.Errorf("%w: warehouse conversion enabled without a converter", stage.ErrConfig)
		}
		outputs, err := s.converter.ConvertAll(ctx, report.Layout.CSV, report.Layout.Warehouse)
		if err != nil {
			return fmt.Errorf("warehouse conversion: %w", err)
		}
		manifest.Warehouse = outputs
	}

	if err := WriteManifest(report.Layout.Root, *manifest); err != nil {
		return err
	}
	result.Manifest = manifest
	return nil
}

// Tables describes the tables currently in the csv directory.
func (s *Service) Tables() ([]tables.TableFile, error) {
	return tables.List(s.layout.CSV)
}

// Manifest returns the manifest of the last successful run, or nil.
func (s *Service) Manifest() (*Manifest, error) {
	return ReadManifest(s.layout.Root)
}

// History lists recorded runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Run, error) {
	return s.store.List(ctx, limit)
}

// Profile summarizes the columns of a table. name is a csv table in the csv
// directory ("train" or "train.csv") or a parquet file in the warehouse
// directory ("train.parquet").
func (s *Service) Profile(ctx context.Context, name string, opts warehouse.ProfileOptions) ([]warehouse.ColumnSummary, error) {
	if s.converter == nil {
		return nil, errors.New("profiling requires a converter")
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = s.opts.SampleSize
	}

	var (
		path string
		err  error
	)
	if strings.HasSuffix(name, warehouse.ParquetSuffix) {
		path, err = resolveIn(s.layout.Warehouse, name)
	} else {
		path, err = tables.Resolve(s.layout.CSV, name)
	}
	if err != nil {
		return nil, err
	}
	return s.converter.Profile(ctx, path, opts)
}

func resolveIn(dir, name string) (string, error) {
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: invalid table name %q", stage.ErrTableNotFound, name)
	}
	return filepath.Join(dir, name), nil
}
