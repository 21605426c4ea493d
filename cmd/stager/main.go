// Package main implements the stager CLI: it unpacks the competition archive
// into the dataset layout and serves the staged tables over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JonMunkholm/datastage/internal/config"
	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/logging"
	"github.com/JonMunkholm/datastage/internal/pipeline"
	"github.com/JonMunkholm/datastage/internal/stage"
	"github.com/JonMunkholm/datastage/internal/warehouse"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	// outputJSON switches table output to JSON
	outputJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stager",
	Short: "Stage the Springleaf competition archive for analysis",
	Long: `stager unpacks the downloaded competition archive into a fixed dataset
layout (raw/zip, raw/staging, raw/csv, data_warehouse), optionally converts
the tables to parquet, and records every run.

Settings come from the environment or a .env file in the working directory.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(runCmd, serveCmd, profileCmd, tablesCmd, historyCmd)
}

// app holds the components shared by the subcommands.
type app struct {
	cfg       *config.Config
	store     history.Store
	converter *warehouse.Converter
	service   *pipeline.Service
	registry  *prometheus.Registry
}

// appOptions adjusts wiring per subcommand.
type appOptions struct {
	// converter starts DuckDB even when warehouse conversion is off.
	converter bool
	// warehouse forces parquet conversion after the run.
	warehouse bool
	// metrics registers run metrics with the app registry.
	metrics bool
}

// newApp loads configuration and wires the pipeline.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	// Overload lets a local .env win over inherited variables.
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if opts.warehouse {
		cfg.Warehouse.Enabled = true
	}
	slog.Debug("configuration loaded", "config", cfg.String())

	stager, err := stage.New(stage.Options{
		ArchivePath: cfg.Dataset.ArchivePath,
		DatasetRoot: cfg.Dataset.Root,
	}, slog.Default())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	if opts.converter || cfg.Warehouse.Enabled {
		a.converter, err = warehouse.Open(warehouse.Options{
			Compression: cfg.Warehouse.Compression,
			MemoryLimit: cfg.Warehouse.MemoryLimit,
			Threads:     cfg.Warehouse.Threads,
		}, slog.Default())
		if err != nil {
			return nil, err
		}
	}

	a.store, err = history.Open(ctx, history.Config{
		Driver: cfg.History.Driver,
		Path:   cfg.HistoryPath(),
		URL:    cfg.History.DatabaseURL,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open run history: %w", err)
	}

	var metrics *pipeline.Metrics
	if opts.metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = pipeline.NewMetrics(a.registry)
	}

	var conv pipeline.Converter
	if a.converter != nil {
		conv = a.converter
	}
	a.service, err = pipeline.NewService(stager, conv, a.store,
		pipeline.NewRunGate(1, cfg.Run.MaxWait),
		pipeline.Options{
			DatasetRoot: cfg.Dataset.Root,
			Archive:     cfg.Dataset.ArchivePath,
			Warehouse:   cfg.Warehouse.Enabled,
			RunTimeout:  cfg.Run.Timeout,
			SampleSize:  cfg.Warehouse.SampleSize,
			Metrics:     metrics,
		})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("close run history", "error", err)
		}
	}
	if a.converter != nil {
		if err := a.converter.Close(); err != nil {
			slog.Warn("close warehouse", "error", err)
		}
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeError prefixes err with its user-facing code and hint.
func describeError(err error) error {
	msg := stage.MapError(err)
	if msg.Action == "" {
		return fmt.Errorf("%s [%s]: %w", msg.Message, msg.Code, err)
	}
	return fmt.Errorf("%s [%s]: %w\n  hint: %s", msg.Message, msg.Code, err, msg.Action)
}
