package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/warehouse"
	"github.com/spf13/cobra"
)

var (
	// profile command flags
	profSample   int
	profPrefixes []string
	profTypes    []string

	// history command flags
	histLimit int
)

func init() {
	profileCmd.Flags().IntVar(&profSample, "sample", 0, "Distinct values sampled per column (default PROFILE_SAMPLE_SIZE)")
	profileCmd.Flags().StringSliceVar(&profPrefixes, "prefix", nil, "Only columns whose name starts with one of these prefixes")
	profileCmd.Flags().StringSliceVar(&profTypes, "type", nil, "Only columns of these DuckDB types, e.g. VARCHAR,BIGINT")

	historyCmd.Flags().IntVar(&histLimit, "limit", 20, "Maximum number of runs to show")
}

var profileCmd = &cobra.Command{
	Use:   "profile <table|path>",
	Short: "Summarize the columns of a staged table",
	Long: `Print type, distinct count, null percentage and a sample of distinct values
for each column of a table. The table is a name in raw/csv ("train" or
"train.csv"), a parquet file in data_warehouse ("train.parquet"), or a path
to any csv or parquet file.

Examples:
  stager profile train --prefix VAR_000 --sample 5
  stager profile train.parquet --type VARCHAR
  stager profile ./extra/lookup.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runProfile,
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables staged in raw/csv",
	Args:  cobra.NoArgs,
	RunE:  runTables,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent staging runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{converter: true})
	if err != nil {
		return err
	}
	defer a.close()

	opts := warehouse.ProfileOptions{
		Types:      profTypes,
		Prefixes:   profPrefixes,
		SampleSize: profSample,
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = a.cfg.Warehouse.SampleSize
	}

	var summaries []warehouse.ColumnSummary
	if target := args[0]; strings.ContainsAny(target, `/\`) {
		if _, err := os.Stat(target); err != nil {
			return describeError(fmt.Errorf("profile %s: %w", target, err))
		}
		summaries, err = a.converter.Profile(ctx, target, opts)
	} else {
		summaries, err = a.service.Profile(ctx, target, opts)
	}
	if err != nil {
		return describeError(err)
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), summaries)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tTYPE\tDISTINCT\tNULL%\tSAMPLE")
	for _, c := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%s\n", c.Name, c.Type, c.DistinctCount, c.PercentNull, strings.Join(c.Sample, ", "))
	}
	return w.Flush()
}

func runTables(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.service.Tables()
	if err != nil {
		return describeError(err)
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tables staged. Run `stager run` first.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS\tCOLUMNS\tSIZE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t.Name, t.Rows, len(t.Columns), t.Size)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	runs, err := a.service.History(ctx, histLimit)
	if err != nil {
		return err
	}
	if outputJSON {
		if runs == nil {
			runs = []history.Run{}
		}
		return printJSON(cmd.OutOrStdout(), runs)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tTABLES\tDURATION\tCODE\tID")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.Tables,
			r.Duration().Round(time.Millisecond),
			r.Code,
			r.ID,
		)
	}
	return w.Flush()
}
