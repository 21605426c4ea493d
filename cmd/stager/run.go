package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/datastage/internal/pipeline"
	"github.com/spf13/cobra"
)

var runWarehouse bool

func init() {
	runCmd.Flags().BoolVar(&runWarehouse, "warehouse", false, "Convert staged tables to parquet (overrides WAREHOUSE_ENABLED)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stage the archive into raw/csv",
	Long: `Run one staging pass: create the layout, delete stale tables from raw/csv,
extract the archive into raw/staging, unpack nested table archives and move
plain tables into raw/csv.

Examples:
  # Stage the archive named by ARCHIVE_PATH
  stager run

  # Stage and convert to parquet
  stager run --warehouse`,
	Args: cobra.NoArgs,
	RunE: runStage,
}

func runStage(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{warehouse: runWarehouse})
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.service.Run(ctx)
	if err != nil {
		return describeError(err)
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, result.Manifest)
	}
	return printRunSummary(out, result)
}

func printRunSummary(out io.Writer, result *pipeline.Result) error {
	fmt.Fprintf(out, "Run %s %s in %s\n\n",
		result.Run.ID, result.Run.Status, result.Run.Duration().Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS\tCOLUMNS\tSIZE")
	for _, t := range result.Manifest.Tables {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t.Name, t.Rows, len(t.Columns), t.Size)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, name := range result.Manifest.Skipped {
		fmt.Fprintf(out, "skipped: %s\n", name)
	}
	for _, o := range result.Manifest.Warehouse {
		fmt.Fprintf(out, "parquet: %s (%d rows)\n", o.Path, o.Rows)
	}
	return nil
}
