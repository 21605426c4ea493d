package main

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/pipeline"
	"github.com/JonMunkholm/datastage/internal/stage"
	"github.com/JonMunkholm/datastage/internal/tables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeError(t *testing.T) {
	err := describeError(fmt.Errorf("stat: %w", stage.ErrArchiveNotFound))
	require.ErrorIs(t, err, stage.ErrArchiveNotFound)
	assert.Contains(t, err.Error(), "[ZIP001]")
	assert.Contains(t, err.Error(), "hint: Download the archive")

	err = describeError(stage.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "[TBL002]")
	assert.NotContains(t, err.Error(), "hint")
}

func TestPrintRunSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := &pipeline.Result{
		Run: history.Run{Status: history.StatusSucceeded, StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)},
		Manifest: &pipeline.Manifest{
			Tables:  []tables.TableFile{{Name: "train.csv", Rows: 2, Columns: []string{"ID", "target"}, Size: 20}},
			Skipped: []string{"notes.md"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printRunSummary(&buf, result))

	out := buf.String()
	assert.Contains(t, out, "succeeded in 1.5s")
	assert.Contains(t, out, "train.csv")
	assert.Contains(t, out, "skipped: notes.md")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "serve", "profile", "tables", "history"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, runCmd.Flags().Lookup("warehouse"))
	assert.NotNil(t, profileCmd.Flags().Lookup("prefix"))
}
