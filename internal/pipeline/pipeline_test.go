package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/stage"
	"github.com/JonMunkholm/datastage/internal/warehouse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverter struct {
	converted   []string
	profiled    string
	profileOpts warehouse.ProfileOptions
}

func (f *fakeConverter) ConvertAll(_ context.Context, csvDir, outDir string) ([]warehouse.Output, error) {
	entries, err := os.ReadDir(csvDir)
	if err != nil {
		return nil, err
	}
	var outs []warehouse.Output
	for _, e := range entries {
		f.converted = append(f.converted, e.Name())
		outs = append(outs, warehouse.Output{Table: e.Name(), Path: filepath.Join(outDir, e.Name()+".parquet")})
	}
	return outs, nil
}

func (f *fakeConverter) Profile(_ context.Context, path string, opts warehouse.ProfileOptions) ([]warehouse.ColumnSummary, error) {
	f.profiled = path
	f.profileOpts = opts
	return []warehouse.ColumnSummary{{Name: "ID"}}, nil
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	root    string
	archive string
	store   *history.SQLiteStore
	conv    *fakeConverter
	svc     *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	archive := filepath.Join(root, "raw", "zip", "springleaf.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(archive), 0o755))
	nested := zipOf(t, map[string][]byte{"train.csv": []byte("ID,target\n1,0\n2,1\n")})
	require.NoError(t, os.WriteFile(archive, zipOf(t, map[string][]byte{
		"train.csv.zip": nested,
		"test.csv":      []byte("ID\n3\n"),
		"sample.txt":    []byte("x"),
	}), 0o644))

	stager, err := stage.New(stage.Options{ArchivePath: archive, DatasetRoot: root}, nil)
	require.NoError(t, err)
	store, err := history.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	conv := &fakeConverter{}
	opts.DatasetRoot = root
	opts.Archive = archive
	svc, err := NewService(stager, conv, store, NewRunGate(1, 50*time.Millisecond), opts)
	require.NoError(t, err)

	return &fixture{root: root, archive: archive, store: store, conv: conv, svc: svc}
}

func TestServiceRun(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	result, err := f.svc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, history.StatusSucceeded, result.Run.Status)
	assert.Equal(t, 2, result.Run.Tables)
	require.NotNil(t, result.Manifest)
	require.Len(t, result.Manifest.Tables, 2)
	assert.Equal(t, "test.csv", result.Manifest.Tables[0].Name)
	assert.Equal(t, "train.csv", result.Manifest.Tables[1].Name)
	assert.Equal(t, 2, result.Manifest.Tables[1].Rows)
	assert.Equal(t, []string{"sample.txt"}, result.Manifest.Skipped)
	assert.Empty(t, f.conv.converted, "warehouse disabled")

	onDisk, err := f.svc.Manifest()
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, result.Run.ID.String(), onDisk.RunID)
	assert.Equal(t, result.Manifest.Tables, onDisk.Tables)

	runs, err := f.svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.Run.ID, runs[0].ID)
	assert.False(t, f.svc.Status().Running)
}

func TestServiceRun_Warehouse(t *testing.T) {
	f := newFixture(t, Options{Warehouse: true})

	result, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"test.csv", "train.csv"}, f.conv.converted)
	assert.Len(t, result.Manifest.Warehouse, 2)
}

func TestServiceRun_FailureIsRecorded(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, os.Remove(f.archive))
	ctx := context.Background()

	result, err := f.svc.Run(ctx)
	require.ErrorIs(t, err, stage.ErrArchiveNotFound)
	require.NotNil(t, result)
	assert.Equal(t, history.StatusFailed, result.Run.Status)
	assert.Equal(t, "ZIP001", result.Run.Code)

	runs, err := f.svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusFailed, runs[0].Status)

	m, err := f.svc.Manifest()
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestServiceRun_GateBusy(t *testing.T) {
	f := newFixture(t, Options{})
	require.True(t, f.svc.gate.TryAcquire())
	defer f.svc.gate.Release()

	result, err := f.svc.Run(context.Background())
	assert.ErrorIs(t, err, stage.ErrRunInProgress)
	assert.Nil(t, result)
	assert.True(t, f.svc.Status().Running)
}

func TestServiceRun_Metrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, Options{Warehouse: true, Metrics: metrics})

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(history.StatusSucceeded, "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Tables))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RunActive))

	require.NoError(t, os.Remove(f.archive))
	_, err = f.svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(history.StatusFailed, "ZIP001")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Tables), "failed runs keep the last table count")
}

func TestServiceProfile(t *testing.T) {
	f := newFixture(t, Options{SampleSize: 7})
	ctx := context.Background()
	_, err := f.svc.Run(ctx)
	require.NoError(t, err)

	summaries, err := f.svc.Profile(ctx, "train", warehouse.ProfileOptions{})
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, filepath.Join(f.svc.Layout().CSV, "train.csv"), f.conv.profiled)
	assert.Equal(t, 7, f.conv.profileOpts.SampleSize)

	_, err = f.svc.Profile(ctx, "train.parquet", warehouse.ProfileOptions{SampleSize: 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.svc.Layout().Warehouse, "train.parquet"), f.conv.profiled)
	assert.Equal(t, 3, f.conv.profileOpts.SampleSize)

	_, err = f.svc.Profile(ctx, "missing", warehouse.ProfileOptions{})
	assert.ErrorIs(t, err, stage.ErrTableNotFound)

	_, err = f.svc.Profile(ctx, "../x.parquet", warehouse.ProfileOptions{})
	assert.ErrorIs(t, err, stage.ErrTableNotFound)
}

func TestRunGate(t *testing.T) {
	g := NewRunGate(1, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	assert.Equal(t, GateStatus{Active: 1, Available: 0, MaxConcurrent: 1, Running: true}, g.Status())

	assert.ErrorIs(t, g.Acquire(ctx), stage.ErrRunInProgress)
	assert.False(t, g.TryAcquire())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, g.Acquire(cancelled), context.Canceled)

	drained := make(chan error, 1)
	go func() { drained <- g.WaitForDrain(ctx) }()
	g.Release()

	select {
	case err := <-drained:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForDrain did not return after Release")
	}
	assert.Equal(t, 0, g.ActiveCount())
	assert.True(t, g.TryAcquire())
	g.Release()
}

func TestManifestRoundTrip(t *testing.T) {
	root := t.TempDir()

	m, err := ReadManifest(root)
	require.NoError(t, err)
	assert.Nil(t, m)

	want := Manifest{RunID: "abc", Archive: "a.zip", GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, WriteManifest(root, want))

	got, err := ReadManifest(root)
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.True(t, want.GeneratedAt.Equal(got.GeneratedAt))
}
