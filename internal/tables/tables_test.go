package tables

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/JonMunkholm/datastage/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.csv")
	content := "\xEF\xBB\xBFID, VAR_0001 ,target\n1,H,0\n2,R,1\n3,\"quoted, value\",0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := Describe(path)
	require.NoError(t, err)

	assert.Equal(t, "train.csv", table.Name)
	assert.Equal(t, int64(len(content)), table.Size)
	assert.Equal(t, []string{"ID", "VAR_0001", "target"}, table.Columns)
	assert.Equal(t, 3, table.Rows)
}

func TestDescribe_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	table, err := Describe(path)
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.Zero(t, table.Rows)
}

func TestDescribe_Missing(t *testing.T) {
	_, err := Describe(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, stage.ErrTableNotFound)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.csv"), []byte("ID\n1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.csv"), []byte("ID,target\n1,0\n2,1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	list, err := List(dir)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "test.csv", list[0].Name)
	assert.Equal(t, 1, list[0].Rows)
	assert.Equal(t, "train.csv", list[1].Name)
	assert.Equal(t, 2, list[1].Rows)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.csv"), []byte("ID\n"), 0o644))

	path, err := Resolve(dir, "train")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "train.csv"), path)

	path, err = Resolve(dir, "train.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "train.csv"), path)

	for _, bad := range []string{"", "../train.csv", "sub/train.csv", "missing"} {
		_, err := Resolve(dir, bad)
		assert.ErrorIs(t, err, stage.ErrTableNotFound, bad)
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{"plain ascii", []byte("a,b\n1,2\n"), []byte("a,b\n1,2\n")},
		{"bom stripped", []byte("\xEF\xBB\xBFa,b\n"), []byte("a,b\n")},
		{"invalid byte replaced", []byte("a\xFFb"), []byte("a?b")},
		{"multibyte kept", []byte("café,ü"), []byte("café,ü")},
		{"truncated rune at eof", []byte("ok\xC3"), []byte("ok?")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One byte at a time exercises the boundary handling.
			got, err := io.ReadAll(Wrap(iotest.OneByteReader(bytes.NewReader(tt.input)), 0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCountingReader_Progress(t *testing.T) {
	data := []byte("0123456789")
	r := Wrap(bytes.NewReader(data), int64(len(data)))

	buf := make([]byte, 5)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, 50, r.Progress())

	_, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Progress())

	assert.Zero(t, Wrap(bytes.NewReader(data), 0).Progress())
}

func TestSanitizer_TinyBuffer(t *testing.T) {
	s := newSanitizer(bytes.NewReader([]byte("é")))
	p := make([]byte, 1)

	var got []byte
	for {
		n, err := s.Read(p)
		got = append(got, p[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Len(t, got, 2)
}

func TestDescribe_ReportsProgress(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("ID,value\n")
	for i := 0; i < 20000; i++ {
		b.WriteString("123456,abcdef\n")
	}
	path := filepath.Join(t.TempDir(), "big.csv")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))

	var seen []int
	table, err := describe(path, func(name string, percent int) {
		assert.Equal(t, "big.csv", name)
		seen = append(seen, percent)
	})
	require.NoError(t, err)
	assert.Equal(t, 20000, table.Rows)

	require.NotEmpty(t, seen)
	for i, pct := range seen {
		assert.Zero(t, pct%progressStep)
		if i > 0 {
			assert.Greater(t, pct, seen[i-1])
		}
	}
	assert.Equal(t, 100, seen[len(seen)-1])
}
