package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TFMV/blotter/dataset"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(t *testing.T) *dataset.Table {
	tbl, err := dataset.Load("correlated", strings.NewReader(
		"Area Name,Area ID,Age,LAT,DATE OCC\nCentral,1,30,34.01,2020-01-05\nRampart,2,,34.05,2020-01-06\nCentral,1,19,34.02,2020-01-07\n"),
		dataset.LoadOptions{BatchSize: 2})
	require.NoError(t, err)
	t.Cleanup(tbl.Release)
	return tbl
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, codec := range []string{"none", "zstd", "lz4"} {
		t.Run(codec, func(t *testing.T) {
			c, err := ParseCodec(codec)
			require.NoError(t, err)

			tbl := sampleTable(t)
			path := filepath.Join(t.TempDir(), "correlated.arrow")
			require.NoError(t, SaveTable(path, tbl, c))

			got, err := LoadTable(path, "correlated")
			require.NoError(t, err)
			defer got.Release()

			assert.True(t, tbl.Schema().Equal(got.Schema()))
			require.Equal(t, tbl.NumRows(), got.NumRows())
			for r := int64(0); r < tbl.NumRows(); r++ {
				for c := 0; c < tbl.NumCols(); c++ {
					assert.Equal(t, tbl.Value(r, c), got.Value(r, c))
				}
			}
		})
	}

	_, err := ParseCodec("rar")
	assert.Error(t, err)
	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.arrow"), "x")
	assert.Error(t, err)
}

func TestParseGCS(t *testing.T) {
	bucket, object, err := ParseGCS("gs://lapd-open-data/2020/crimes.csv")
	require.NoError(t, err)
	assert.Equal(t, "lapd-open-data", bucket)
	assert.Equal(t, "2020/crimes.csv", object)

	_, _, err = ParseGCS("gs:///crimes.csv")
	assert.Error(t, err)
	_, _, err = ParseGCS("/tmp/crimes.csv")
	assert.Error(t, err)
	assert.False(t, IsGCS("/tmp/crimes.csv"))
}

func TestOpenLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arrests.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n1\n"), 0o644))

	rc, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(b))
}

func TestStagingCommit(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "crime_insights.txt"), []byte("old"), 0o644))

	s, err := Stage(out)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("crime_insights.txt"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(s.Path("run.yaml"), []byte("id: x"), 0o644))

	// Staged artifacts are invisible until committed.
	_, err = os.Stat(filepath.Join(out, "run.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	names, err := s.Commit()
	require.NoError(t, err)
	assert.Equal(t, []string{"crime_insights.txt", "run.yaml"}, names)

	b, err := os.ReadFile(filepath.Join(out, "crime_insights.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStagingCommitRemovesStaleArtifacts(t *testing.T) {
	out := t.TempDir()
	for _, name := range []string{"chart.png", "notes.txt", "run.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(out, name), []byte("old"), 0o644))
	}

	s, err := Stage(out)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("run.yaml"), []byte("new"), 0o644))

	names, err := s.Commit("chart.png", "run.yaml", "missing.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"run.yaml"}, names)

	assert.NoFileExists(t, filepath.Join(out, "chart.png"), "owned but not produced this run")
	assert.FileExists(t, filepath.Join(out, "notes.txt"), "not owned by the run")
	b, err := os.ReadFile(filepath.Join(out, "run.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestStagingAbort(t *testing.T) {
	out := t.TempDir()
	s, err := Stage(out)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("scaled_data.csv"), []byte("x"), 0o644))
	require.NoError(t, s.Abort())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublisher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), []byte("id: x"), 0o644))

	uploaded := map[string]string{}
	p := newPublisher("bucket", "runs/1", func(_ context.Context, object string, r io.Reader) (int64, error) {
		var buf bytes.Buffer
		n, err := io.Copy(&buf, r)
		uploaded[object] = buf.String()
		return n, err
	}, nil)

	require.NoError(t, p.Publish(context.Background(), dir, []string{"run.yaml"}))
	assert.Equal(t, map[string]string{"runs/1/run.yaml": "id: x"}, uploaded)
	assert.NoError(t, p.Close())
}

func TestPublisherBreakerOpens(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("x"), 0o644))

	calls := 0
	p := newPublisher("bucket", "", func(context.Context, string, io.Reader) (int64, error) {
		calls++
		return 0, errors.New("unavailable")
	}, nil)

	for i := 0; i < 5; i++ {
		assert.Error(t, p.Publish(context.Background(), dir, []string{"a"}))
	}
	assert.Equal(t, 3, calls)
	err := p.Publish(context.Background(), dir, []string{"a"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestResultsSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "results.db")

	r, err := OpenResults(ctx, "sqlite3", dsn)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Write(ctx, AreaCounts, "run-1", []CountRow{{"1", 3}, {"2", 1}}))
	require.NoError(t, r.Write(ctx, AreaCounts, "run-2", []CountRow{{"7", 9}, {"", 2}}))

	runID, rows, err := r.Read(ctx, AreaCounts)
	require.NoError(t, err)
	assert.Equal(t, "run-2", runID)
	assert.Equal(t, []CountRow{{"7", 9}, {"", 2}}, rows)

	assert.Error(t, r.Write(ctx, "users", "run-3", nil))

	_, err = OpenResults(ctx, "mysql", "")
	assert.Error(t, err)
}

func TestResultsWriteAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	r, err := OpenResults(ctx, "sqlite3", filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.WriteAll(ctx, "run-1", map[string][]CountRow{
		AreaCounts:      {{"1", 3}},
		CrimeTypeCounts: {{"THEFT", 3}},
		DateTrends:      {{"2020-01-01", 3}},
	}))

	// The last table can no longer be written, so the whole run must roll back.
	_, err = r.db.ExecContext(ctx, "DROP TABLE "+DateTrends)
	require.NoError(t, err)
	err = r.WriteAll(ctx, "run-2", map[string][]CountRow{
		AreaCounts:      {{"7", 9}},
		CrimeTypeCounts: {{"ASSAULT", 9}},
		DateTrends:      {{"2020-01-02", 9}},
	})
	require.Error(t, err)

	for table, want := range map[string][]CountRow{
		AreaCounts:      {{"1", 3}},
		CrimeTypeCounts: {{"THEFT", 3}},
	} {
		runID, rows, err := r.Read(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, "run-1", runID, table)
		assert.Equal(t, want, rows, table)
	}

	assert.Error(t, r.WriteAll(ctx, "run-3", map[string][]CountRow{"users": nil}))
}

func TestBindPlaceholders(t *testing.T) {
	pg := &Results{driver: "postgres"}
	assert.Equal(t, "VALUES ($1, $2)", pg.bind("VALUES (?, ?)"))
	lite := &Results{driver: "sqlite3"}
	assert.Equal(t, "VALUES (?, ?)", lite.bind("VALUES (?, ?)"))
}
