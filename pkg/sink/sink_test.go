package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gatehits/pkg/compression"
	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/formats/columnar"
	"github.com/ajitpratap0/gatehits/pkg/hits"
)

var testSchema = hits.MustSchema(
	hits.Attribute{Name: "energy", Type: hits.TypeNumber},
	hits.Attribute{Name: "position", Type: hits.TypeVector3},
	hits.Attribute{Name: "worker", Type: hits.TypeInteger},
)

// segment builds n rows whose energy runs from start.
func segment(t *testing.T, worker hits.WorkerID, start, n int) arrow.Record {
	t.Helper()
	table := hits.NewTable(testSchema, nil)
	defer table.Release()
	for i := 0; i < n; i++ {
		require.NoError(t, table.Append(hits.NewRecord(
			hits.F("energy", float64(start+i)),
			hits.F("position", hits.Vec3{1, 2, 3}),
			hits.F("worker", int(worker)),
		)))
	}
	return table.Flush()
}

func write(t *testing.T, s Sink, worker hits.WorkerID, index, start, n int) {
	t.Helper()
	rec := segment(t, worker, start, n)
	defer rec.Release()
	require.NoError(t, s.Write(context.Background(), rec, worker, index))
}

func energies(t *testing.T, recs []arrow.Record) []float64 {
	t.Helper()
	var out []float64
	for _, rec := range recs {
		for _, row := range hits.Rows(rec) {
			v, ok := row.Get("energy")
			require.True(t, ok)
			out = append(out, v.(float64))
		}
	}
	return out
}

func readOutput(t *testing.T, path string, format columnar.Format) []float64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := columnar.NewFileReader(context.Background(), f, format, memory.NewGoAllocator())
	require.NoError(t, err)
	defer r.Close()

	var recs []arrow.Record
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		rec.Retain()
		recs = append(recs, rec)
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	return energies(t, recs)
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		raw     string
		want    Destination
		wantErr bool
	}{
		{raw: "/tmp/out/hits.arrow", want: Destination{Scheme: "file", Path: "/tmp/out/hits.arrow"}},
		{raw: "file:///data/hits.parquet", want: Destination{Scheme: "file", Path: "/data/hits.parquet"}},
		{raw: "s3://bucket/runs/hits.parquet", want: Destination{Scheme: "s3", Bucket: "bucket", Key: "runs/hits.parquet"}},
		{raw: "gs://bucket/hits.arrow", want: Destination{Scheme: "gs", Bucket: "bucket", Key: "hits.arrow"}},
		{raw: "", wantErr: true},
		{raw: "s3://bucket", wantErr: true},
		{raw: "s3://bucket/dir/", wantErr: true},
		{raw: "ftp://host/file", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDestination(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemorySinkCompletionOrder(t *testing.T) {
	s := NewMemorySink("Hits", testSchema)
	require.NoError(t, s.Open(context.Background()))

	write(t, s, 0, 0, 0, 2)
	write(t, s, 1, 0, 100, 1)
	write(t, s, 0, 1, 2, 1)
	assert.Equal(t, 2, s.SegmentCount(0))

	out, err := s.Finalize(context.Background(), []hits.WorkerID{1, 0})
	require.NoError(t, err)
	defer out.Release()

	assert.EqualValues(t, 4, out.Rows)
	assert.Equal(t, []float64{100, 0, 1, 2}, energies(t, out.Records))
	assert.Equal(t, FormatMemory, out.Format)

	_, err = s.Finalize(context.Background(), []hits.WorkerID{1, 0})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSink))
	rec := segment(t, 2, 0, 1)
	defer rec.Release()
	assert.Error(t, s.Write(context.Background(), rec, 2, 0))
}

func TestMemorySinkRejectsIncompleteOrder(t *testing.T) {
	s := NewMemorySink("Hits", testSchema)
	write(t, s, 0, 0, 0, 1)
	write(t, s, 1, 0, 0, 1)

	_, err := s.Finalize(context.Background(), []hits.WorkerID{0})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMergeIncomplete))

	// workers that completed without writing anything are fine
	out, err := s.Finalize(context.Background(), []hits.WorkerID{0, 1, 2})
	require.NoError(t, err)
	out.Release()
}

func TestSegmentIndexMustIncrease(t *testing.T) {
	s := NewMemorySink("Hits", testSchema)
	write(t, s, 0, 3, 0, 1)
	rec := segment(t, 0, 0, 1)
	defer rec.Release()
	err := s.Write(context.Background(), rec, 0, 3)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSink))
}

func TestFileSinkConcat(t *testing.T) {
	tests := []struct {
		name   string
		format columnar.Format
		algo   compression.Algorithm
	}{
		{"arrow", columnar.Arrow, compression.None},
		{"arrow zstd segments", columnar.Arrow, compression.Zstd},
		{"parquet", columnar.Parquet, compression.Snappy},
		{"parquet lz4 segments", columnar.Parquet, compression.LZ4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			dest := filepath.Join(dir, "out", "hits"+tt.format.Extension())
			s := NewFileSink(testSchema, FileOptions{
				Collection:         "Hits",
				Destination:        dest,
				Format:             tt.format,
				SegmentCompression: compression.Config{Algorithm: tt.algo, Level: compression.Default},
				Logger:             zap.NewNop(),
			})
			require.NoError(t, s.Open(context.Background()))

			write(t, s, 1, 0, 10, 3)
			write(t, s, 0, 0, 0, 2)
			write(t, s, 1, 1, 13, 2)
			write(t, s, 2, 0, 20, 1)

			entries, err := os.ReadDir(s.SpillDir())
			require.NoError(t, err)
			assert.Len(t, entries, 4)

			out, err := s.Finalize(context.Background(), []hits.WorkerID{1, 2, 0})
			require.NoError(t, err)
			assert.EqualValues(t, 8, out.Rows)
			assert.Equal(t, string(tt.format), out.Format)
			assert.Equal(t, dest, out.Destination)
			require.Len(t, out.Segments, 4)

			assert.Equal(t, []float64{10, 11, 12, 13, 14, 20, 0, 1}, readOutput(t, dest, tt.format))

			// segments are removed after a successful concat
			_, err = os.Stat(s.SpillDir())
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestFileSinkEmptyOutput(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "hits.arrow")
	s := NewFileSink(testSchema, FileOptions{Collection: "Hits", Destination: dest, Logger: zap.NewNop()})
	require.NoError(t, s.Open(context.Background()))

	out, err := s.Finalize(context.Background(), []hits.WorkerID{0})
	require.NoError(t, err)
	assert.EqualValues(t, 0, out.Rows)
	assert.Empty(t, readOutput(t, dest, columnar.Arrow))
}

func TestFileSinkManifest(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "hits.manifest.json")
	s := NewFileSink(testSchema, FileOptions{
		Collection:         "Hits",
		Destination:        dest,
		Manifest:           true,
		SegmentCompression: compression.Config{Algorithm: compression.S2},
		Logger:             zap.NewNop(),
	})
	require.NoError(t, s.Open(context.Background()))

	write(t, s, 0, 0, 0, 2)
	write(t, s, 1, 0, 5, 1)
	write(t, s, 0, 1, 2, 2)

	out, err := s.Finalize(context.Background(), []hits.WorkerID{1, 0})
	require.NoError(t, err)
	assert.Equal(t, FormatManifest, out.Format)

	m, err := ReadManifest(dest)
	require.NoError(t, err)
	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, "Hits", m.Collection)
	assert.EqualValues(t, 5, m.Rows)
	assert.Equal(t, []hits.WorkerID{1, 0}, m.Order)
	require.Len(t, m.Segments, 3)
	assert.False(t, filepath.IsAbs(m.Segments[0].Path))

	schema, err := m.HitSchema()
	require.NoError(t, err)
	assert.True(t, testSchema.Equal(schema))

	recs, err := m.Records(nil)
	require.NoError(t, err)
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	assert.Equal(t, []float64{5, 0, 1, 2, 3}, energies(t, recs))
}

func TestFileSinkOpenUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s := NewFileSink(testSchema, FileOptions{Destination: filepath.Join(blocker, "hits.arrow"), Logger: zap.NewNop()})
	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestFileSinkRerunAfterLeftoverSegments(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		previous func(t *testing.T, s *FileSink)
		leftover int
	}{
		{
			name: "kept segments",
			previous: func(t *testing.T, s *FileSink) {
				write(t, s, 0, 0, 100, 2)
				_, err := s.Finalize(ctx, []hits.WorkerID{0})
				require.NoError(t, err)
			},
			leftover: 1,
		},
		{
			name: "aborted run",
			previous: func(t *testing.T, s *FileSink) {
				write(t, s, 0, 0, 100, 2)
				write(t, s, 1, 0, 200, 1)
			},
			leftover: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "hits.arrow")
			opts := FileOptions{Collection: "Hits", Destination: dest, KeepSegments: true, Logger: zap.NewNop()}

			previous := NewFileSink(testSchema, opts)
			require.NoError(t, previous.Open(ctx))
			tt.previous(t, previous)

			opts.KeepSegments = false
			s := NewFileSink(testSchema, opts)
			require.NoError(t, s.Open(ctx))
			assert.NotEqual(t, previous.SpillDir(), s.SpillDir())

			write(t, s, 0, 0, 0, 3)
			out, err := s.Finalize(ctx, []hits.WorkerID{0})
			require.NoError(t, err)
			assert.EqualValues(t, 3, out.Rows)
			assert.Equal(t, []float64{0, 1, 2}, readOutput(t, dest, columnar.Arrow))

			// the earlier run's segments stay where they were
			entries, err := os.ReadDir(previous.SpillDir())
			require.NoError(t, err)
			assert.Len(t, entries, tt.leftover)
			_, err = os.Stat(s.SpillDir())
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestFileSinkWriteBeforeOpen(t *testing.T) {
	s := NewFileSink(testSchema, FileOptions{Destination: filepath.Join(t.TempDir(), "hits.arrow"), Logger: zap.NewNop()})
	rec := segment(t, 0, 0, 1)
	defer rec.Release()

	err := s.Write(context.Background(), rec, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSink))
}

func TestFileSinkSegmentFileError(t *testing.T) {
	s := NewFileSink(testSchema, FileOptions{Destination: filepath.Join(t.TempDir(), "hits.arrow"), Logger: zap.NewNop()})
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, os.RemoveAll(s.SpillDir()))

	rec := segment(t, 0, 0, 1)
	defer rec.Release()
	err := s.Write(context.Background(), rec, 0, 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSink, errors.TypeOf(err))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))

	var se *errors.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, errors.StageFlush, se.Stage())
}

type fakeUploader struct {
	dest     Destination
	uploaded []byte
}

func (f *fakeUploader) Upload(ctx context.Context, localPath string, dest Destination, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.dest = dest
	f.uploaded = data
	return nil
}

func TestObjectStoreSink(t *testing.T) {
	dest, err := ParseDestination("s3://bucket/runs/hits.arrow")
	require.NoError(t, err)

	up := &fakeUploader{}
	s := NewObjectStoreSink(testSchema, dest, FileOptions{
		Collection: "Hits",
		SpillDir:   t.TempDir(),
		Format:     columnar.Arrow,
		Logger:     zap.NewNop(),
	}, up)
	require.NoError(t, s.Open(context.Background()))

	write(t, s, 0, 0, 0, 3)
	out, err := s.Finalize(context.Background(), []hits.WorkerID{0})
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/runs/hits.arrow", out.Destination)
	assert.Equal(t, dest, up.dest)
	assert.NotEmpty(t, up.uploaded)

	_, err = os.Stat(s.staged)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Dir(s.staged))
	assert.True(t, os.IsNotExist(err))
}

func TestObjectStoreSinkSharedSpillDir(t *testing.T) {
	ctx := context.Background()
	dest, err := ParseDestination("gs://bucket/hits.parquet")
	require.NoError(t, err)
	spill := t.TempDir()
	opts := FileOptions{Collection: "Hits", SpillDir: spill, Format: columnar.Parquet, Logger: zap.NewNop()}

	// an aborted run leaves its staged segments behind
	aborted := NewObjectStoreSink(testSchema, dest, opts, &fakeUploader{})
	require.NoError(t, aborted.Open(ctx))
	write(t, aborted, 0, 0, 50, 2)

	up := &fakeUploader{}
	s := NewObjectStoreSink(testSchema, dest, opts, up)
	require.NoError(t, s.Open(ctx))
	assert.NotEqual(t, aborted.staged, s.staged)
	assert.Equal(t, spill, filepath.Dir(filepath.Dir(s.staged)))

	write(t, s, 0, 0, 0, 2)
	out, err := s.Finalize(ctx, []hits.WorkerID{0})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out.Rows)
	assert.NotEmpty(t, up.uploaded)
}

func TestObjectStoreSinkRejectsManifest(t *testing.T) {
	dest, err := ParseDestination("gs://bucket/hits.json")
	require.NoError(t, err)
	s := NewObjectStoreSink(testSchema, dest, FileOptions{SpillDir: t.TempDir(), Manifest: true, Logger: zap.NewNop()}, &fakeUploader{})
	err = s.Open(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
