package columnar

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gatehits/pkg/hits"
)

var testSchema = hits.MustSchema(
	hits.Attribute{Name: "TotalEnergyDeposit", Type: hits.TypeNumber},
	hits.Attribute{Name: "PostPosition", Type: hits.TypeVector3},
	hits.Attribute{Name: "ParticleName", Type: hits.TypeString},
	hits.Attribute{Name: "TrackID", Type: hits.TypeInteger},
)

func buildRecord(t *testing.T, mem memory.Allocator, from, n int) arrow.Record {
	t.Helper()
	table := hits.NewTable(testSchema, mem)
	defer table.Release()
	for i := from; i < from+n; i++ {
		require.NoError(t, table.Append(hits.NewRecord(
			hits.F("TotalEnergyDeposit", float64(i)*0.5),
			hits.F("PostPosition", hits.Vec3{float64(i), 1, -1}),
			hits.F("ParticleName", "gamma"),
			hits.F("TrackID", i),
		)))
	}
	return table.Flush()
}

func readAll(t *testing.T, r Reader) []hits.Record {
	t.Helper()
	var out []hits.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, hits.Rows(rec)...)
	}
	return out
}

func value(r hits.Record, name string) interface{} {
	v, _ := r.Get(name)
	return v
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{ArrowStream, Arrow, Parquet} {
		t.Run(string(format), func(t *testing.T) {
			mem := memory.NewGoAllocator()
			var buf bytes.Buffer

			w, err := NewWriter(&buf, testSchema.Arrow(), &WriterConfig{
				Format:   format,
				Metadata: map[string]string{"gatehits.collection": "Hits"},
			})
			require.NoError(t, err)
			assert.Equal(t, format, w.Format())

			for _, seg := range [][2]int{{0, 3}, {3, 2}} {
				rec := buildRecord(t, mem, seg[0], seg[1])
				require.NoError(t, w.Write(rec))
				rec.Release()
			}
			require.NoError(t, w.Close())
			assert.EqualValues(t, 5, w.RowsWritten())

			var r Reader
			if format == ArrowStream {
				r, err = NewStreamReader(&buf, mem)
			} else {
				r, err = NewFileReader(context.Background(), bytes.NewReader(buf.Bytes()), format, mem)
			}
			require.NoError(t, err)
			defer r.Close()

			back, err := hits.SchemaFromArrow(r.Schema())
			require.NoError(t, err)
			assert.Equal(t, testSchema.Names(), back.Names())

			rows := readAll(t, r)
			require.Len(t, rows, 5)
			for i, row := range rows {
				assert.Equal(t, float64(i)*0.5, value(row, "TotalEnergyDeposit"))
				assert.Equal(t, hits.Vec3{float64(i), 1, -1}, value(row, "PostPosition"))
				assert.Equal(t, "gamma", value(row, "ParticleName"))
				assert.Equal(t, int64(i), value(row, "TrackID"))
			}
		})
	}
}

func TestParquetCodec(t *testing.T) {
	for _, name := range []string{"", "snappy", "gzip", "zstd", "brotli", "none", "lz4"} {
		_, err := ParquetCodec(name)
		assert.NoError(t, err, name)
	}
	_, err := ParquetCodec("lzma")
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, Parquet, FormatFromPath("/out/hits.parquet"))
	assert.Equal(t, ArrowStream, FormatFromPath("seg-0-1.arrows"))
	assert.Equal(t, Arrow, FormatFromPath("hits.arrow"))
	assert.Equal(t, Arrow, FormatFromPath("hits"))
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := NewWriter(io.Discard, testSchema.Arrow(), &WriterConfig{Format: "orc"})
	assert.Error(t, err)
}
