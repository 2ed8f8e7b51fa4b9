// Package columnar encodes hit tables as Arrow IPC or Parquet.
//
// Segments spilled by worker buffers use the Arrow IPC stream format, which can
// be wrapped by a compression stream. Consolidated outputs use the Arrow IPC
// file format or Parquet, both of which need a seekable reader to decode.
package columnar

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Format represents a columnar storage format
type Format string

const (
	// ArrowStream is the Arrow IPC streaming format, used for spill segments
	ArrowStream Format = "arrows"
	// Arrow is the Arrow IPC file format
	Arrow Format = "arrow"
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
)

// Extension returns the file extension for a format
func (f Format) Extension() string {
	switch f {
	case ArrowStream:
		return ".arrows"
	case Arrow:
		return ".arrow"
	case Parquet:
		return ".parquet"
	default:
		return ""
	}
}

// Writer writes arrow records sharing one schema
type Writer interface {
	// Write appends rec; the writer does not retain it after returning
	Write(rec arrow.Record) error
	// Close flushes footers and metadata. It does not close the underlying io.Writer.
	Close() error
	// Format returns the columnar format
	Format() Format
	// RowsWritten returns rows written so far
	RowsWritten() int64
}

// Reader iterates the record batches of an encoded table
type Reader interface {
	// Next returns the next batch, or io.EOF. The returned record is valid until
	// the next call; Retain it to keep it longer.
	Next() (arrow.Record, error)
	// Schema returns the arrow schema of the table
	Schema() *arrow.Schema
	// Close releases reader resources
	Close() error
}

// ReadAtSeeker is what file-format readers need
type ReadAtSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// WriterConfig configures columnar writers
type WriterConfig struct {
	Format Format
	// Compression is the Parquet column codec (snappy, zstd, gzip, brotli, none)
	Compression string
	// Metadata is stored in the file footer (Parquet key-value metadata, Arrow schema metadata)
	Metadata map[string]string
	// Allocator defaults to the Go allocator
	Allocator memory.Allocator
}

// NewWriter creates a columnar writer for schema
func NewWriter(w io.Writer, schema *arrow.Schema, config *WriterConfig) (Writer, error) {
	if config == nil {
		config = &WriterConfig{Format: Arrow}
	}
	if config.Allocator == nil {
		config.Allocator = memory.NewGoAllocator()
	}
	if len(config.Metadata) > 0 {
		schema = withMetadata(schema, config.Metadata)
	}

	switch config.Format {
	case ArrowStream:
		return newArrowStreamWriter(w, schema, config), nil
	case Arrow:
		return newArrowFileWriter(w, schema, config)
	case Parquet:
		return newParquetWriter(w, schema, config)
	default:
		return nil, fmt.Errorf("unsupported columnar format: %s", config.Format)
	}
}

// NewStreamReader decodes an Arrow IPC stream
func NewStreamReader(r io.Reader, mem memory.Allocator) (Reader, error) {
	return newArrowStreamReader(r, mem)
}

// NewFileReader decodes an Arrow IPC file or a Parquet file
func NewFileReader(ctx context.Context, r ReadAtSeeker, format Format, mem memory.Allocator) (Reader, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	switch format {
	case Arrow:
		return newArrowFileReader(r, mem)
	case Parquet:
		return newParquetReader(ctx, r, mem)
	case ArrowStream:
		return newArrowStreamReader(r, mem)
	default:
		return nil, fmt.Errorf("unsupported columnar format: %s", format)
	}
}

// FormatFromPath infers the format from a file extension, defaulting to Arrow.
func FormatFromPath(path string) Format {
	for _, f := range []Format{Parquet, ArrowStream, Arrow} {
		ext := f.Extension()
		if len(path) >= len(ext) && path[len(path)-len(ext):] == ext {
			return f
		}
	}
	return Arrow
}

func withMetadata(schema *arrow.Schema, kv map[string]string) *arrow.Schema {
	md := schema.Metadata()
	keys := append([]string{}, md.Keys()...)
	vals := append([]string{}, md.Values()...)
	for k, v := range kv {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	meta := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(schema.Fields(), &meta)
}
