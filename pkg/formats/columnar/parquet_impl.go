package columnar

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// parquetWriter implements Writer for Parquet format
type parquetWriter struct {
	fileWriter     *pqarrow.FileWriter
	recordsWritten int64
}

func newParquetWriter(w io.Writer, schema *arrow.Schema, config *WriterConfig) (*parquetWriter, error) {
	codec, err := ParquetCodec(config.Compression)
	if err != nil {
		return nil, err
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithAllocator(config.Allocator),
	)

	// store the arrow schema so fixed size lists and field metadata survive a round trip
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(config.Allocator),
		pqarrow.WithStoreSchema(),
	)

	fw, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	return &parquetWriter{fileWriter: fw}, nil
}

func (pw *parquetWriter) Write(rec arrow.Record) error {
	// buffered writes keep one row group per file instead of one per segment
	if err := pw.fileWriter.WriteBuffered(rec); err != nil {
		return fmt.Errorf("failed to write Parquet batch: %w", err)
	}
	pw.recordsWritten += rec.NumRows()
	return nil
}

func (pw *parquetWriter) Close() error {
	if err := pw.fileWriter.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

func (pw *parquetWriter) Format() Format     { return Parquet }
func (pw *parquetWriter) RowsWritten() int64 { return pw.recordsWritten }

// ParquetCodec maps a codec name to a Parquet compression codec. An empty name
// selects snappy.
func ParquetCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported parquet compression: %s", name)
	}
}

// parquetReader implements Reader for Parquet format
type parquetReader struct {
	fileReader   *file.Reader
	recordReader pqarrow.RecordReader
}

func newParquetReader(ctx context.Context, r ReadAtSeeker, mem memory.Allocator) (*parquetReader, error) {
	fr, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}

	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{BatchSize: 64 * 1024}, mem)
	if err != nil {
		fr.Close()
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}

	rr, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		fr.Close()
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}

	return &parquetReader{fileReader: fr, recordReader: rr}, nil
}

func (pr *parquetReader) Next() (arrow.Record, error) {
	if pr.recordReader.Next() {
		return pr.recordReader.Record(), nil
	}
	if err := pr.recordReader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read Parquet batch: %w", err)
	}
	return nil, io.EOF
}

func (pr *parquetReader) Schema() *arrow.Schema { return pr.recordReader.Schema() }

func (pr *parquetReader) Close() error {
	pr.recordReader.Release()
	return pr.fileReader.Close()
}
