package columnar

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// arrowStreamWriter implements Writer for the Arrow IPC stream format
type arrowStreamWriter struct {
	writer         *ipc.Writer
	recordsWritten int64
}

func newArrowStreamWriter(w io.Writer, schema *arrow.Schema, config *WriterConfig) *arrowStreamWriter {
	return &arrowStreamWriter{
		writer: ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(config.Allocator)),
	}
}

func (aw *arrowStreamWriter) Write(rec arrow.Record) error {
	if err := aw.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	aw.recordsWritten += rec.NumRows()
	return nil
}

func (aw *arrowStreamWriter) Close() error {
	if err := aw.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow stream writer: %w", err)
	}
	return nil
}

func (aw *arrowStreamWriter) Format() Format     { return ArrowStream }
func (aw *arrowStreamWriter) RowsWritten() int64 { return aw.recordsWritten }

// arrowFileWriter implements Writer for the Arrow IPC file format
type arrowFileWriter struct {
	fileWriter     *ipc.FileWriter
	recordsWritten int64
}

func newArrowFileWriter(w io.Writer, schema *arrow.Schema, config *WriterConfig) (*arrowFileWriter, error) {
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(config.Allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow writer: %w", err)
	}
	return &arrowFileWriter{fileWriter: fw}, nil
}

func (aw *arrowFileWriter) Write(rec arrow.Record) error {
	if err := aw.fileWriter.Write(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	aw.recordsWritten += rec.NumRows()
	return nil
}

func (aw *arrowFileWriter) Close() error {
	if err := aw.fileWriter.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return nil
}

func (aw *arrowFileWriter) Format() Format     { return Arrow }
func (aw *arrowFileWriter) RowsWritten() int64 { return aw.recordsWritten }

// arrowStreamReader implements Reader for the Arrow IPC stream format
type arrowStreamReader struct {
	reader *ipc.Reader
}

func newArrowStreamReader(r io.Reader, mem memory.Allocator) (*arrowStreamReader, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow stream reader: %w", err)
	}
	return &arrowStreamReader{reader: reader}, nil
}

func (ar *arrowStreamReader) Next() (arrow.Record, error) {
	if ar.reader.Next() {
		return ar.reader.Record(), nil
	}
	if err := ar.reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read record batch: %w", err)
	}
	return nil, io.EOF
}

func (ar *arrowStreamReader) Schema() *arrow.Schema { return ar.reader.Schema() }

func (ar *arrowStreamReader) Close() error {
	ar.reader.Release()
	return nil
}

// arrowFileReader implements Reader for the Arrow IPC file format
type arrowFileReader struct {
	fileReader *ipc.FileReader
	batchIndex int
	current    arrow.Record
}

func newArrowFileReader(r ReadAtSeeker, mem memory.Allocator) (*arrowFileReader, error) {
	reader, err := ipc.NewFileReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}
	return &arrowFileReader{fileReader: reader}, nil
}

func (ar *arrowFileReader) Next() (arrow.Record, error) {
	if ar.current != nil {
		ar.current.Release()
		ar.current = nil
	}
	if ar.batchIndex >= ar.fileReader.NumRecords() {
		return nil, io.EOF
	}
	rec, err := ar.fileReader.Record(ar.batchIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to read record batch %d: %w", ar.batchIndex, err)
	}
	ar.batchIndex++
	// FileReader.Record is only valid until the next call, keep our own reference
	rec.Retain()
	ar.current = rec
	return rec, nil
}

func (ar *arrowFileReader) Schema() *arrow.Schema { return ar.fileReader.Schema() }

func (ar *arrowFileReader) Close() error {
	if ar.current != nil {
		ar.current.Release()
		ar.current = nil
	}
	return ar.fileReader.Close()
}
