// Package testutil provides testing utilities for gatehits
package testutil

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/gatehits/pkg/formats/columnar"
	"github.com/ajitpratap0/gatehits/pkg/hits"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a context with a 30-second timeout that is cancelled
// when the test completes.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Rows decodes every record in order.
func Rows(records []arrow.Record) []hits.Record {
	var out []hits.Record
	for _, rec := range records {
		out = append(out, hits.Rows(rec)...)
	}
	return out
}

// Floats returns the named number column across records, in order.
func Floats(t *testing.T, records []arrow.Record, name string) []float64 {
	t.Helper()
	var out []float64
	for _, row := range Rows(records) {
		v, ok := row.Get(name)
		require.True(t, ok, "column %q missing", name)
		f, ok := v.(float64)
		require.True(t, ok, "column %q holds %T", name, v)
		out = append(out, f)
	}
	return out
}

// ReadFile decodes a consolidated Arrow or Parquet file. Records are released
// when the test completes.
func ReadFile(t *testing.T, path string) []arrow.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := columnar.NewFileReader(context.Background(), f, columnar.FormatFromPath(path), memory.NewGoAllocator())
	require.NoError(t, err)
	defer r.Close()

	var out []arrow.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rec.Retain()
		out = append(out, rec)
	}
	t.Cleanup(func() {
		for _, rec := range out {
			rec.Release()
		}
	})
	return out
}
