// Package buffer implements the per-worker hit buffer.
//
// A ThreadBuffer is owned by exactly one host worker. Appends never lock: the
// only shared state a buffer touches is the sink, and only when it flushes.
// Every N completed events the buffer hands its rows to the sink as one
// segment and starts over, which bounds memory for long simulations.
package buffer

import (
	"context"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/logger"
	"github.com/ajitpratap0/gatehits/pkg/metrics"
	"github.com/ajitpratap0/gatehits/pkg/observability"
	"github.com/ajitpratap0/gatehits/pkg/sink"
)

// Flush triggers, used as the metrics label.
const (
	TriggerThreshold = "threshold"
	TriggerFinalize  = "finalize"
	TriggerManual    = "manual"
)

// Options configures a ThreadBuffer.
type Options struct {
	Collection string
	Worker     hits.WorkerID
	// ClearEveryNEvents flushes after every N completed events; 0 never clears
	// before Finalize.
	ClearEveryNEvents int
	// Debug logs every append, flush and clear
	Debug     bool
	Allocator memory.Allocator
	Logger    *zap.Logger
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Worker           hits.WorkerID `json:"worker"`
	EventsSinceClear int           `json:"events_since_clear"`
	TotalEvents      int64         `json:"total_events"`
	RowsBuffered     int           `json:"rows_buffered"`
	RowsAppended     int64         `json:"rows_appended"`
	RowsFlushed      int64         `json:"rows_flushed"`
	Segments         int           `json:"segments"`
	Finalized        bool          `json:"finalized"`
}

// ThreadBuffer accumulates the hits of one worker.
type ThreadBuffer struct {
	opts   Options
	table  *hits.Table
	sink   sink.Sink
	logger *zap.Logger

	eventsSinceClear int
	totalEvents      int64
	rowsAppended     int64
	rowsFlushed      int64
	nextSegment      int

	// read by the merge coordinator from another goroutine
	finalized atomic.Bool
	discarded atomic.Bool
	// first sink failure; every later operation returns it
	poisoned error

	appended prometheus.Counter
	flushed  prometheus.Counter
}

// New creates an empty buffer writing segments to s.
func New(schema *hits.Schema, s sink.Sink, opts Options) *ThreadBuffer {
	if opts.ClearEveryNEvents < 0 {
		opts.ClearEveryNEvents = 0
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	worker := opts.Worker.String()

	return &ThreadBuffer{
		opts:  opts,
		table: hits.NewTable(schema, opts.Allocator),
		sink:  s,
		logger: logger.Component(log, "thread_buffer").With(
			zap.String("collection", opts.Collection),
			zap.String("worker", worker)),
		appended: metrics.HitsAppended.WithLabelValues(opts.Collection, worker),
		flushed:  metrics.RowsFlushed.WithLabelValues(opts.Collection, worker),
	}
}

// Worker returns the owning worker.
func (b *ThreadBuffer) Worker() hits.WorkerID { return b.opts.Worker }

// Schema returns the buffer schema.
func (b *ThreadBuffer) Schema() *hits.Schema { return b.table.Schema() }

// Append adds one hit. A record that does not match the schema is rejected
// with a schema_mismatch error and the buffer is left unchanged.
func (b *ThreadBuffer) Append(rec hits.Record) error {
	if err := b.usable("append"); err != nil {
		return err
	}
	if err := b.table.Append(rec); err != nil {
		if e, ok := err.(*errors.Error); ok {
			e.WithDetail("worker", b.opts.Worker.String())
		}
		return err
	}
	b.rowsAppended++
	b.appended.Inc()
	if b.opts.Debug {
		b.logger.Debug("hit appended", zap.Int("rows_buffered", b.table.Rows()))
	}
	return nil
}

// OnEventBoundary counts a completed event and flushes once the clear
// threshold is reached.
func (b *ThreadBuffer) OnEventBoundary(ctx context.Context) error {
	if err := b.usable("end of event"); err != nil {
		return err
	}
	b.eventsSinceClear++
	b.totalEvents++
	if b.opts.ClearEveryNEvents > 0 && b.eventsSinceClear >= b.opts.ClearEveryNEvents {
		return b.flush(ctx, TriggerThreshold)
	}
	return nil
}

// FlushAndClear writes buffered rows as the next segment and empties the
// buffer. An empty buffer writes nothing and does not use a segment index.
func (b *ThreadBuffer) FlushAndClear(ctx context.Context) error {
	if err := b.usable("flush"); err != nil {
		return err
	}
	return b.flush(ctx, TriggerManual)
}

// Finalize flushes what is left and seals the buffer. It must be called
// exactly once.
func (b *ThreadBuffer) Finalize(ctx context.Context) error {
	if err := b.usable("finalize"); err != nil {
		return err
	}
	if err := b.flush(ctx, TriggerFinalize); err != nil {
		return err
	}
	b.finalized.Store(true)
	b.table.Release()

	b.logger.Info("buffer finalized",
		zap.Int64("events", b.totalEvents),
		zap.Int64("rows", b.rowsFlushed),
		zap.Int("segments", b.nextSegment))
	return nil
}

// Finalized reports whether Finalize completed. Safe for concurrent use.
func (b *ThreadBuffer) Finalized() bool { return b.finalized.Load() }

// Discard frees the rows of a buffer that will never be finalized, such as
// after a failed merge. The owning worker must not be inside a callback. Later
// operations fail with a lifecycle_order error. It does nothing on a finalized
// or already discarded buffer.
func (b *ThreadBuffer) Discard() {
	if b.finalized.Load() || b.discarded.Swap(true) {
		return
	}
	dropped := b.table.Rows()
	b.table.Release()
	b.logger.Warn("buffer discarded",
		zap.Int("rows_dropped", dropped),
		zap.Int64("rows_flushed", b.rowsFlushed))
}

// Discarded reports whether Discard released the buffer.
func (b *ThreadBuffer) Discarded() bool { return b.discarded.Load() }

// Err returns the sink error that poisoned the buffer, if any.
func (b *ThreadBuffer) Err() error { return b.poisoned }

// Stats returns the buffer counters. Call it from the owning worker, or after
// Finalized reports true.
func (b *ThreadBuffer) Stats() Stats {
	s := Stats{
		Worker:           b.opts.Worker,
		EventsSinceClear: b.eventsSinceClear,
		TotalEvents:      b.totalEvents,
		RowsAppended:     b.rowsAppended,
		RowsFlushed:      b.rowsFlushed,
		Segments:         b.nextSegment,
		Finalized:        b.Finalized(),
	}
	if !s.Finalized && !b.Discarded() {
		s.RowsBuffered = b.table.Rows()
	}
	return s
}

func (b *ThreadBuffer) usable(op string) error {
	if b.finalized.Load() {
		return errors.Newf(errors.ErrorTypeLifecycleOrder, "%s on finalized buffer of worker %s", op, b.opts.Worker).
			WithStage(errors.StageLifecycle).
			WithDetail("worker", b.opts.Worker.String()).
			WithDetail("operation", op)
	}
	if b.discarded.Load() {
		return errors.Newf(errors.ErrorTypeLifecycleOrder, "%s on discarded buffer of worker %s", op, b.opts.Worker).
			WithStage(errors.StageLifecycle).
			WithDetail("worker", b.opts.Worker.String()).
			WithDetail("operation", op)
	}
	return b.poisoned
}

func (b *ThreadBuffer) flush(ctx context.Context, trigger string) (err error) {
	rows := b.table.Rows()
	if rows == 0 {
		b.eventsSinceClear = 0
		if b.opts.Debug {
			b.logger.Debug("clear skipped, buffer empty", zap.String("trigger", trigger))
		}
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "buffer.flush",
		attribute.String("collection", b.opts.Collection),
		attribute.Int("worker", int(b.opts.Worker)),
		attribute.Int("segment", b.nextSegment),
		attribute.Int("rows", rows),
		attribute.String("trigger", trigger))
	defer func() { observability.EndSpan(span, err) }()

	timer := metrics.NewTimer()
	rec := b.table.Flush()
	defer rec.Release()

	if err := b.sink.Write(ctx, rec, b.opts.Worker, b.nextSegment); err != nil {
		b.poisoned = err
		metrics.Errors.WithLabelValues(b.opts.Collection, string(errors.TypeOf(err))).Inc()
		b.logger.Error("segment write failed, buffer poisoned",
			zap.Int("segment", b.nextSegment),
			zap.Int("rows", rows),
			zap.Error(err))
		return err
	}

	segment := b.nextSegment
	b.nextSegment++
	b.rowsFlushed += int64(rows)
	b.eventsSinceClear = 0

	b.flushed.Add(float64(rows))
	metrics.SegmentsWritten.WithLabelValues(b.opts.Collection, trigger).Inc()
	metrics.SegmentRows.WithLabelValues(b.opts.Collection).Observe(float64(rows))
	metrics.FlushDuration.WithLabelValues(b.opts.Collection).Observe(timer.Stop().Seconds())
	rss := metrics.SampleRSS()

	if b.opts.Debug {
		b.logger.Debug("buffer flushed and cleared",
			zap.String("trigger", trigger),
			zap.Int("segment", segment),
			zap.Int("rows", rows),
			zap.Int64("rows_flushed", b.rowsFlushed),
			zap.Uint64("rss", rss))
	}
	return nil
}
