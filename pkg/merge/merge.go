// Package merge turns finalized worker buffers into the single consolidated
// output of a simulation.
//
// Rows are ordered by worker completion order, then by the order each worker
// emitted them. Completion order is whatever order the host fired the
// end-of-worker callbacks in, so two runs that finish their workers in the same
// order produce identical output.
package merge

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gatehits/pkg/buffer"
	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/logger"
	"github.com/ajitpratap0/gatehits/pkg/metrics"
	"github.com/ajitpratap0/gatehits/pkg/observability"
	"github.com/ajitpratap0/gatehits/pkg/sink"
)

// Coordinator merges worker buffers through a sink.
type Coordinator struct {
	sink       sink.Sink
	collection string
	mode       string
	logger     *zap.Logger
}

// NewCoordinator creates a coordinator; mode only labels metrics and logs.
func NewCoordinator(s sink.Sink, collection, mode string, log *zap.Logger) *Coordinator {
	if log == nil {
		log = logger.Get()
	}
	return &Coordinator{
		sink:       s,
		collection: collection,
		mode:       mode,
		logger:     logger.Component(log, "merge").With(zap.String("collection", collection)),
	}
}

// Merge checks every buffer is finalized and listed exactly once in order,
// then asks the sink to consolidate. The buffers are only read.
func (c *Coordinator) Merge(ctx context.Context, order []hits.WorkerID, buffers map[hits.WorkerID]*buffer.ThreadBuffer) (out *sink.ConsolidatedOutput, err error) {
	ctx, span := observability.StartSpan(ctx, "merge",
		attribute.String("collection", c.collection),
		attribute.String("mode", c.mode),
		attribute.Int("workers", len(buffers)))
	defer func() { observability.EndSpan(span, err) }()

	if err := c.check(order, buffers); err != nil {
		metrics.Errors.WithLabelValues(c.collection, string(errors.TypeOf(err))).Inc()
		return nil, err
	}

	var appended, flushed int64
	for _, w := range order {
		st := buffers[w].Stats()
		appended += st.RowsAppended
		flushed += st.RowsFlushed
	}
	if appended != flushed {
		return nil, errors.Newf(errors.ErrorTypeInternal, "buffers appended %d rows but flushed %d", appended, flushed).
			WithStage(errors.StageMerge)
	}

	timer := metrics.NewTimer()
	out, err = c.sink.Finalize(ctx, order)
	if err != nil {
		metrics.Errors.WithLabelValues(c.collection, string(errors.TypeOf(err))).Inc()
		return nil, err
	}
	metrics.MergeDuration.WithLabelValues(c.collection, c.mode).Observe(timer.Stop().Seconds())

	if out.Rows != flushed {
		return nil, errors.Newf(errors.ErrorTypeData, "consolidated output has %d rows, workers flushed %d", out.Rows, flushed).
			WithStage(errors.StageMerge).
			WithDetail("destination", out.Destination)
	}

	c.logger.Info("merge complete",
		zap.Int("workers", len(order)),
		zap.Int64("rows", out.Rows),
		zap.Int("segments", len(out.Segments)),
		zap.String("destination", out.Destination))
	return out, nil
}

func (c *Coordinator) check(order []hits.WorkerID, buffers map[hits.WorkerID]*buffer.ThreadBuffer) error {
	var pending []string
	for w, b := range buffers {
		if !b.Finalized() {
			pending = append(pending, w.String())
		}
	}
	if len(pending) > 0 {
		sort.Strings(pending)
		return errors.Newf(errors.ErrorTypeMergeIncomplete, "%d worker buffer(s) were never finalized", len(pending)).
			WithStage(errors.StageMerge).
			WithDetail("workers", pending)
	}

	listed := make(map[hits.WorkerID]bool, len(order))
	for _, w := range order {
		if _, ok := buffers[w]; !ok {
			return errors.Newf(errors.ErrorTypeInternal, "completion order names unknown worker %s", w).
				WithStage(errors.StageMerge)
		}
		if listed[w] {
			return errors.Newf(errors.ErrorTypeInternal, "worker %s completed twice", w).
				WithStage(errors.StageMerge)
		}
		listed[w] = true
	}
	if len(listed) != len(buffers) {
		return errors.Newf(errors.ErrorTypeMergeIncomplete, "%d buffers but %d workers completed", len(buffers), len(listed)).
			WithStage(errors.StageMerge)
	}
	return nil
}
