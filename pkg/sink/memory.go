package sink

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/hits"
)

// MemorySink keeps every segment in memory. It is meant for tests and for hosts
// that consume the merged records directly.
type MemorySink struct {
	collection string
	schema     *hits.Schema

	mu        sync.Mutex
	segments  map[hits.WorkerID][]arrow.Record
	infos     map[hits.WorkerID][]SegmentInfo
	finalized bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink(collection string, schema *hits.Schema) *MemorySink {
	return &MemorySink{
		collection: collection,
		schema:     schema,
		segments:   make(map[hits.WorkerID][]arrow.Record),
		infos:      make(map[hits.WorkerID][]SegmentInfo),
	}
}

// Open is a no-op.
func (s *MemorySink) Open(ctx context.Context) error { return nil }

// Write retains rec.
func (s *MemorySink) Write(ctx context.Context, rec arrow.Record, worker hits.WorkerID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return errors.New(errors.ErrorTypeSink, "write after finalize").
			WithStage(errors.StageFlush).
			WithDetail("worker", worker.String())
	}
	if err := checkIndex(s.infos[worker], worker, index); err != nil {
		return err
	}

	rec.Retain()
	s.segments[worker] = append(s.segments[worker], rec)
	s.infos[worker] = append(s.infos[worker], SegmentInfo{Worker: worker, Index: index, Rows: rec.NumRows()})
	return nil
}

// Finalize hands the retained records over to the output in completion order.
// The caller must Release the output.
func (s *MemorySink) Finalize(ctx context.Context, order []hits.WorkerID) (*ConsolidatedOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, errors.New(errors.ErrorTypeSink, "sink already finalized").WithStage(errors.StageMerge)
	}
	if err := checkOrder(order, s.infos); err != nil {
		return nil, err
	}
	s.finalized = true

	out := &ConsolidatedOutput{
		Collection:  s.collection,
		Destination: FormatMemory,
		Format:      FormatMemory,
		Order:       append([]hits.WorkerID(nil), order...),
		Schema:      s.schema.Attributes(),
		CreatedAt:   time.Now().UTC(),
	}
	for _, w := range order {
		out.Records = append(out.Records, s.segments[w]...)
		out.Segments = append(out.Segments, s.infos[w]...)
		for _, info := range s.infos[w] {
			out.Rows += info.Rows
		}
	}
	s.segments = nil
	return out, nil
}

// SegmentCount returns the number of segments written by worker so far.
func (s *MemorySink) SegmentCount(worker hits.WorkerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.infos[worker])
}

// checkIndex enforces strictly increasing segment indexes per worker.
func checkIndex(prev []SegmentInfo, worker hits.WorkerID, index int) error {
	if n := len(prev); n > 0 && index <= prev[n-1].Index {
		return errors.Newf(errors.ErrorTypeSink, "segment index %d for worker %s is not after %d", index, worker, prev[n-1].Index).
			WithStage(errors.StageFlush)
	}
	return nil
}

// checkOrder verifies order names each worker at most once and covers every
// worker that wrote a segment.
func checkOrder(order []hits.WorkerID, written map[hits.WorkerID][]SegmentInfo) error {
	seen := make(map[hits.WorkerID]bool, len(order))
	for _, w := range order {
		if seen[w] {
			return errors.Newf(errors.ErrorTypeInternal, "worker %s appears twice in completion order", w).
				WithStage(errors.StageMerge)
		}
		seen[w] = true
	}
	for w := range written {
		if !seen[w] {
			return errors.Newf(errors.ErrorTypeMergeIncomplete, "worker %s wrote segments but never completed", w).
				WithStage(errors.StageMerge).
				WithDetail("worker", w.String())
		}
	}
	return nil
}
