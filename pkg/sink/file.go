package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gatehits/pkg/compression"
	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/formats/columnar"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/logger"
)

// FileOptions configures a FileSink.
type FileOptions struct {
	Collection string
	// Destination is the consolidated file (concat) or manifest (manifest mode)
	Destination string
	// SpillDir is the root under which each Open creates a fresh run-* directory
	// for its segment files; defaults to Destination + ".segments"
	SpillDir string
	// Format of the consolidated file: arrow or parquet
	Format columnar.Format
	// Manifest writes a JSON manifest of the segments instead of concatenating
	Manifest bool
	// KeepSegments leaves segment files in place after a concat merge
	KeepSegments       bool
	SegmentCompression compression.Config
	ParquetCompression string
	Logger             *zap.Logger
}

// FileSink spills each segment to its own Arrow IPC stream file and
// concatenates them at Finalize. Only the segment bookkeeping is locked, so one
// worker's flush never waits on another worker's file I/O.
type FileSink struct {
	opts   FileOptions
	schema *hits.Schema
	mem    memory.Allocator
	logger *zap.Logger

	runDir string

	mu        sync.Mutex
	segments  map[hits.WorkerID][]SegmentInfo
	finalized bool
}

// NewFileSink creates a file sink. Nothing touches the filesystem until Open.
func NewFileSink(schema *hits.Schema, opts FileOptions) *FileSink {
	if opts.Format == "" {
		opts.Format = columnar.Arrow
	}
	if opts.SpillDir == "" {
		opts.SpillDir = opts.Destination + ".segments"
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	return &FileSink{
		opts:     opts,
		schema:   schema,
		mem:      memory.NewGoAllocator(),
		logger:   logger.Component(log, "file_sink").With(zap.String("collection", opts.Collection)),
		segments: make(map[hits.WorkerID][]SegmentInfo),
	}
}

// SpillDir returns the directory segment files are written to: the run
// directory once opened, the spill root before.
func (s *FileSink) SpillDir() string {
	if s.runDir != "" {
		return s.runDir
	}
	return s.opts.SpillDir
}

// Open probes that the destination and spill directories are writable and
// creates a run directory of its own under the spill root, so segments left by
// an aborted or keep_segments run never collide with this one.
func (s *FileSink) Open(ctx context.Context) error {
	if s.opts.Destination == "" {
		return configError("output_destination is empty")
	}
	switch s.opts.Format {
	case columnar.Arrow, columnar.Parquet:
	default:
		return configError(fmt.Sprintf("unsupported output format %q", s.opts.Format))
	}
	if _, err := columnar.ParquetCodec(s.opts.ParquetCompression); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid parquet compression").
			WithStage(errors.StageConfiguration)
	}

	for _, dir := range []string{filepath.Dir(s.opts.Destination), s.opts.SpillDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "output directory is not writable").
				WithStage(errors.StageConfiguration).
				WithDetail("dir", dir)
		}
		probe, err := os.CreateTemp(dir, ".gatehits-probe-*")
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "output directory is not writable").
				WithStage(errors.StageConfiguration).
				WithDetail("dir", dir)
		}
		probe.Close()
		os.Remove(probe.Name())
	}

	runDir, err := os.MkdirTemp(s.opts.SpillDir, "run-*")
	if err != nil {
		return errors.Wrap(fileError(err, s.opts.SpillDir), errors.ErrorTypeConfig, "failed to create spill run directory").
			WithStage(errors.StageConfiguration)
	}
	s.runDir = runDir

	s.logger.Info("file sink opened",
		zap.String("destination", s.opts.Destination),
		zap.String("spill_dir", s.runDir),
		zap.String("format", string(s.opts.Format)),
		zap.Bool("manifest", s.opts.Manifest))
	return nil
}

// Write spills rec to seg-<worker>-<index>.arrows and fsyncs it.
func (s *FileSink) Write(ctx context.Context, rec arrow.Record, worker hits.WorkerID, index int) error {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return errors.New(errors.ErrorTypeSink, "write after finalize").
			WithStage(errors.StageFlush).
			WithDetail("worker", worker.String())
	}
	if s.runDir == "" {
		s.mu.Unlock()
		return errors.New(errors.ErrorTypeSink, "write before open").
			WithStage(errors.StageFlush).
			WithDetail("worker", worker.String())
	}
	if err := checkIndex(s.segments[worker], worker, index); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	path := filepath.Join(s.runDir, s.segmentName(worker, index))
	n, err := s.writeSegment(path, rec)
	if err != nil {
		os.Remove(path)
		return sinkError(fileError(err, path), errors.StageFlush, "failed to write segment").
			WithDetail("worker", worker.String()).
			WithDetail("segment", index).
			WithDetail("path", path)
	}

	s.mu.Lock()
	s.segments[worker] = append(s.segments[worker], SegmentInfo{
		Worker: worker,
		Index:  index,
		Rows:   rec.NumRows(),
		Path:   path,
		Bytes:  n,
	})
	s.mu.Unlock()

	s.logger.Debug("segment written",
		zap.Stringer("worker", worker),
		zap.Int("segment", index),
		zap.Int64("rows", rec.NumRows()),
		zap.Int64("bytes", n))
	return nil
}

func (s *FileSink) segmentName(worker hits.WorkerID, index int) string {
	return fmt.Sprintf("seg-%03d-%06d%s%s", int(worker), index,
		columnar.ArrowStream.Extension(), s.opts.SegmentCompression.Algorithm.Extension())
}

func (s *FileSink) writeSegment(path string, rec arrow.Record) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	cw, err := compression.NewWriter(f, &s.opts.SegmentCompression)
	if err != nil {
		return 0, err
	}
	w, err := columnar.NewWriter(cw, s.schema.Arrow(), &columnar.WriterConfig{
		Format:    columnar.ArrowStream,
		Allocator: s.mem,
	})
	if err != nil {
		return 0, err
	}
	if err := w.Write(rec); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	if err := cw.Close(); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Finalize writes the consolidated file, or the manifest in manifest mode.
func (s *FileSink) Finalize(ctx context.Context, order []hits.WorkerID) (*ConsolidatedOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, errors.New(errors.ErrorTypeSink, "sink already finalized").WithStage(errors.StageMerge)
	}
	if err := checkOrder(order, s.segments); err != nil {
		return nil, err
	}
	s.finalized = true

	out := &ConsolidatedOutput{
		Collection:  s.opts.Collection,
		Destination: s.opts.Destination,
		Order:       append([]hits.WorkerID(nil), order...),
		Schema:      s.schema.Attributes(),
		CreatedAt:   time.Now().UTC(),
	}
	for _, w := range order {
		segs := s.segments[w]
		sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })
		out.Segments = append(out.Segments, segs...)
		for _, seg := range segs {
			out.Rows += seg.Rows
		}
	}

	if s.opts.Manifest {
		out.Format = FormatManifest
		if err := writeManifest(s.opts.Destination, s.opts.SegmentCompression.Algorithm, out); err != nil {
			return nil, sinkError(err, errors.StageMerge, "failed to write manifest").
				WithDetail("destination", s.opts.Destination)
		}
		s.logger.Info("manifest written",
			zap.String("destination", s.opts.Destination),
			zap.Int("segments", len(out.Segments)),
			zap.Int64("rows", out.Rows))
		return out, nil
	}

	out.Format = string(s.opts.Format)
	if err := s.concat(ctx, out); err != nil {
		return nil, err
	}
	if !s.opts.KeepSegments {
		s.removeSegments(out.Segments)
	}
	s.logger.Info("consolidated output written",
		zap.String("destination", s.opts.Destination),
		zap.String("format", out.Format),
		zap.Int("segments", len(out.Segments)),
		zap.Int64("rows", out.Rows))
	return out, nil
}

// concat decodes segments ahead of the writer, at most GOMAXPROCS at a time, and
// writes them to a temporary file that is renamed over the destination.
func (s *FileSink) concat(ctx context.Context, out *ConsolidatedOutput) error {
	tmp := s.opts.Destination + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return sinkError(err, errors.StageMerge, "failed to create output file").WithDetail("path", tmp)
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	w, err := columnar.NewWriter(f, s.schema.Arrow(), &columnar.WriterConfig{
		Format:      s.opts.Format,
		Compression: s.opts.ParquetCompression,
		Metadata:    map[string]string{"gatehits.collection": s.opts.Collection},
		Allocator:   s.mem,
	})
	if err != nil {
		return sinkError(err, errors.StageMerge, "failed to create output writer")
	}

	segs := out.Segments
	results := make([]chan []arrow.Record, len(segs))
	for i := range results {
		results[i] = make(chan []arrow.Record, 1)
	}
	window := make(chan struct{}, runtime.GOMAXPROCS(0))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i := range segs {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			i := i
			g.Go(func() error {
				recs, err := s.readSegment(segs[i].Path)
				if err != nil {
					return sinkError(fileError(err, segs[i].Path), errors.StageMerge, "failed to read segment").
						WithDetail("path", segs[i].Path)
				}
				results[i] <- recs
				return nil
			})
		}
		return nil
	})
	g.Go(func() error {
		for i := range segs {
			var recs []arrow.Record
			select {
			case recs = <-results[i]:
			case <-gctx.Done():
				return gctx.Err()
			}
			err := writeAll(w, recs)
			<-window
			if err != nil {
				return sinkError(err, errors.StageMerge, "failed to write output").
					WithDetail("segment", segs[i].Path)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return sinkError(err, errors.StageMerge, "failed to close output writer")
	}
	if w.RowsWritten() != out.Rows {
		return errors.Newf(errors.ErrorTypeData, "consolidated %d rows, segments hold %d", w.RowsWritten(), out.Rows).
			WithStage(errors.StageMerge)
	}
	if err := f.Sync(); err != nil {
		return sinkError(err, errors.StageMerge, "failed to sync output file")
	}
	if err := f.Close(); err != nil {
		return sinkError(err, errors.StageMerge, "failed to close output file")
	}
	if err := os.Rename(tmp, s.opts.Destination); err != nil {
		return sinkError(err, errors.StageMerge, "failed to move output into place").
			WithDetail("destination", s.opts.Destination)
	}
	return nil
}

func writeAll(w columnar.Writer, recs []arrow.Record) error {
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// readSegment decodes every batch of a segment file.
func (s *FileSink) readSegment(path string) ([]arrow.Record, error) {
	return ReadSegment(path, s.opts.SegmentCompression.Algorithm, s.mem)
}

// ReadSegment decodes a spill segment written with the given compression.
func ReadSegment(path string, algo compression.Algorithm, mem memory.Allocator) ([]arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr, err := compression.NewReader(f, algo)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	r, err := columnar.NewStreamReader(cr, mem)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var recs []arrow.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			for _, r := range recs {
				r.Release()
			}
			return nil, err
		}
		rec.Retain()
		recs = append(recs, rec)
	}
}

func (s *FileSink) removeSegments(segs []SegmentInfo) {
	for _, seg := range segs {
		if err := os.Remove(seg.Path); err != nil {
			s.logger.Warn("failed to remove segment", zap.String("path", seg.Path), zap.Error(err))
		}
	}
	s.removeRunDir()
}

// removeRunDir drops the run directory and then the spill root. Each removal
// only succeeds when nothing else lives there.
func (s *FileSink) removeRunDir() {
	if s.runDir != "" {
		os.Remove(s.runDir)
	}
	os.Remove(s.opts.SpillDir)
}

// fileError tags a filesystem failure on path so callers can tell it apart
// from encoding failures. Other errors pass through untouched.
func fileError(err error, path string) error {
	var pe *os.PathError
	if !errors.As(err, &pe) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeFile, pe.Op+" failed").WithDetail("path", path)
}
