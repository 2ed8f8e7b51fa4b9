// Package lifecycle drives hit collection from host engine callbacks.
//
// The host engine owns the worker threads and calls into a Controller at fixed
// points. Every per-worker callback names its worker explicitly; the
// controller keeps one buffer per worker and never relies on thread identity.
//
//	StartSimulationAction
//	  per worker: BeginOfRunAction
//	                (BeginOfEventAction SteppingAction* EndOfEventAction)*
//	              EndOfRunAction
//	              ... more runs ...
//	              EndOfSimulationWorkerAction
//	EndSimulationAction
//
// A callback arriving in the wrong state fails with a lifecycle_order error
// naming the callback, the worker and the state observed.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gatehits/pkg/buffer"
	"github.com/ajitpratap0/gatehits/pkg/config"
	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/logger"
	"github.com/ajitpratap0/gatehits/pkg/merge"
	"github.com/ajitpratap0/gatehits/pkg/metrics"
	"github.com/ajitpratap0/gatehits/pkg/pool"
	"github.com/ajitpratap0/gatehits/pkg/sink"
)

// WorkerID identifies a host worker.
type WorkerID = hits.WorkerID

// Actor receives host engine callbacks.
type Actor interface {
	StartSimulationAction(ctx context.Context) error
	BeginOfRunAction(ctx context.Context, worker WorkerID, runID int) error
	BeginOfEventAction(ctx context.Context, worker WorkerID, eventID int) error
	SteppingAction(ctx context.Context, worker WorkerID, steps ...Step) error
	EndOfEventAction(ctx context.Context, worker WorkerID) error
	EndOfRunAction(ctx context.Context, worker WorkerID, runID int) error
	EndOfSimulationWorkerAction(ctx context.Context, worker WorkerID) error
	EndSimulationAction(ctx context.Context) (*sink.ConsolidatedOutput, error)
}

var _ Actor = (*Controller)(nil)

// Option configures a Controller.
type Option func(*Controller)

// WithSink replaces the sink normally built from the configuration.
func WithSink(s sink.Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithLogger sets the logger; the global logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.baseLogger = l }
}

type workerState struct {
	id  WorkerID
	buf *buffer.ThreadBuffer

	state   atomic.Int32
	runID   int
	eventID int

	runs   atomic.Int64
	events atomic.Int64
	steps  atomic.Int64
	hits   atomic.Int64
}

func (w *workerState) load() WorkerState { return WorkerState(w.state.Load()) }

// Controller is the collector's state machine. It is safe for concurrent use
// by many workers, provided each worker's callbacks arrive sequentially.
type Controller struct {
	cfg        *config.Config
	schema     *hits.Schema
	sink       sink.Sink
	merger     *merge.Coordinator
	baseLogger *zap.Logger
	logger     *zap.Logger
	fields     *pool.Pool[*[]hits.Field]

	state atomic.Int32

	// workers is replaced wholesale under mu so the stepping path can read it
	// without locking.
	mu      sync.Mutex
	workers atomic.Pointer[map[WorkerID]*workerState]
	order   []WorkerID
	output  *sink.ConsolidatedOutput
}

// New creates a controller for cfg. The configuration is validated by
// StartSimulationAction, not here.
func New(cfg *config.Config, opts ...Option) *Controller {
	c := &Controller{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseLogger == nil {
		c.baseLogger = logger.Get()
	}
	c.logger = logger.Component(c.baseLogger, "lifecycle").With(zap.String("collection", cfg.HitsCollectionName))
	empty := make(map[WorkerID]*workerState)
	c.workers.Store(&empty)
	return c
}

// State returns the simulation-wide state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Schema returns the resolved hit schema; nil before StartSimulationAction.
func (c *Controller) Schema() *hits.Schema { return c.schema }

// Output returns the consolidated output once the simulation ended.
func (c *Controller) Output() *sink.ConsolidatedOutput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// StartSimulationAction validates the configuration and opens the sink. Every
// failure is a configuration error and leaves the controller uninitialized.
func (c *Controller) StartSimulationAction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s != Uninitialized {
		return c.orderError("StartSimulationAction", nil, s.String())
	}

	if err := c.cfg.Validate(); err != nil {
		return c.fail(err)
	}
	schema, err := c.cfg.Schema()
	if err != nil {
		return c.fail(err)
	}
	if c.sink == nil {
		s, err := sink.New(c.cfg, schema, c.baseLogger)
		if err != nil {
			return c.fail(err)
		}
		c.sink = s
	}
	if err := c.sink.Open(ctx); err != nil {
		if !errors.IsType(err, errors.ErrorTypeConfig) {
			err = errors.Wrap(err, errors.ErrorTypeConfig, "output sink cannot be opened").
				WithStage(errors.StageConfiguration)
		}
		return c.fail(err)
	}

	c.schema = schema
	c.fields = pool.New(
		func() *[]hits.Field { s := make([]hits.Field, 0, schema.Len()); return &s },
		func(s *[]hits.Field) { *s = (*s)[:0] },
	)
	c.merger = merge.NewCoordinator(c.sink, c.cfg.HitsCollectionName, c.cfg.Output.MergeMode, c.baseLogger)
	c.state.Store(int32(SimulationStarted))

	c.logger.Info("simulation started",
		zap.String("destination", c.cfg.OutputDestination),
		zap.Stringer("schema", schema),
		zap.Int("clear_every_n_events", c.cfg.ClearEveryNEvents),
		zap.Bool("debug", c.cfg.Debug))
	return nil
}

// BeginOfRunAction registers the worker's buffer on its first run.
func (c *Controller) BeginOfRunAction(ctx context.Context, worker WorkerID, runID int) error {
	if err := c.requireStarted("BeginOfRunAction", worker); err != nil {
		return err
	}

	w, ok := c.lookup(worker)
	if !ok {
		var err error
		if w, err = c.register(worker); err != nil {
			return err
		}
	}
	if !w.state.CompareAndSwap(int32(WorkerIdle), int32(RunActive)) {
		return c.orderError("BeginOfRunAction", w, w.load().String())
	}
	w.runID = runID
	w.runs.Add(1)
	c.trace("begin of run", worker, zap.Int("run", runID))
	return nil
}

// BeginOfEventAction opens an event.
func (c *Controller) BeginOfEventAction(ctx context.Context, worker WorkerID, eventID int) error {
	w, err := c.worker("BeginOfEventAction", worker, RunActive)
	if err != nil {
		return err
	}
	w.eventID = eventID
	w.state.Store(int32(EventActive))
	c.trace("begin of event", worker, zap.Int("event", eventID))
	return nil
}

// SteppingAction appends one hit per step. The configured attributes are read
// from each step in schema order; a step missing one is a schema mismatch.
func (c *Controller) SteppingAction(ctx context.Context, worker WorkerID, steps ...Step) error {
	w, err := c.worker("SteppingAction", worker, EventActive)
	if err != nil {
		return err
	}

	scratch := c.fields.Get()
	defer c.fields.Put(scratch)

	for _, step := range steps {
		w.steps.Add(1)
		fields := (*scratch)[:0]
		for i := 0; i < c.schema.Len(); i++ {
			name := c.schema.Attribute(i).Name
			v, ok := step.Attribute(name)
			if !ok {
				return c.count(errors.Newf(errors.ErrorTypeSchemaMismatch, "step does not carry attribute %q", name).
					WithStage(errors.StageAppend).
					WithDetail("worker", worker.String()).
					WithDetail("event", w.eventID))
			}
			fields = append(fields, hits.Field{Name: name, Value: v})
		}
		*scratch = fields
		if err := w.buf.Append(hits.RecordFromFields(fields)); err != nil {
			return c.count(err)
		}
		w.hits.Add(1)
	}
	return nil
}

// EndOfEventAction closes the event; the buffer may flush here.
func (c *Controller) EndOfEventAction(ctx context.Context, worker WorkerID) error {
	w, err := c.worker("EndOfEventAction", worker, EventActive)
	if err != nil {
		return err
	}
	w.state.Store(int32(RunActive))
	w.events.Add(1)
	metrics.Events.WithLabelValues(c.cfg.HitsCollectionName).Inc()
	c.trace("end of event", worker, zap.Int("event", w.eventID))
	return c.count(w.buf.OnEventBoundary(ctx))
}

// EndOfRunAction closes the run. Runs are counted but do not flush.
func (c *Controller) EndOfRunAction(ctx context.Context, worker WorkerID, runID int) error {
	w, err := c.worker("EndOfRunAction", worker, RunActive)
	if err != nil {
		return err
	}
	if runID != w.runID {
		return c.count(errors.Newf(errors.ErrorTypeLifecycleOrder, "EndOfRunAction for run %d while run %d is active on worker %s", runID, w.runID, worker).
			WithStage(errors.StageLifecycle).
			WithDetail("worker", worker.String()))
	}
	w.state.Store(int32(WorkerIdle))
	c.trace("end of run", worker, zap.Int("run", runID))
	return nil
}

// EndOfSimulationWorkerAction finalizes the worker's buffer and records the
// worker's place in the completion order.
func (c *Controller) EndOfSimulationWorkerAction(ctx context.Context, worker WorkerID) error {
	if err := c.requireStarted("EndOfSimulationWorkerAction", worker); err != nil {
		return err
	}
	w, ok := c.lookup(worker)
	if !ok {
		return c.orderError("EndOfSimulationWorkerAction", &workerState{id: worker}, "unregistered")
	}
	if s := w.load(); s != WorkerIdle && s != RunActive {
		return c.orderError("EndOfSimulationWorkerAction", w, s.String())
	}

	if err := w.buf.Finalize(ctx); err != nil {
		return c.count(err)
	}
	w.state.Store(int32(WorkerFinished))
	metrics.ActiveWorkers.WithLabelValues(c.cfg.HitsCollectionName).Dec()

	c.mu.Lock()
	c.order = append(c.order, worker)
	position := len(c.order)
	c.mu.Unlock()

	c.logger.Info("worker finished",
		zap.Stringer("worker", worker),
		zap.Int("completion_position", position),
		zap.Int64("runs", w.runs.Load()),
		zap.Int64("events", w.events.Load()),
		zap.Int64("hits", w.hits.Load()))
	return nil
}

// EndSimulationAction merges every worker's output. It fails with a
// merge_incomplete error, wrapped as lifecycle_order, if any registered worker
// has not finished; no output is produced in that case.
func (c *Controller) EndSimulationAction(ctx context.Context) (*sink.ConsolidatedOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s != SimulationStarted {
		return nil, c.orderError("EndSimulationAction", nil, s.String())
	}

	workers := *c.workers.Load()
	buffers := make(map[WorkerID]*buffer.ThreadBuffer, len(workers))
	for id, w := range workers {
		buffers[id] = w.buf
	}

	out, err := c.merger.Merge(ctx, append([]WorkerID(nil), c.order...), buffers)
	if err != nil {
		c.state.Store(int32(SimulationFailed))
		// the host has joined its workers by now; nothing appends any more
		for _, b := range buffers {
			b.Discard()
		}
		if errors.IsType(err, errors.ErrorTypeMergeIncomplete) {
			err = errors.Wrap(err, errors.ErrorTypeLifecycleOrder, "EndSimulationAction before every worker finished").
				WithStage(errors.StageMerge)
		}
		c.logger.Error("simulation ended without output", zap.Error(err))
		return nil, err
	}

	c.output = out
	c.state.Store(int32(SimulationEnded))
	c.logger.Info("simulation ended",
		zap.Int("workers", len(c.order)),
		zap.Int64("rows", out.Rows),
		zap.String("destination", out.Destination))
	return out, nil
}

// requireStarted checks the simulation accepts worker callbacks.
func (c *Controller) requireStarted(callback string, worker WorkerID) error {
	if s := c.State(); s != SimulationStarted {
		return c.orderError(callback, &workerState{id: worker}, s.String())
	}
	return nil
}

// worker looks up a registered worker and checks it is in the wanted state.
func (c *Controller) worker(callback string, id WorkerID, want WorkerState) (*workerState, error) {
	if err := c.requireStarted(callback, id); err != nil {
		return nil, err
	}
	w, ok := c.lookup(id)
	if !ok {
		return nil, c.orderError(callback, &workerState{id: id}, "unregistered")
	}
	if s := w.load(); s != want {
		return nil, c.orderError(callback, w, s.String())
	}
	return w, nil
}

func (c *Controller) lookup(id WorkerID) (*workerState, bool) {
	w, ok := (*c.workers.Load())[id]
	return w, ok
}

// register adds a worker and its buffer, copying the worker map.
func (c *Controller) register(id WorkerID) (*workerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// the simulation may have ended while we waited for the lock
	if s := c.State(); s != SimulationStarted {
		return nil, c.orderError("BeginOfRunAction", &workerState{id: id}, s.String())
	}
	current := *c.workers.Load()
	if w, ok := current[id]; ok {
		return w, nil
	}

	w := &workerState{
		id: id,
		buf: buffer.New(c.schema, c.sink, buffer.Options{
			Collection:        c.cfg.HitsCollectionName,
			Worker:            id,
			ClearEveryNEvents: c.cfg.ClearEveryNEvents,
			Debug:             c.cfg.Debug,
			Logger:            c.baseLogger,
		}),
	}
	next := make(map[WorkerID]*workerState, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[id] = w
	c.workers.Store(&next)

	metrics.ActiveWorkers.WithLabelValues(c.cfg.HitsCollectionName).Inc()
	c.logger.Debug("worker registered", zap.Stringer("worker", id))
	return w, nil
}

func (c *Controller) orderError(callback string, w *workerState, observed string) error {
	e := errors.Newf(errors.ErrorTypeLifecycleOrder, "%s not allowed in state %s", callback, observed).
		WithStage(errors.StageLifecycle).
		WithDetail("callback", callback).
		WithDetail("state", observed)
	if w != nil {
		e.Message += " on worker " + w.id.String()
		e.WithDetail("worker", w.id.String())
	}
	return c.count(e)
}

func (c *Controller) fail(err error) error {
	c.logger.Error("simulation cannot start", zap.Error(err))
	return c.count(err)
}

// count records a fatal error in metrics and returns it unchanged.
func (c *Controller) count(err error) error {
	if err != nil {
		metrics.Errors.WithLabelValues(c.cfg.HitsCollectionName, string(errors.TypeOf(err))).Inc()
	}
	return err
}

func (c *Controller) trace(msg string, worker WorkerID, fields ...zap.Field) {
	if c.cfg.Debug {
		c.logger.Debug(msg, append(fields, zap.Stringer("worker", worker))...)
	}
}

// WorkerStats is a per-worker snapshot.
type WorkerStats struct {
	Worker WorkerID `json:"worker"`
	State  string   `json:"state"`
	Runs   int64    `json:"runs"`
	Events int64    `json:"events"`
	Steps  int64    `json:"steps"`
	Hits   int64    `json:"hits"`
}

// Stats summarizes what the controller has seen so far.
type Stats struct {
	State   string        `json:"state"`
	Runs    int64         `json:"runs"`
	Events  int64         `json:"events"`
	Steps   int64         `json:"steps"`
	Hits    int64         `json:"hits"`
	Order   []WorkerID    `json:"completion_order"`
	Workers []WorkerStats `json:"workers"`
}

// Stats returns counters per worker and in total. Safe to call at any time.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	order := append([]WorkerID(nil), c.order...)
	c.mu.Unlock()

	st := Stats{State: c.State().String(), Order: order}
	for _, w := range *c.workers.Load() {
		ws := WorkerStats{
			Worker: w.id,
			State:  w.load().String(),
			Runs:   w.runs.Load(),
			Events: w.events.Load(),
			Steps:  w.steps.Load(),
			Hits:   w.hits.Load(),
		}
		st.Runs += ws.Runs
		st.Events += ws.Events
		st.Steps += ws.Steps
		st.Hits += ws.Hits
		st.Workers = append(st.Workers, ws)
	}
	sort.Slice(st.Workers, func(i, j int) bool { return st.Workers[i].Worker < st.Workers[j].Worker })
	return st
}
