// Package simhost is a synthetic host engine. It runs worker goroutines that
// fire the lifecycle callbacks the way a multi-threaded transport engine does,
// producing pseudo-random hits for whatever schema the collector uses.
//
// Given the same seed and OrderedCompletion, two runs produce identical hits in
// an identical completion order.
package simhost

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/lifecycle"
	"github.com/ajitpratap0/gatehits/pkg/logger"
	"github.com/ajitpratap0/gatehits/pkg/sink"
)

// Config controls the synthetic workload.
type Config struct {
	Workers      int   `yaml:"workers" json:"workers"`
	Runs         int   `yaml:"runs" json:"runs"`
	EventsPerRun int   `yaml:"events_per_run" json:"events_per_run"`
	MaxHits      int   `yaml:"max_hits" json:"max_hits"` // per event, uniform in [0, MaxHits]
	Seed         int64 `yaml:"seed" json:"seed"`
	// OrderedCompletion makes workers finish in id order so the output layout
	// is reproducible.
	OrderedCompletion bool `yaml:"ordered_completion" json:"ordered_completion"`
}

// DefaultConfig returns a small workload.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		Runs:              1,
		EventsPerRun:      100,
		MaxHits:           5,
		Seed:              1,
		OrderedCompletion: true,
	}
}

// Host drives an Actor.
type Host struct {
	cfg    Config
	actor  lifecycle.Actor
	schema *hits.Schema
	logger *zap.Logger
}

// New creates a host producing hits for schema.
func New(actor lifecycle.Actor, schema *hits.Schema, cfg Config, log *zap.Logger) *Host {
	if log == nil {
		log = logger.Get()
	}
	return &Host{cfg: cfg, actor: actor, schema: schema, logger: logger.Component(log, "simhost")}
}

// Run executes the whole simulation and returns the consolidated output. If ctx
// is cancelled the workers stop where they are and EndSimulationAction is
// never called, like an aborted engine.
func (h *Host) Run(ctx context.Context) (*sink.ConsolidatedOutput, error) {
	if h.cfg.Workers <= 0 {
		return nil, fmt.Errorf("simhost: need at least one worker, got %d", h.cfg.Workers)
	}
	if err := h.actor.StartSimulationAction(ctx); err != nil {
		return nil, err
	}

	// turn[i] is closed when worker i may finish
	turns := make([]chan struct{}, h.cfg.Workers+1)
	for i := range turns {
		turns[i] = make(chan struct{})
	}
	close(turns[0])

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < h.cfg.Workers; i++ {
		i := i
		g.Go(func() error {
			w := &worker{
				id:   hits.WorkerID(i),
				host: h,
				rng:  rand.New(rand.NewSource(h.cfg.Seed*7919 + int64(i))),
			}
			if err := w.simulate(gctx); err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			if h.cfg.OrderedCompletion {
				select {
				case <-turns[i]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			err := h.actor.EndOfSimulationWorkerAction(gctx, w.id)
			close(turns[i+1])
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Warn("simulation aborted", zap.Error(err))
		return nil, err
	}
	return h.actor.EndSimulationAction(ctx)
}

type worker struct {
	id   hits.WorkerID
	host *Host
	rng  *rand.Rand

	run, event, track int
}

func (w *worker) simulate(ctx context.Context) error {
	a := w.host.actor
	for r := 0; r < w.host.cfg.Runs; r++ {
		w.run = r
		if err := a.BeginOfRunAction(ctx, w.id, r); err != nil {
			return err
		}
		for e := 0; e < w.host.cfg.EventsPerRun; e++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			// event ids are global across workers, as engines number them
			w.event = r*w.host.cfg.EventsPerRun*w.host.cfg.Workers + e*w.host.cfg.Workers + int(w.id)
			if err := a.BeginOfEventAction(ctx, w.id, w.event); err != nil {
				return err
			}
			n := w.rng.Intn(w.host.cfg.MaxHits + 1)
			steps := make([]lifecycle.Step, n)
			for k := range steps {
				steps[k] = w.step()
			}
			if n > 0 {
				if err := a.SteppingAction(ctx, w.id, steps...); err != nil {
					return err
				}
			}
			if err := a.EndOfEventAction(ctx, w.id); err != nil {
				return err
			}
		}
		if err := a.EndOfRunAction(ctx, w.id, r); err != nil {
			return err
		}
	}
	return nil
}

var (
	particles = []string{"gamma", "e-", "e+", "proton", "neutron"}
	processes = []string{"compt", "phot", "eIoni", "eBrem", "Transportation"}
	volumes   = []string{"world", "crystal", "housing", "phantom"}
)

// step fills every schema attribute. Well-known names get plausible values,
// anything else a value drawn for its type.
func (w *worker) step() lifecycle.FieldStep {
	w.track++
	s := make(lifecycle.FieldStep, w.host.schema.Len())
	for i := range s {
		a := w.host.schema.Attribute(i)
		s[i] = hits.F(a.Name, w.value(a))
	}
	return s
}

func (w *worker) value(a hits.Attribute) interface{} {
	switch a.Name {
	case "EventID":
		return w.event
	case "RunID":
		return w.run
	case "ThreadID":
		return int(w.id)
	case "TrackID":
		return w.track
	case "ParentID":
		return w.rng.Intn(w.track + 1)
	case "PDGCode":
		return []int{22, 11, -11, 2212, 2112}[w.rng.Intn(5)]
	case "ParticleName":
		return particles[w.rng.Intn(len(particles))]
	case "ProcessDefinedStep", "TrackCreatorProcess":
		return processes[w.rng.Intn(len(processes))]
	case "TrackVolumeName", "PreStepVolumeName", "PostStepVolumeName":
		return volumes[w.rng.Intn(len(volumes))]
	case "PostDirection", "PreDirection", "TrackVertexMomentumDirection":
		return w.direction()
	}

	switch a.Type {
	case hits.TypeNumber:
		// keV scale deposits
		return w.rng.ExpFloat64() * 0.1
	case hits.TypeVector3:
		return hits.Vec3{w.rng.NormFloat64() * 50, w.rng.NormFloat64() * 50, w.rng.NormFloat64() * 50}
	case hits.TypeInteger:
		return w.rng.Intn(1000)
	default:
		return fmt.Sprintf("%s-%d", a.Name, w.rng.Intn(100))
	}
}

func (w *worker) direction() hits.Vec3 {
	cost := 2*w.rng.Float64() - 1
	sint := math.Sqrt(1 - cost*cost)
	phi := 2 * math.Pi * w.rng.Float64()
	return hits.Vec3{sint * math.Cos(phi), sint * math.Sin(phi), cost}
}
