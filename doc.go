// Package gatehits collects per-interaction hits from a multi-threaded particle
// transport simulation into columnar tables and merges them into a single
// deterministic output once every worker thread has finished.
//
// The collector is driven entirely by its host engine. The engine calls into a
// lifecycle.Controller at fixed points (start of simulation, begin and end of
// each run and event, every step, end of each worker, end of simulation) and
// the controller routes hits into one buffer per worker thread.
//
// # Architecture
//
// Each worker owns a buffer.ThreadBuffer backed by an arrow record builder.
// Appends never take a lock. After every N completed events the buffer is
// flushed through the configured sink.Sink and cleared, which bounds memory for
// long simulations. When a worker ends, its buffer flushes the remainder and is
// sealed; the controller records the worker's completion position.
//
// At the end of the simulation merge.Coordinator concatenates every worker's
// segments in completion order, then intra-worker order, producing one Arrow
// or Parquet file (or a JSON manifest pointing at the segments). Object-store
// destinations (s3://, gs://) are staged locally and uploaded.
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.HitAttributeNames = []string{"TotalEnergyDeposit", "PostPosition", "TrackID"}
//	cfg.OutputDestination = "out/hits.parquet"
//	cfg.ClearEveryNEvents = 1000
//
//	ctl := lifecycle.New(cfg)
//	if err := ctl.StartSimulationAction(ctx); err != nil {
//	    return err
//	}
//	// the host engine drives the remaining callbacks
//
// # Key Packages
//
//	pkg/hits               - Attribute schema, catalogue, hit record, arrow table
//	pkg/buffer             - Per-worker buffer with scheduled flush and clear
//	pkg/lifecycle          - Callback state machine driven by the host
//	pkg/merge              - Completion-ordered merge of worker output
//	pkg/sink               - Memory, file and object-store output sinks
//	pkg/formats/columnar   - Arrow IPC and Parquet readers and writers
//	pkg/config             - Viper configuration loader and validation
//	pkg/errors             - Structured error taxonomy
//	pkg/logger             - Structured logging on zap
//	pkg/metrics            - Prometheus metrics
//	pkg/observability      - OpenTelemetry tracing
//
// # Command Line
//
//	gatehits attributes                       # list well-known hit attributes
//	gatehits init-config gatehits.yaml        # write a default configuration
//	gatehits run --config gatehits.yaml       # drive a synthetic simulation
//	gatehits verify out/hits.parquet --head 5 # inspect a consolidated output
package gatehits
