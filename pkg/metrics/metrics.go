// Package metrics exposes Prometheus metrics for the hit collector.
//
// All vectors are labelled by hits collection name so several collectors in one
// process stay distinguishable. Worker-level series are labelled by worker id;
// the host decides how many workers exist, so cardinality stays bounded by its
// thread count.
//
// # Basic Usage
//
//	metrics.HitsAppended.WithLabelValues("Hits", "w0").Add(float64(n))
//
//	timer := metrics.NewTimer()
//	flush()
//	metrics.FlushDuration.WithLabelValues("Hits").Observe(timer.Stop().Seconds())
package metrics

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	// HitsAppended counts hits appended to worker buffers
	HitsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehits",
			Subsystem: "buffer",
			Name:      "hits_appended_total",
			Help:      "Total number of hits appended to worker buffers",
		},
		[]string{"collection", "worker"},
	)

	// RowsFlushed counts rows handed to the output sink
	RowsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehits",
			Subsystem: "buffer",
			Name:      "rows_flushed_total",
			Help:      "Total number of rows flushed to the output sink",
		},
		[]string{"collection", "worker"},
	)

	// SegmentsWritten counts segments written, split by trigger (threshold, finalize or manual)
	SegmentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehits",
			Subsystem: "sink",
			Name:      "segments_written_total",
			Help:      "Total number of segments written to the output sink, by trigger (threshold, finalize or manual)",
		},
		[]string{"collection", "trigger"},
	)

	// SegmentRows observes the size of each written segment
	SegmentRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatehits",
			Subsystem: "sink",
			Name:      "segment_rows",
			Help:      "Rows per written segment",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		},
		[]string{"collection"},
	)

	// FlushDuration observes how long a flush-and-clear takes
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatehits",
			Subsystem: "buffer",
			Name:      "flush_duration_seconds",
			Help:      "Duration of flush-and-clear operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"collection"},
	)

	// MergeDuration observes the end-of-simulation merge
	MergeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatehits",
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Duration of the end-of-simulation merge in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"collection", "mode"},
	)

	// ActiveWorkers tracks buffers created and not yet finalized
	ActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gatehits",
			Subsystem: "lifecycle",
			Name:      "active_workers",
			Help:      "Worker buffers created and not yet finalized",
		},
		[]string{"collection"},
	)

	// Events counts completed events per collection
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehits",
			Subsystem: "lifecycle",
			Name:      "events_total",
			Help:      "Total number of completed events",
		},
		[]string{"collection"},
	)

	// Errors counts fatal errors by type
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehits",
			Subsystem: "lifecycle",
			Name:      "errors_total",
			Help:      "Total number of fatal collector errors",
		},
		[]string{"collection", "error_type"},
	)

	// ResidentMemory is the process RSS sampled at each flush
	ResidentMemory = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatehits",
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Process resident set size sampled at flush time",
		},
	)
)

// Timer measures elapsed time for a histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

var self *process.Process

func init() {
	// a failed lookup leaves self nil and SampleRSS reports zero
	self, _ = process.NewProcess(int32(os.Getpid()))
}

// SampleRSS reads the current resident set size and records it in ResidentMemory.
func SampleRSS() uint64 {
	if self == nil {
		return 0
	}
	info, err := self.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	ResidentMemory.Set(float64(info.RSS))
	return info.RSS
}
