// Package sink persists flushed hit segments and consolidates them into one
// output artifact at the end of a simulation.
//
// Workers call Write concurrently, each with its own monotonically increasing
// segment index. Finalize is called once, by the merge coordinator, with the
// order in which workers completed; rows in the consolidated output follow that
// order and then the order of each worker's segments.
package sink

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gatehits/pkg/config"
	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/formats/columnar"
	"github.com/ajitpratap0/gatehits/pkg/hits"
)

// Sink receives worker segments and produces the consolidated output.
type Sink interface {
	// Open checks the destination is usable before any hit is collected.
	Open(ctx context.Context) error
	// Write stores one segment. rec is not retained after Write returns unless
	// the implementation retains it explicitly. A nil error means the segment is
	// durable.
	Write(ctx context.Context, rec arrow.Record, worker hits.WorkerID, index int) error
	// Finalize consolidates every written segment, ordered by worker completion.
	Finalize(ctx context.Context, order []hits.WorkerID) (*ConsolidatedOutput, error)
}

// SegmentInfo describes one written segment.
type SegmentInfo struct {
	Worker hits.WorkerID `json:"worker"`
	Index  int           `json:"index"`
	Rows   int64         `json:"rows"`
	Path   string        `json:"path,omitempty"`
	Bytes  int64         `json:"bytes,omitempty"`
}

// ConsolidatedOutput is the single logical artifact of a simulation.
type ConsolidatedOutput struct {
	Collection  string           `json:"collection"`
	Destination string           `json:"destination"`
	Format      string           `json:"format"`
	Rows        int64            `json:"rows"`
	Order       []hits.WorkerID  `json:"order"`
	Segments    []SegmentInfo    `json:"segments"`
	Schema      []hits.Attribute `json:"schema"`
	CreatedAt   time.Time        `json:"created_at"`

	// Records holds the merged rows for in-memory sinks; nil otherwise.
	Records []arrow.Record `json:"-"`
}

// Release frees in-memory records held by the output.
func (o *ConsolidatedOutput) Release() {
	for _, r := range o.Records {
		r.Release()
	}
	o.Records = nil
}

// Output formats reported in ConsolidatedOutput.Format besides the columnar ones.
const (
	FormatMemory   = "memory"
	FormatManifest = "manifest"
)

// Destination is a parsed output_destination.
type Destination struct {
	Scheme string // file, s3 or gs
	Bucket string
	Key    string
	Path   string // local path for file destinations
}

func (d Destination) String() string {
	if d.Scheme == "file" {
		return d.Path
	}
	return d.Scheme + "://" + d.Bucket + "/" + d.Key
}

// Remote reports whether the destination is an object store.
func (d Destination) Remote() bool { return d.Scheme == "s3" || d.Scheme == "gs" }

// ParseDestination accepts a local path, file:// URL, s3://bucket/key or gs://bucket/object.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{}, configError("output_destination is empty")
	}
	if !strings.Contains(raw, "://") {
		return Destination{Scheme: "file", Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid output_destination").
			WithStage(errors.StageConfiguration)
	}
	switch u.Scheme {
	case "file":
		return Destination{Scheme: "file", Path: u.Path}, nil
	case "s3", "gs":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
			return Destination{}, configError(fmt.Sprintf("%s destination needs a bucket and an object key: %s", u.Scheme, raw))
		}
		return Destination{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
	default:
		return Destination{}, configError(fmt.Sprintf("unsupported destination scheme %q", u.Scheme))
	}
}

// New builds the sink described by cfg: a FileSink for local destinations, an
// ObjectStoreSink for s3:// and gs://.
func New(cfg *config.Config, schema *hits.Schema, log *zap.Logger) (Sink, error) {
	dest, err := ParseDestination(cfg.OutputDestination)
	if err != nil {
		return nil, err
	}

	opts := FileOptions{
		Collection:         cfg.HitsCollectionName,
		SpillDir:           cfg.Output.SpillDir,
		Format:             columnar.Format(cfg.Output.Format),
		Manifest:           cfg.Output.MergeMode == config.MergeManifest,
		KeepSegments:       cfg.Output.KeepSegments,
		SegmentCompression: cfg.Output.SegmentCompression,
		ParquetCompression: cfg.Output.ParquetCompression,
		Logger:             log,
	}

	if !dest.Remote() {
		opts.Destination = dest.Path
		return NewFileSink(schema, opts), nil
	}

	var up Uploader
	switch dest.Scheme {
	case "s3":
		up = NewS3Uploader(cfg.Output.Region, cfg.Output.UploadPartSize, cfg.Output.UploadConcurrency)
	case "gs":
		up = NewGCSUploader(cfg.Output.CredentialsFile)
	}
	return NewObjectStoreSink(schema, dest, opts, up), nil
}

func configError(msg string) *errors.Error {
	return errors.New(errors.ErrorTypeConfig, msg).WithStage(errors.StageConfiguration)
}

func sinkError(err error, stage errors.Stage, msg string) *errors.Error {
	return errors.Wrap(err, errors.ErrorTypeSink, msg).WithStage(stage)
}
