package config

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/gatehits/pkg/compression"
	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/logger"
	"github.com/ajitpratap0/gatehits/pkg/observability"
)

// Output formats for the consolidated artifact.
const (
	FormatArrow   = "arrow"
	FormatParquet = "parquet"
)

// Merge modes.
const (
	// MergeConcat re-reads every segment and writes one consolidated table
	MergeConcat = "concat"
	// MergeManifest writes a manifest referencing the per-worker segment files
	MergeManifest = "manifest"
)

// Config is the complete collector configuration.
type Config struct {
	// HitsCollectionName names the collection in output metadata, logs and metrics
	HitsCollectionName string `yaml:"hits_collection_name" json:"hits_collection_name" mapstructure:"hits_collection_name"`
	// OutputDestination is where the consolidated output is written
	OutputDestination string `yaml:"output_destination" json:"output_destination" mapstructure:"output_destination"`
	// HitAttributeNames is the ordered column list
	HitAttributeNames []string `yaml:"hit_attribute_names" json:"hit_attribute_names" mapstructure:"hit_attribute_names"`
	// CustomAttributes declares attributes that are not in the built-in catalogue
	CustomAttributes []CustomAttribute `yaml:"custom_attributes,omitempty" json:"custom_attributes,omitempty" mapstructure:"custom_attributes"`
	// ClearEveryNEvents flushes a worker buffer every N completed events; 0 never auto-clears
	ClearEveryNEvents int `yaml:"clear_every_n_events" json:"clear_every_n_events" mapstructure:"clear_every_n_events"`
	// Debug traces every append, flush and clear
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`

	Output  OutputConfig                `yaml:"output" json:"output" mapstructure:"output"`
	Logging logger.Config               `yaml:"logging" json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig               `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing observability.TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// CustomAttribute declares a hit attribute and its column type.
type CustomAttribute struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	Type string `yaml:"type" json:"type" mapstructure:"type"`
}

// OutputConfig controls how segments and the consolidated artifact are stored.
type OutputConfig struct {
	// Format of the consolidated artifact: arrow or parquet
	Format string `yaml:"format" json:"format" mapstructure:"format"`
	// MergeMode is concat or manifest
	MergeMode string `yaml:"merge_mode" json:"merge_mode" mapstructure:"merge_mode"`
	// SpillDir is the root for per-run segment directories; defaults to <destination>.segments
	SpillDir string `yaml:"spill_dir" json:"spill_dir" mapstructure:"spill_dir"`
	// KeepSegments leaves segment files in place after a concat merge
	KeepSegments bool `yaml:"keep_segments" json:"keep_segments" mapstructure:"keep_segments"`
	// SegmentCompression wraps spill segment files
	SegmentCompression compression.Config `yaml:"segment_compression" json:"segment_compression" mapstructure:"segment_compression"`
	// ParquetCompression is the parquet column codec (snappy, zstd, gzip, lz4, none)
	ParquetCompression string `yaml:"parquet_compression" json:"parquet_compression" mapstructure:"parquet_compression"`
	// Region is used for s3:// destinations
	Region string `yaml:"region" json:"region" mapstructure:"region"`
	// UploadPartSize and UploadConcurrency tune the s3 multipart uploader
	UploadPartSize    int64 `yaml:"upload_part_size" json:"upload_part_size" mapstructure:"upload_part_size"`
	UploadConcurrency int   `yaml:"upload_concurrency" json:"upload_concurrency" mapstructure:"upload_concurrency"`
	// CredentialsFile is a service account key for gs:// destinations; empty uses ambient credentials
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty" mapstructure:"credentials_file"`
}

// MetricsConfig controls the Prometheus endpoint exposed by the CLI.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" mapstructure:"listen_address"`
}

// Default returns a configuration with every optional field set. Output
// destination and attribute names still need to be provided.
func Default() *Config {
	return &Config{
		HitsCollectionName: "Hits",
		ClearEveryNEvents:  0,
		Output: OutputConfig{
			Format:             FormatArrow,
			MergeMode:          MergeConcat,
			SegmentCompression: *compression.DefaultConfig(),
			ParquetCompression: "snappy",
			Region:             "us-east-1",
			UploadPartSize:     5 * 1024 * 1024,
			UploadConcurrency:  4,
		},
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Validate checks the configuration without touching storage. Every failure is
// a ConfigurationError.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HitsCollectionName) == "" {
		return configError("hits_collection_name is required")
	}
	if strings.TrimSpace(c.OutputDestination) == "" {
		return configError("output_destination is required")
	}
	if c.ClearEveryNEvents < 0 {
		return configError("clear_every_n_events cannot be negative").
			WithDetail("value", c.ClearEveryNEvents)
	}
	switch c.Output.Format {
	case FormatArrow, FormatParquet:
	default:
		return configError(fmt.Sprintf("unsupported output format %q", c.Output.Format))
	}
	switch c.Output.MergeMode {
	case MergeConcat, MergeManifest:
	default:
		return configError(fmt.Sprintf("unsupported merge mode %q", c.Output.MergeMode))
	}
	if _, err := compression.Parse(string(c.Output.SegmentCompression.Algorithm)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid segment compression").
			WithStage(errors.StageConfiguration)
	}
	if _, err := c.Schema(); err != nil {
		return err
	}
	return nil
}

// Schema resolves the configured attribute names into a hit schema.
func (c *Config) Schema() (*hits.Schema, error) {
	custom := make(map[string]hits.AttributeType, len(c.CustomAttributes))
	for i, ca := range c.CustomAttributes {
		if strings.TrimSpace(ca.Name) == "" {
			return nil, configError("custom attribute has no name; expected {name, type} entries").
				WithDetail("index", i)
		}
		t, err := hits.ParseAttributeType(ca.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid type for custom attribute %q", ca.Name)).
				WithStage(errors.StageConfiguration).
				WithDetail("attribute", ca.Name)
		}
		custom[ca.Name] = t
	}
	return hits.ResolveSchema(c.HitAttributeNames, custom)
}

func configError(msg string) *errors.Error {
	return errors.New(errors.ErrorTypeConfig, msg).WithStage(errors.StageConfiguration)
}
