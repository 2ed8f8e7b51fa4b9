package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "GATEHITS"

// Load reads a YAML (or JSON/TOML, by extension) configuration file on top of
// Default and applies GATEHITS_* environment overrides.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()
	ext := strings.TrimPrefix(filepath.Ext(filePath), ".")
	if ext == "" || ext == "yml" {
		ext = "yaml"
	}
	data = []byte(os.ExpandEnv(string(data)))
	if ext == "yaml" || ext == "json" {
		rewritten, ok, err := customAttributesAsList(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if ok {
			data, ext = rewritten, "yaml"
		}
	}
	v.SetConfigType(ext)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return decode(v)
}

// FromEnv builds a configuration from defaults and environment variables only.
func FromEnv() (*Config, error) {
	return decode(newViper())
}

// Save writes cfg to a YAML file.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.DecodeHookFuncType(rejectCustomAttributeMap),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// AutomaticEnv yields a single string for list keys
	if names := cfg.HitAttributeNames; len(names) == 1 && strings.Contains(names[0], ",") {
		cfg.HitAttributeNames = splitList(names[0])
	}
	return cfg, nil
}

// customAttributesAsList rewrites the {name: type} map form of
// custom_attributes into the list form before viper sees the document. Viper
// lowercases map keys, and attribute names are case sensitive.
func customAttributesAsList(data []byte) ([]byte, bool, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return data, false, nil
	}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "custom_attributes" || root.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		decl := root.Content[i+1]
		list := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for j := 0; j+1 < len(decl.Content); j += 2 {
			list.Content = append(list.Content, &yaml.Node{
				Kind: yaml.MappingNode,
				Tag:  "!!map",
				Content: []*yaml.Node{
					strNode("name"), strNode(decl.Content[j].Value),
					strNode("type"), strNode(decl.Content[j+1].Value),
				},
			})
		}
		root.Content[i+1] = list
		out, err := yaml.Marshal(&doc)
		return out, err == nil, err
	}
	return data, false, nil
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

var customAttributesType = reflect.TypeOf([]CustomAttribute(nil))

// rejectCustomAttributeMap stops mapstructure from weakly decoding a map that
// reached custom_attributes (TOML, environment) into one empty entry.
func rejectCustomAttributeMap(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to == customAttributesType && from.Kind() == reflect.Map {
		return nil, fmt.Errorf("custom_attributes must be a list of {name, type} entries or, in YAML and JSON, a {name: type} map")
	}
	return data, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("hits_collection_name", d.HitsCollectionName)
	v.SetDefault("output_destination", d.OutputDestination)
	v.SetDefault("hit_attribute_names", d.HitAttributeNames)
	v.SetDefault("clear_every_n_events", d.ClearEveryNEvents)
	v.SetDefault("debug", d.Debug)

	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.merge_mode", d.Output.MergeMode)
	v.SetDefault("output.spill_dir", d.Output.SpillDir)
	v.SetDefault("output.keep_segments", d.Output.KeepSegments)
	v.SetDefault("output.segment_compression.algorithm", string(d.Output.SegmentCompression.Algorithm))
	v.SetDefault("output.segment_compression.level", int(d.Output.SegmentCompression.Level))
	v.SetDefault("output.parquet_compression", d.Output.ParquetCompression)
	v.SetDefault("output.region", d.Output.Region)
	v.SetDefault("output.upload_part_size", d.Output.UploadPartSize)
	v.SetDefault("output.upload_concurrency", d.Output.UploadConcurrency)
	v.SetDefault("output.credentials_file", d.Output.CredentialsFile)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_address", d.Metrics.ListenAddress)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.output_path", d.Tracing.OutputPath)
	v.SetDefault("tracing.batch_timeout", d.Tracing.BatchTimeout)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
