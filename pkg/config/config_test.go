package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gatehits/pkg/compression"
	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/hits"
)

func validConfig() *Config {
	cfg := Default()
	cfg.OutputDestination = "out/hits.arrow"
	cfg.HitAttributeNames = []string{"TotalEnergyDeposit", "PostPosition"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no destination", func(c *Config) { c.OutputDestination = "" }},
		{"no attributes", func(c *Config) { c.HitAttributeNames = nil }},
		{"unknown attribute", func(c *Config) { c.HitAttributeNames = []string{"Spin"} }},
		{"negative threshold", func(c *Config) { c.ClearEveryNEvents = -1 }},
		{"bad format", func(c *Config) { c.Output.Format = "root" }},
		{"bad merge mode", func(c *Config) { c.Output.MergeMode = "zip" }},
		{"bad compression", func(c *Config) { c.Output.SegmentCompression.Algorithm = "brotli" }},
		{"bad custom type", func(c *Config) {
			c.CustomAttributes = []CustomAttribute{{Name: "x", Type: "tensor"}}
		}},
		{"empty collection", func(c *Config) { c.HitsCollectionName = "" }},
	}

	require.NoError(t, validConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}

func TestSchemaWithCustomAttributes(t *testing.T) {
	cfg := validConfig()
	cfg.HitAttributeNames = []string{"energy", "position", "TrackID"}
	cfg.CustomAttributes = []CustomAttribute{
		{Name: "energy", Type: "number"},
		{Name: "position", Type: "vector3"},
	}

	s, err := cfg.Schema()
	require.NoError(t, err)
	assert.Equal(t, []hits.Attribute{
		{Name: "energy", Type: hits.TypeNumber},
		{Name: "position", Type: hits.TypeVector3},
		{Name: "TrackID", Type: hits.TypeInteger},
	}, s.Attributes())
}

func TestSchemaRejectsUnnamedCustomAttribute(t *testing.T) {
	cfg := validConfig()
	cfg.CustomAttributes = []CustomAttribute{{Type: "number"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "no name")

	cfg.CustomAttributes = []CustomAttribute{{Name: "Detector", Type: "matrix"}}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Detector"`)
}

func TestLoadCustomAttributesMapForm(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "gatehits.yaml",
			content: `
output_destination: out/hits.arrow
hit_attribute_names: [EdepKeV, Pos, TrackID]
custom_attributes:
  Pos: vector3
  EdepKeV: number
`,
		},
		{
			name: "json",
			file: "gatehits.json",
			content: `{
  "output_destination": "out/hits.arrow",
  "hit_attribute_names": ["EdepKeV", "Pos", "TrackID"],
  "custom_attributes": {"Pos": "vector3", "EdepKeV": "number"}
}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, []CustomAttribute{
				{Name: "Pos", Type: "vector3"},
				{Name: "EdepKeV", Type: "number"},
			}, cfg.CustomAttributes)

			s, err := cfg.Schema()
			require.NoError(t, err)
			assert.Equal(t, []hits.Attribute{
				{Name: "EdepKeV", Type: hits.TypeNumber},
				{Name: "Pos", Type: hits.TypeVector3},
				{Name: "TrackID", Type: hits.TypeInteger},
			}, s.Attributes())
		})
	}
}

func TestLoadCustomAttributesMapFormTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatehits.toml")
	content := `
output_destination = "out/hits.arrow"
hit_attribute_names = ["energy"]

[custom_attributes]
energy = "number"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom_attributes must be a list")
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehits.yaml")
	content := `
hits_collection_name: Detector
output_destination: ${GATEHITS_TEST_OUT}/hits.parquet
hit_attribute_names:
  - TotalEnergyDeposit
  - PostPosition
  - Detector
custom_attributes:
  - name: Detector
    type: S
clear_every_n_events: 10
output:
  format: parquet
  segment_compression:
    algorithm: zstd
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("GATEHITS_TEST_OUT", dir)
	t.Setenv("GATEHITS_CLEAR_EVERY_N_EVENTS", "25")
	t.Setenv("GATEHITS_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Detector", cfg.HitsCollectionName)
	assert.Equal(t, filepath.Join(dir, "hits.parquet"), cfg.OutputDestination)
	assert.Equal(t, []string{"TotalEnergyDeposit", "PostPosition", "Detector"}, cfg.HitAttributeNames)
	assert.Equal(t, 25, cfg.ClearEveryNEvents)
	assert.True(t, cfg.Debug)
	assert.Equal(t, FormatParquet, cfg.Output.Format)
	assert.Equal(t, MergeConcat, cfg.Output.MergeMode)
	assert.Equal(t, compression.Zstd, cfg.Output.SegmentCompression.Algorithm)
	require.Len(t, cfg.CustomAttributes, 1)
	assert.Equal(t, "Detector", cfg.CustomAttributes[0].Name)
	require.NoError(t, cfg.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := validConfig()
	cfg.ClearEveryNEvents = 7
	cfg.Output.MergeMode = MergeManifest

	require.NoError(t, Save(path, cfg))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.OutputDestination, back.OutputDestination)
	assert.Equal(t, cfg.HitAttributeNames, back.HitAttributeNames)
	assert.Equal(t, 7, back.ClearEveryNEvents)
	assert.Equal(t, MergeManifest, back.Output.MergeMode)
	assert.Equal(t, cfg.Tracing.BatchTimeout, back.Tracing.BatchTimeout)
}
