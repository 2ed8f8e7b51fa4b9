package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gatehits/internal/simhost"
	"github.com/ajitpratap0/gatehits/pkg/config"
	"github.com/ajitpratap0/gatehits/pkg/sink"
	"github.com/ajitpratap0/gatehits/pkg/testutil"
)

func TestRunAndVerify(t *testing.T) {
	for _, tt := range []struct {
		name   string
		file   string
		format string
		merge  string
	}{
		{"arrow", "hits.arrow", config.FormatArrow, config.MergeConcat},
		{"parquet", "hits.parquet", config.FormatParquet, config.MergeConcat},
		{"manifest", "hits.json", config.FormatArrow, config.MergeManifest},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "gatehits.yaml")
			cfg := config.Default()
			cfg.OutputDestination = filepath.Join(t.TempDir(), tt.file)
			cfg.HitAttributeNames = []string{"TotalEnergyDeposit", "PostPosition", "TrackID", "ParticleName"}
			cfg.ClearEveryNEvents = 5
			cfg.Output.Format = tt.format
			cfg.Output.MergeMode = tt.merge
			cfg.Logging.Level = "error"
			cfg.Logging.OutputPaths = []string{"stderr"}
			require.NoError(t, config.Save(cfgPath, cfg))

			loaded, err := loadConfig(cfgPath)
			require.NoError(t, err)

			host := simhost.Config{Workers: 3, Runs: 1, EventsPerRun: 20, MaxHits: 3, Seed: 5, OrderedCompletion: true}
			require.NoError(t, runSimulation(testutil.TestContext(t), loaded, host))

			res, err := verifyOutput(context.Background(), cfg.OutputDestination, 4)
			require.NoError(t, err)
			assert.Equal(t, cfg.HitAttributeNames, res.Schema.Names())
			assert.Greater(t, res.Rows, int64(4))
			require.Len(t, res.Head, 4)

			var out bytes.Buffer
			printRows(&out, res.Schema.Names(), res.Head)
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, 5)
			assert.Equal(t, "TotalEnergyDeposit\tPostPosition\tTrackID\tParticleName", lines[0])
			assert.Len(t, strings.Split(lines[1], "\t"), 4)
			if tt.merge == config.MergeManifest {
				assert.Equal(t, sink.FormatManifest, res.Format)
				assert.Equal(t, res.Expected, res.Rows)
			} else {
				assert.Equal(t, tt.format, res.Format)
				assert.Len(t, testutil.Rows(testutil.ReadFile(t, cfg.OutputDestination)), int(res.Rows))
			}
		})
	}
}
