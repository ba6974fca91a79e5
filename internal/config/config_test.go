package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "augsburg", cfg.City)
	assert.Equal(t, "Deutschland", cfg.Country)
	assert.True(t, cfg.State.AutoCommit)
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
	assert.Equal(t, 50, cfg.Extraction.MaxCandidates)
	assert.Equal(t, 0.6, cfg.Extraction.PrefixRatio)
	assert.False(t, cfg.Extraction.EnableDistricts)
	assert.Equal(t, time.Second, cfg.Geocoding.RateLimit)
	assert.Equal(t, time.Duration(0), cfg.Geocoding.NegativeTTL)
	assert.Equal(t, []string{"parquet", "rdf", "geojson"}, cfg.Sinks.Formats)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
city: muenchen
state:
  auto_commit: false
geocoding:
  rate_limit: 2s
  negative_ttl: 24h
sinks:
  formats: [parquet, xlsx]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("OPARLGEO_PIPELINE_BATCH_SIZE", "5")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "muenchen", cfg.City)
	assert.False(t, cfg.State.AutoCommit)
	assert.Equal(t, 2*time.Second, cfg.Geocoding.RateLimit)
	assert.Equal(t, 24*time.Hour, cfg.Geocoding.NegativeTTL)
	assert.Equal(t, []string{"parquet", "xlsx"}, cfg.Sinks.Formats)
	assert.Equal(t, 5, cfg.Pipeline.BatchSize)
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			City:     "augsburg",
			State:    StateConfig{Path: "state.db"},
			Pipeline: PipelineConfig{BatchSize: 50},
			Sinks:    SinksConfig{Formats: []string{"parquet"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "empty city", mutate: func(c *Config) { c.City = " " }},
		{name: "no state path", mutate: func(c *Config) { c.State.Path = "" }},
		{name: "zero batch size", mutate: func(c *Config) { c.Pipeline.BatchSize = 0 }},
		{name: "unknown sink", mutate: func(c *Config) { c.Sinks.Formats = []string{"csv"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
