package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/geocoder"
	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
log:
  level: error
  format: json
paths:
  gazetteer_dir: %[1]s/gazetteer
  processed: %[1]s/processed
  blocklist: %[1]s/blocklist.yaml
state:
  path: %[1]s/state.db
`, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStateCommands(t *testing.T) {
	dir := writeConfig(t)

	out, err := execute(t, "--config", dir, "state", "stats")
	require.NoError(t, err)
	var stats models.StateStatistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.TotalCompleted)

	out, err = execute(t, "--config", dir, "state", "clear-failed")
	require.NoError(t, err)
	assert.Equal(t, "cleared 0 failed resources\n", out)

	out, err = execute(t, "--config", dir, "state", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "0 failed")

	_, err = execute(t, "--config", dir, "state", "reset")
	assert.ErrorIs(t, err, errAborted)

	out, err = execute(t, "--config", dir, "state", "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "state reset\n", out)
}

func TestExtractCommand(t *testing.T) {
	dir := writeConfig(t)
	require.NoError(t, gazetteer.Write(filepath.Join(dir, "gazetteer", gazetteer.StreetsFile), []models.GazetteerEntry{
		{Name: "Maximilianstraße", Kind: models.KindStreet, Coordinates: &models.Point{Lat: 48.3656, Lon: 10.8946}},
	}))
	text := filepath.Join(dir, "paper.txt")
	require.NoError(t, os.WriteFile(text, []byte("Sanierung der Maximilianstraße und Bebauungsplan Nr. 45/2"), 0o644))

	out, err := execute(t, "--config", dir, "extract", text)
	require.NoError(t, err)
	assert.Contains(t, out, "Maximilianstraße")
	assert.Contains(t, out, "zoning_plan")
	assert.Contains(t, out, "45/2")

	_, err = execute(t, "--config", dir, "extract")
	assert.Error(t, err)
}

type fixedLookup struct{}

func (fixedLookup) Search(ctx context.Context, query string) (*geocoder.Place, error) {
	return &geocoder.Place{Latitude: 48.3668, Longitude: 10.8986, DisplayName: query}, nil
}

func TestCloseGeocoderLogsFlushError(t *testing.T) {
	// Other commands lower the global level through the config.
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	// The cache directory cannot be created below a regular file.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	cfg := geocoder.DefaultConfig()
	cfg.RateLimit = 0
	cfg.CacheFile = filepath.Join(blocker, "geocode_cache.json")
	geo, err := geocoder.New(cfg, fixedLookup{}, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, geo.Geocode(context.Background(), "Maximilianstraße", models.KindStreet).OK())

	var logs bytes.Buffer
	a := &app{logger: zerolog.New(&logs)}
	a.closeGeocoder(geo)

	assert.Contains(t, logs.String(), "failed to flush geocode cache")
	assert.Contains(t, logs.String(), `"level":"warn"`)
}
