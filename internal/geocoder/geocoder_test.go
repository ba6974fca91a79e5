package geocoder

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLookup is a mock implementation of the Lookup interface
type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) Search(ctx context.Context, query string) (*Place, error) {
	args := m.Called(ctx, query)
	p, _ := args.Get(0).(*Place)
	return p, args.Error(1)
}

const (
	maxQuery  = "Maximilianstraße, Augsburg, Deutschland"
	cityQuery = "Augsburg, Deutschland"
)

var (
	maxPlace  = &Place{Latitude: 48.3668, Longitude: 10.8986, DisplayName: "Maximilianstraße, Augsburg", Type: "residential", Importance: 0.4}
	cityPlace = &Place{Latitude: 48.3705, Longitude: 10.8978, DisplayName: "Augsburg, Bayern", Type: "city", Importance: 0.8}
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit = 0
	return cfg
}

func newGeocoder(t *testing.T, cfg Config, lookup Lookup) *Geocoder {
	t.Helper()
	g, err := New(cfg, lookup, zerolog.Nop())
	require.NoError(t, err)
	return g
}

func TestGeocoder_Geocode(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		kind       models.Kind
		setup      func(m *MockLookup)
		wantStatus Status
		wantResult *models.GeocodeResult
		wantErr    bool
	}{
		{
			name:       "zoning plan is never looked up",
			text:       "45/2",
			kind:       models.KindZoningPlan,
			setup:      func(m *MockLookup) {},
			wantStatus: StatusSkipped,
		},
		{
			name:       "parcel is never looked up",
			text:       "123/4",
			kind:       models.KindParcel,
			setup:      func(m *MockLookup) {},
			wantStatus: StatusSkipped,
		},
		{
			name: "primary query resolves",
			text: "Maximilianstraße",
			kind: models.KindStreet,
			setup: func(m *MockLookup) {
				m.On("Search", mock.Anything, maxQuery).Return(maxPlace, nil).Once()
			},
			wantStatus: StatusResolved,
			wantResult: &models.GeocodeResult{
				Query:       maxQuery,
				Latitude:    48.3668,
				Longitude:   10.8986,
				DisplayName: "Maximilianstraße, Augsburg",
				RawType:     "residential",
				Importance:  0.4,
				Precision:   models.PrecisionExact,
			},
		},
		{
			name: "falls back to the city",
			text: "Maximilianstraße",
			kind: models.KindAddress,
			setup: func(m *MockLookup) {
				m.On("Search", mock.Anything, maxQuery).Return(nil, nil).Once()
				m.On("Search", mock.Anything, cityQuery).Return(cityPlace, nil).Once()
			},
			wantStatus: StatusResolved,
			wantResult: &models.GeocodeResult{
				Query:       cityQuery,
				Latitude:    48.3705,
				Longitude:   10.8978,
				DisplayName: "Augsburg, Bayern",
				RawType:     "city",
				Importance:  0.8,
				Precision:   models.PrecisionCity,
			},
		},
		{
			name: "transient error moves on to the next query",
			text: "Maximilianstraße",
			kind: models.KindStreet,
			setup: func(m *MockLookup) {
				m.On("Search", mock.Anything, maxQuery).Return(nil, fmt.Errorf("%w: timeout", ErrTransient)).Once()
				m.On("Search", mock.Anything, cityQuery).Return(cityPlace, nil).Once()
			},
			wantStatus: StatusResolved,
			wantResult: &models.GeocodeResult{
				Query:       cityQuery,
				Latitude:    48.3705,
				Longitude:   10.8978,
				DisplayName: "Augsburg, Bayern",
				RawType:     "city",
				Importance:  0.8,
				Precision:   models.PrecisionCity,
			},
		},
		{
			name: "all queries fail",
			text: "Maximilianstraße",
			kind: models.KindStreet,
			setup: func(m *MockLookup) {
				m.On("Search", mock.Anything, maxQuery).Return(nil, fmt.Errorf("%w: 503", ErrTransient)).Once()
				m.On("Search", mock.Anything, cityQuery).Return(nil, fmt.Errorf("%w: 503", ErrTransient)).Once()
			},
			wantStatus: StatusNotFound,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockLookup)
			tt.setup(m)
			g := newGeocoder(t, testConfig(), m)

			out := g.Geocode(context.Background(), tt.text, tt.kind)

			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantResult, out.Result)
			if tt.wantErr {
				assert.ErrorIs(t, out.Err, ErrTransient)
			} else {
				assert.NoError(t, out.Err)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestGeocoder_IdentifiersNeverTouchCache(t *testing.T) {
	m := new(MockLookup)
	g := newGeocoder(t, testConfig(), m)

	for _, kind := range []models.Kind{models.KindZoningPlan, models.KindParcel} {
		out := g.Geocode(context.Background(), "45/2", kind)
		assert.False(t, out.OK())
	}
	assert.Equal(t, 0, g.cache.Len())
	m.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestGeocoder_CacheRoundTrip(t *testing.T) {
	m := new(MockLookup)
	m.On("Search", mock.Anything, maxQuery).Return(maxPlace, nil).Once()
	g := newGeocoder(t, testConfig(), m)

	first := g.Geocode(context.Background(), "Maximilianstraße", models.KindStreet)
	second := g.Geocode(context.Background(), "  maximilianSTRAßE ", models.KindStreet)

	assert.Equal(t, StatusResolved, first.Status)
	assert.Equal(t, StatusCached, second.Status)
	assert.Equal(t, first.Result, second.Result)
	m.AssertNumberOfCalls(t, "Search", 1)

	stats := g.Stats()
	assert.Equal(t, 1, stats.Lookups)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, stats.Resolved)
}

func TestGeocoder_FailuresAreNotCachedByDefault(t *testing.T) {
	m := new(MockLookup)
	m.On("Search", mock.Anything, mock.Anything).Return(nil, nil)
	g := newGeocoder(t, testConfig(), m)

	for i := 0; i < 2; i++ {
		out := g.Geocode(context.Background(), "Nirgendwostraße", models.KindStreet)
		assert.Equal(t, StatusNotFound, out.Status)
		assert.NoError(t, out.Err)
	}
	m.AssertNumberOfCalls(t, "Search", 4)
	assert.Equal(t, 0, g.cache.Len())
}

func TestGeocoder_NegativeTTL(t *testing.T) {
	m := new(MockLookup)
	m.On("Search", mock.Anything, mock.Anything).Return(nil, nil)

	cfg := testConfig()
	cfg.NegativeTTL = time.Hour
	g := newGeocoder(t, cfg, m)

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }

	assert.Equal(t, StatusNotFound, g.Geocode(context.Background(), "Nirgendwostraße", models.KindStreet).Status)
	m.AssertNumberOfCalls(t, "Search", 2)

	clock = clock.Add(30 * time.Minute)
	assert.Equal(t, StatusNotFound, g.Geocode(context.Background(), "Nirgendwostraße", models.KindStreet).Status)
	m.AssertNumberOfCalls(t, "Search", 2)

	clock = clock.Add(time.Hour)
	assert.Equal(t, StatusNotFound, g.Geocode(context.Background(), "Nirgendwostraße", models.KindStreet).Status)
	m.AssertNumberOfCalls(t, "Search", 4)
}

func TestGeocoder_NegativeTTLIgnoresProviderErrors(t *testing.T) {
	m := new(MockLookup)
	m.On("Search", mock.Anything, mock.Anything).Return(nil, ErrTransient)

	cfg := testConfig()
	cfg.NegativeTTL = time.Hour
	g := newGeocoder(t, cfg, m)

	g.Geocode(context.Background(), "Nirgendwostraße", models.KindStreet)
	g.Geocode(context.Background(), "Nirgendwostraße", models.KindStreet)

	m.AssertNumberOfCalls(t, "Search", 4)
	assert.Equal(t, 2, g.Stats().NotFound)
}

func TestGeocoder_CachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "geocode_cache.json")
	cfg := testConfig()
	cfg.CacheFile = path

	m := new(MockLookup)
	m.On("Search", mock.Anything, maxQuery).Return(maxPlace, nil).Once()
	g := newGeocoder(t, cfg, m)
	require.True(t, g.Geocode(context.Background(), "Maximilianstraße", models.KindStreet).OK())
	require.NoError(t, g.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))

	sum := md5.Sum([]byte("maximilianstraße"))
	entry, ok := onDisk[hex.EncodeToString(sum[:])]
	require.True(t, ok)
	assert.Equal(t, maxQuery, entry["query"])
	assert.Equal(t, 48.3668, entry["latitude"])
	assert.Equal(t, "residential", entry["raw_type"])

	fresh := new(MockLookup)
	g2 := newGeocoder(t, cfg, fresh)
	out := g2.Geocode(context.Background(), "Maximilianstraße", models.KindStreet)
	assert.Equal(t, StatusCached, out.Status)
	fresh.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestGeocoder_PeriodicFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocode_cache.json")
	cfg := testConfig()
	cfg.CacheFile = path
	cfg.FlushInterval = 2

	// Record whether the cache file exists at each lookup.
	var onDisk []bool
	m := new(MockLookup)
	m.On("Search", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			_, err := os.Stat(path)
			onDisk = append(onDisk, err == nil)
		}).
		Return(maxPlace, nil)
	g := newGeocoder(t, cfg, m)

	_, summary := g.GeocodeBatch(context.Background(), []models.LocationCandidate{
		{Kind: models.KindStreet, Text: "Erste Straße", Method: models.MethodRegex},
		{Kind: models.KindStreet, Text: "Zweite Straße", Method: models.MethodRegex},
		{Kind: models.KindStreet, Text: "Dritte Straße", Method: models.MethodRegex},
	})
	assert.Equal(t, 3, summary.GeocodedCount)
	assert.Equal(t, []bool{false, false, true}, onDisk)

	var entries map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Len(t, entries, 3)
}

func TestGeocoder_GeocodeDefersFlushToClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocode_cache.json")
	cfg := testConfig()
	cfg.CacheFile = path
	cfg.FlushInterval = 1

	m := new(MockLookup)
	m.On("Search", mock.Anything, mock.Anything).Return(maxPlace, nil)
	g := newGeocoder(t, cfg, m)

	g.Geocode(context.Background(), "Erste Straße", models.KindStreet)
	g.Geocode(context.Background(), "Zweite Straße", models.KindStreet)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, g.Close())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestGeocoder_CorruptCacheStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocode_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	cfg := testConfig()
	cfg.CacheFile = path

	g := newGeocoder(t, cfg, new(MockLookup))
	assert.Equal(t, 0, g.cache.Len())
}

func TestGeocoder_RateLimit(t *testing.T) {
	const interval = 50 * time.Millisecond

	var (
		mu    sync.Mutex
		calls []time.Time
	)
	m := new(MockLookup)
	m.On("Search", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			calls = append(calls, time.Now())
			mu.Unlock()
		}).
		Return(maxPlace, nil)

	cfg := testConfig()
	cfg.RateLimit = interval
	g := newGeocoder(t, cfg, m)

	for _, text := range []string{"Astraße", "Bstraße", "Cstraße", "Astraße"} {
		g.Geocode(context.Background(), text, models.KindStreet)
	}

	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), interval-5*time.Millisecond)
	}
}

func TestGeocoder_GeocodeBatch(t *testing.T) {
	m := new(MockLookup)
	m.On("Search", mock.Anything, maxQuery).Return(maxPlace, nil).Once()
	m.On("Search", mock.Anything, "Nirgendwostraße, Augsburg, Deutschland").Return(nil, nil).Once()
	m.On("Search", mock.Anything, cityQuery).Return(nil, nil).Once()
	g := newGeocoder(t, testConfig(), m)

	candidates := []models.LocationCandidate{
		{Kind: models.KindStreet, Text: "Königsplatz", Method: models.MethodGazetteer, Coordinates: &models.Point{Lat: 48.3656, Lon: 10.8917}},
		{Kind: models.KindStreet, Text: "Maximilianstraße", Method: models.MethodRegex},
		{Kind: models.KindZoningPlan, Text: "45/2", Method: models.MethodRegex},
		{Kind: models.KindStreet, Text: "Nirgendwostraße", Method: models.MethodNER},
	}

	got, summary := g.GeocodeBatch(context.Background(), candidates)

	assert.Equal(t, BatchSummary{GazetteerCount: 1, GeocodedCount: 1, Total: 4}, summary)
	require.Len(t, got, 4)

	assert.Equal(t, models.SourceGazetteer, got[0].Source)
	require.True(t, got[0].Geocoded())
	assert.Equal(t, 48.3656, *got[0].Latitude)

	assert.Equal(t, models.SourceGeocoder, got[1].Source)
	assert.Equal(t, maxQuery, got[1].MatchedQuery)
	assert.Equal(t, models.PrecisionExact, got[1].Precision)

	assert.False(t, got[2].Geocoded())
	assert.Equal(t, "45/2", got[2].Text)
	assert.False(t, got[3].Geocoded())
	assert.Empty(t, got[3].Source)

	m.AssertExpectations(t)
}

func TestGeocoder_GeocodeBatchGazetteerSkip(t *testing.T) {
	m := new(MockLookup)
	g := newGeocoder(t, testConfig(), m)

	got, summary := g.GeocodeBatch(context.Background(), []models.LocationCandidate{
		{Kind: models.KindStreet, Text: "Königsplatz", Method: models.MethodGazetteer, Coordinates: &models.Point{Lat: 48.3656, Lon: 10.8917}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, 1, summary.GazetteerCount)
	assert.Equal(t, 0, summary.GeocodedCount)
	m.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestCacheKey(t *testing.T) {
	sum := md5.Sum([]byte("königsplatz"))
	assert.Equal(t, hex.EncodeToString(sum[:]), CacheKey("Königsplatz"))
	assert.Equal(t, CacheKey("Königsplatz"), CacheKey("KÖNIGSPLATZ"))
	assert.NotEqual(t, CacheKey("Königsplatz"), CacheKey("Königsplatz 1"))
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no city", mutate: func(c *Config) { c.City = "" }},
		{name: "zero flush interval", mutate: func(c *Config) { c.FlushInterval = 0 }},
		{name: "negative ttl", mutate: func(c *Config) { c.NegativeTTL = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, new(MockLookup), zerolog.Nop())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(testConfig(), nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
