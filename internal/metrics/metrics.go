// Package metrics exposes pipeline and geocoder activity as Prometheus
// metrics, either over HTTP or as a node-exporter textfile.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"oparl-geo/internal/geocoder"
	"oparl-geo/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oparl_geo"

// Metrics owns a private registry so that several pipelines in one process
// (tests, mostly) do not collide.
type Metrics struct {
	registry *prometheus.Registry
	labels   prometheus.Labels

	papers        *prometheus.CounterVec
	locations     *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

func New(city string) *Metrics {
	labels := prometheus.Labels{"city": city}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		labels:   labels,
		papers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "papers_total",
			Help:        "Papers handled by the pipeline, by outcome.",
			ConstLabels: labels,
		}, []string{"status"}),
		locations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "locations_total",
			Help:        "Extracted locations, by kind and coordinate source.",
			ConstLabels: labels,
		}, []string{"kind", "source"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "batch_duration_seconds",
			Help:        "Wall time per pipeline batch.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	m.registry.MustRegister(m.papers, m.locations, m.batchDuration)
	return m
}

func (m *Metrics) ObservePapers(status models.ResourceStatus, n int) {
	if n <= 0 {
		return
	}
	m.papers.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Metrics) ObserveLocations(locations []models.EnrichedLocation) {
	for _, loc := range locations {
		source := string(loc.Source)
		if source == "" {
			source = "none"
		}
		m.locations.WithLabelValues(string(loc.Kind), source).Inc()
	}
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	m.batchDuration.Observe(d.Seconds())
}

// RegisterGeocoder exports the geocoder's running counters. stats is called
// on every scrape.
func (m *Metrics) RegisterGeocoder(stats func() geocoder.Stats) error {
	counters := []struct {
		name, help string
		value      func(geocoder.Stats) int
	}{
		{"geocoder_lookups_total", "External geocoding requests.", func(s geocoder.Stats) int { return s.Lookups }},
		{"geocoder_cache_hits_total", "Texts answered from the geocode cache.", func(s geocoder.Stats) int { return s.CacheHits }},
		{"geocoder_resolved_total", "Texts resolved to coordinates.", func(s geocoder.Stats) int { return s.Resolved }},
		{"geocoder_not_found_total", "Texts no query could resolve.", func(s geocoder.Stats) int { return s.NotFound }},
		{"geocoder_skipped_total", "Identifier texts not sent to the geocoder.", func(s geocoder.Stats) int { return s.Skipped }},
		{"geocoder_errors_total", "Failed geocoding requests.", func(s geocoder.Stats) int { return s.Errors }},
	}
	for _, c := range counters {
		value := c.value
		f := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        c.name,
			Help:        c.help,
			ConstLabels: m.labels,
		}, func() float64 { return float64(value(stats())) })
		if err := m.registry.Register(f); err != nil {
			return fmt.Errorf("metrics: register %s: %w", c.name, err)
		}
	}
	return nil
}

// Gatherer gives read access to the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
