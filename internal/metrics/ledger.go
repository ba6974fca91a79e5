package metrics

import (
	"fmt"

	"oparl-geo/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// ledgerCollector reads the state ledger once per scrape.
type ledgerCollector struct {
	stats func() (models.StateStatistics, error)

	resources      *prometheus.Desc
	checkpointSize *prometheus.Desc
	checkpointTime *prometheus.Desc
}

// RegisterLedger exports the processing ledger as gauges: row counts by
// resource type and status, and the latest checkpoint per resource type.
// A failing stats call fails the scrape.
func (m *Metrics) RegisterLedger(stats func() (models.StateStatistics, error)) error {
	c := &ledgerCollector{
		stats: stats,
		resources: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "resources"),
			"Ledger rows by resource type and status.",
			[]string{"resource_type", "status"}, m.labels),
		checkpointSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "checkpoint_total_processed"),
			"Completed resources recorded by the latest checkpoint.",
			[]string{"resource_type"}, m.labels),
		checkpointTime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "checkpoint_timestamp_seconds"),
			"Unix time of the latest checkpoint.",
			[]string{"resource_type"}, m.labels),
	}
	if err := m.registry.Register(c); err != nil {
		return fmt.Errorf("metrics: register ledger: %w", err)
	}
	return nil
}

func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resources
	ch <- c.checkpointSize
	ch <- c.checkpointTime
}

func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.stats()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.resources, err)
		return
	}
	for rtype, byStatus := range stats.ByResourceType {
		for status, n := range byStatus {
			ch <- prometheus.MustNewConstMetric(c.resources, prometheus.GaugeValue, float64(n), rtype, string(status))
		}
	}

	// RecentCheckpoints is newest first.
	seen := map[string]bool{}
	for _, cp := range stats.RecentCheckpoints {
		if seen[cp.ResourceType] {
			continue
		}
		seen[cp.ResourceType] = true
		ch <- prometheus.MustNewConstMetric(c.checkpointSize, prometheus.GaugeValue, float64(cp.TotalProcessed), cp.ResourceType)
		ch <- prometheus.MustNewConstMetric(c.checkpointTime, prometheus.GaugeValue, float64(cp.Time.Unix()), cp.ResourceType)
	}
}
