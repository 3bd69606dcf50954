package scalemap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is anything that reports MapStats; both Map and ConcurrentMap
// do. A Map is not safe for concurrent use, so a collector over a Map must
// only be scraped while the owner is not mutating it.
type StatsSource interface {
	Stats() *MapStats
}

type statsCollector struct {
	source StatsSource

	capacity   *prometheus.Desc
	size       *prometheus.Desc
	growths    *prometheus.Desc
	shrinks    *prometheus.Desc
	pressure   *prometheus.Desc
	maxChain   *prometheus.Desc
	emptySlots *prometheus.Desc
}

// NewStatsCollector creates a Prometheus collector reporting the sizing
// state of source. name is attached to every metric as the "map" label.
func NewStatsCollector(source StatsSource, name string) prometheus.Collector {
	labels := prometheus.Labels{"map": name}
	return &statsCollector{
		source: source,
		capacity: prometheus.NewDesc(
			"scalemap_capacity",
			"Number of slots in the current table.",
			nil, labels,
		),
		size: prometheus.NewDesc(
			"scalemap_size",
			"Number of entries stored.",
			nil, labels,
		),
		growths: prometheus.NewDesc(
			"scalemap_growths_total",
			"Number of times the table grew.",
			nil, labels,
		),
		shrinks: prometheus.NewDesc(
			"scalemap_shrinks_total",
			"Number of times the table shrank.",
			nil, labels,
		),
		pressure: prometheus.NewDesc(
			"scalemap_remove_pressure",
			"Removals counted towards the next shrink evaluation.",
			nil, labels,
		),
		maxChain: prometheus.NewDesc(
			"scalemap_max_chain_length",
			"Length of the longest chain.",
			nil, labels,
		),
		emptySlots: prometheus.NewDesc(
			"scalemap_empty_slots",
			"Number of slots holding no entries.",
			nil, labels,
		),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.size
	ch <- c.growths
	ch <- c.shrinks
	ch <- c.pressure
	ch <- c.maxChain
	ch <- c.emptySlots
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(stats.Capacity))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.growths, prometheus.CounterValue, float64(stats.TotalGrowths))
	ch <- prometheus.MustNewConstMetric(c.shrinks, prometheus.CounterValue, float64(stats.TotalShrinks))
	ch <- prometheus.MustNewConstMetric(c.pressure, prometheus.GaugeValue, float64(stats.RemoveCount))
	ch <- prometheus.MustNewConstMetric(c.maxChain, prometheus.GaugeValue, float64(stats.MaxChain))
	ch <- prometheus.MustNewConstMetric(c.emptySlots, prometheus.GaugeValue, float64(stats.EmptySlots))
}

var _ prometheus.Collector = new(statsCollector)
