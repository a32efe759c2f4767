package observability

import (
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
)

type cacheCollector struct {
	stats func() cache.Stats

	instances    *prometheus.Desc
	passivations *prometheus.Desc
	activations  *prometheus.Desc
	timeouts     *prometheus.Desc
}

func newCacheCollector(stats func() cache.Stats) *cacheCollector {
	return &cacheCollector{
		stats: stats,
		instances: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "instances"),
			"Instances in the cache by state.",
			[]string{"state"}, nil,
		),
		passivations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "passivations_total"),
			"Instances passivated since start.",
			nil, nil,
		),
		activations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "activations_total"),
			"Instances activated since start.",
			nil, nil,
		),
		timeouts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "timeouts_total"),
			"Instances removed by the idle timeout since start.",
			nil, nil,
		),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.instances
	ch <- c.passivations
	ch <- c.activations
	ch <- c.timeouts
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.instances, prometheus.GaugeValue, float64(s.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.instances, prometheus.GaugeValue, float64(s.CheckedOut), "checked_out")
	ch <- prometheus.MustNewConstMetric(c.instances, prometheus.GaugeValue, float64(s.Passivated), "passivated")
	ch <- prometheus.MustNewConstMetric(c.passivations, prometheus.CounterValue, float64(s.Passivations))
	ch <- prometheus.MustNewConstMetric(c.activations, prometheus.CounterValue, float64(s.Activations))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
}
