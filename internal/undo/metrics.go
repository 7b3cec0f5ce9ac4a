package undo

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes UNDO log state for scraping, mirroring internal/page's
// Metrics shape.
type Metrics struct {
	Counter    prometheus.Gauge
	OldestLive prometheus.Gauge
}

// NewMetrics creates the undo log gauges under namespace and registers
// them with reg; if reg is nil the gauges are created but not registered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		Counter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "undo",
			Name:      "counter",
			Help:      "Last assigned UNDO log pointer.",
		}),
		OldestLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "undo",
			Name:      "oldest_live",
			Help:      "Oldest UNDO pointer still visible to some reader.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Counter, m.OldestLive)
	}
	return m
}
