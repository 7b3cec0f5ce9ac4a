package page

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the page buffer adapter's prometheus collectors, replacing
// the teacher's ad hoc atomic-counter stats struct with real
// instrumentation (grounded in cuemby-warren's use of
// github.com/prometheus/client_golang).
type Metrics struct {
	CachedPages     prometheus.Gauge
	PinsOutstanding prometheus.Gauge
	BytesWritten    prometheus.Counter
}

// NewMetrics registers a fresh set of collectors under the given
// registerer (pass prometheus.NewRegistry() in tests to avoid collisions
// with package-level default registries).
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		CachedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pager", Name: "cached_pages",
			Help: "Number of pages currently resident in the page cache.",
		}),
		PinsOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pager", Name: "pins_outstanding",
			Help: "Number of page pins currently held by in-flight operations.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pager", Name: "bytes_written_total",
			Help: "Total bytes written back to the page file.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CachedPages, m.PinsOutstanding, m.BytesWritten)
	}
	return m
}
