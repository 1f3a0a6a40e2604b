// Package metrics exports the manager's free-page count, reclaim
// activity, and watermark crossings as Prometheus metrics.
//
// Grounded on the pack's intel/cri-resource-manager, which instruments
// its resource-accounting subsystem with
// github.com/prometheus/client_golang the same way: a small set of
// gauges/counters/histograms registered once at construction and
// updated from the hot paths they describe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the manager updates.
type Metrics struct {
	FreePages            prometheus.Gauge
	ReclaimClustersTotal prometheus.Counter
	WatermarkCrossedTotal *prometheus.CounterVec
	ClusterSize          prometheus.Histogram
	NotTrackedRetryTotal prometheus.Counter
}

// New constructs collectors under the given namespace/subsystem and
// registers them with reg. Callers typically pass
// prometheus.NewRegistry() in tests and prometheus.DefaultRegisterer
// in production.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		FreePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "epc",
			Name:      "free_pages",
			Help:      "Number of immediately allocatable EPC pages across all sections.",
		}),
		ReclaimClustersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "epc",
			Name:      "reclaim_cluster_total",
			Help:      "Total number of reclaim clusters executed.",
		}),
		WatermarkCrossedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "epc",
			Name:      "watermark_crossed_total",
			Help:      "Total number of times a watermark was crossed, labeled by which one.",
		}, []string{"watermark"}),
		ClusterSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "epc",
			Name:      "reclaim_cluster_size",
			Help:      "Distribution of the number of pages reclaimed per cluster.",
			Buckets:   prometheus.LinearBuckets(0, 4, 8),
		}),
		NotTrackedRetryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "epc",
			Name:      "not_tracked_retry_total",
			Help:      "Total number of EWB retries caused by a NOT_TRACKED status.",
		}),
	}

	collectors := []prometheus.Collector{
		m.FreePages, m.ReclaimClustersTotal, m.WatermarkCrossedTotal,
		m.ClusterSize, m.NotTrackedRetryTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveWatermark increments the crossed-watermark counter for
// "low" or "high".
func (m *Metrics) ObserveWatermark(which string) {
	m.WatermarkCrossedTotal.WithLabelValues(which).Inc()
}
