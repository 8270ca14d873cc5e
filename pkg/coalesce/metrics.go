package coalesce

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts batches across every coalescer that shares it. A nil
// *Metrics records nothing.
type Metrics struct {
	Batches      *prometheus.CounterVec
	BatchSize    *prometheus.HistogramVec
	RequestedIDs *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomstore",
			Subsystem: "coalesce",
			Name:      "batches_total",
			Help:      "Batched fetches by coalescer and result.",
		}, []string{"coalescer", "result"}),
		BatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roomstore",
			Subsystem: "coalesce",
			Name:      "batch_size",
			Help:      "Number of ids carried by one batched fetch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"coalescer"}),
		RequestedIDs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomstore",
			Subsystem: "coalesce",
			Name:      "requested_ids_total",
			Help:      "Ids newly queued for fetching.",
		}, []string{"coalescer"}),
	}
	if reg != nil {
		reg.MustRegister(m.Batches, m.BatchSize, m.RequestedIDs)
	}
	return m
}

func (m *Metrics) requested(name string, n int) {
	if m == nil {
		return
	}
	m.RequestedIDs.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) observeBatch(name string, size int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Batches.WithLabelValues(name, result).Inc()
	m.BatchSize.WithLabelValues(name).Observe(float64(size))
}
