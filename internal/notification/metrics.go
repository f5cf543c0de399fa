package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for notification dispatch.
type Metrics struct {
	Dispatched prometheus.Counter
	Failed     prometheus.Counter
	BatchSize  prometheus.Histogram
}

// NewMetrics registers dispatcher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Dispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "certrepo_notifications_dispatched_total",
			Help: "Total number of notifications written",
		}),
		Failed: f.NewCounter(prometheus.CounterOpts{
			Name: "certrepo_notifications_failed_total",
			Help: "Total number of notifications whose write failed",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certrepo_notification_batch_size",
			Help:    "Recipients per fan-out batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

func (m *Metrics) observeSent(n int) {
	m.Dispatched.Add(float64(n))
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) observeFailed(n int) {
	m.Failed.Add(float64(n))
}
