package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for health checks.
type Metrics struct {
	ComponentRank *prometheus.GaugeVec
	OverallRank   prometheus.Gauge
	ProbeDuration *prometheus.HistogramVec
	ProbeFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ComponentRank: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certrepo_health_component_rank",
			Help: "Component health severity (0 healthy, 1 warning, 2 error, 3 critical)",
		}, []string{"component"}),
		OverallRank: f.NewGauge(prometheus.GaugeOpts{
			Name: "certrepo_health_overall_rank",
			Help: "Overall health severity (0 healthy, 1 warning, 2 error, 3 critical)",
		}),
		ProbeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certrepo_health_probe_duration_seconds",
			Help:    "Duration of component health probes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"component"}),
		ProbeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_health_probe_failures_total",
			Help: "Probes that returned an error, panicked or timed out",
		}, []string{"component"}),
	}
}

func (m *Metrics) observe(h OverallHealth) {
	for _, c := range h.Components {
		m.ComponentRank.WithLabelValues(c.Name).Set(float64(SeverityRank(c.Status)))
	}
	m.OverallRank.Set(float64(SeverityRank(h.Status)))
}

func (m *Metrics) observeProbe(name string, start time.Time, failed bool) {
	m.ProbeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if failed {
		m.ProbeFailures.WithLabelValues(name).Inc()
	}
}
