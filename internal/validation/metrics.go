package validation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for validator runs.
type Metrics struct {
	Runs      *prometheus.CounterVec
	Findings  *prometheus.GaugeVec
	Duration  prometheus.Histogram
	LastValid prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_validation_runs_total",
			Help: "Validator runs by scope and outcome",
		}, []string{"scope", "outcome"}),
		Findings: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certrepo_validation_findings",
			Help: "Findings of the latest full validation run by severity",
		}, []string{"severity"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certrepo_validation_duration_seconds",
			Help:    "Duration of full validation runs",
			Buckets: prometheus.DefBuckets,
		}),
		LastValid: f.NewGauge(prometheus.GaugeOpts{
			Name: "certrepo_validation_last_valid",
			Help: "1 when the latest full validation run was valid",
		}),
	}
}

func (m *Metrics) observe(r *Report, start time.Time) {
	m.Duration.Observe(time.Since(start).Seconds())
	m.Findings.WithLabelValues(string(SeveritySuccess)).Set(float64(len(r.Successes)))
	m.Findings.WithLabelValues(string(SeverityWarning)).Set(float64(len(r.Warnings)))
	m.Findings.WithLabelValues(string(SeverityError)).Set(float64(len(r.Errors)))
	m.Findings.WithLabelValues(string(SeverityCritical)).Set(float64(len(r.Critical)))
	if r.IsValid() {
		m.LastValid.Set(1)
	} else {
		m.LastValid.Set(0)
	}
}
