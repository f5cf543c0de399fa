package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for workflow handlers.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	HandlerErrors    *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	SideEffectErrors *prometheus.CounterVec
	ListenerEvents   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_workflow_transitions_total",
			Help: "Authoritative status transitions applied, by entity and target status",
		}, []string{"entity", "status"}),
		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_workflow_handler_errors_total",
			Help: "Handler invocations that failed with a transition error",
		}, []string{"handler"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certrepo_workflow_handler_duration_seconds",
			Help:    "Duration of workflow handler invocations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"handler"}),
		SideEffectErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_workflow_side_effect_errors_total",
			Help: "Best-effort notification or activity writes that failed",
		}, []string{"kind"}),
		ListenerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_workflow_listener_events_total",
			Help: "Change feed events delivered to workflow handlers",
		}, []string{"subscription", "change"}),
	}
}

func (m *Metrics) transition(entity, status string) {
	m.Transitions.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) observeHandler(handler string, start time.Time, failed bool) {
	m.HandlerDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
	if failed {
		m.HandlerErrors.WithLabelValues(handler).Inc()
	}
}
