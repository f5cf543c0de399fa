// Package activity appends write-once interaction records for workflow
// transitions.
//
// Every entry carries a Key naming the logical event. The record id is
// derived from it, so recording the same event twice leaves one record with
// the first timestamp.
package activity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"certrepo/internal/models"
	"certrepo/internal/records"
	"certrepo/pkg/ids"
)

// Entry is one interaction before it is persisted.
type Entry struct {
	Key      string
	Type     models.InteractionType
	FromRole models.Role
	ToRole   models.Role
	EntityID string
	ActorID  string
	Payload  map[string]any
}

// Metrics counts recorded and failed entries by interaction type.
type Metrics struct {
	Recorded *prometheus.CounterVec
	Failed   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_interactions_recorded_total",
			Help: "Total number of interaction records written",
		}, []string{"type"}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_interactions_failed_total",
			Help: "Total number of interaction records that failed to persist",
		}, []string{"type"}),
	}
}

// Recorder persists interaction records.
type Recorder struct {
	store   records.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Recorder.
type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func NewRecorder(store records.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends e. Entries without Key or Type are rejected.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("interaction requires Key")
	}
	if e.Type == "" {
		return fmt.Errorf("interaction requires Type")
	}
	in := &models.Interaction{
		ID:        InteractionID(e.Key),
		Type:      e.Type,
		FromRole:  e.FromRole,
		ToRole:    e.ToRole,
		EntityID:  e.EntityID,
		ActorID:   e.ActorID,
		Payload:   e.Payload,
		Timestamp: r.now().UTC(),
	}
	err := r.store.BatchWrite(ctx, []records.Mutation{
		records.Create(records.CollectionInteractions, in.ID, in.Fields()),
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.Failed.WithLabelValues(string(e.Type)).Inc()
		}
		r.logger.ErrorContext(ctx, "interaction record failed",
			"type", e.Type,
			"entity_id", e.EntityID,
			"error", err,
		)
		return fmt.Errorf("record interaction: %w", err)
	}
	if r.metrics != nil {
		r.metrics.Recorded.WithLabelValues(string(e.Type)).Inc()
	}
	r.logger.DebugContext(ctx, "interaction recorded",
		"type", e.Type,
		"from_role", e.FromRole,
		"to_role", e.ToRole,
		"entity_id", e.EntityID,
	)
	return nil
}

// ListForEntity returns the interactions about one entity, oldest first.
func (r *Recorder) ListForEntity(ctx context.Context, entityID string) ([]*models.Interaction, error) {
	recs, err := r.store.Query(ctx, records.CollectionInteractions, records.Where("entityId", records.OpEq, entityID))
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	out := make([]*models.Interaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.InteractionFromRecord(rec))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// InteractionID is the record id for an event key.
func InteractionID(key string) string {
	return ids.Derive("interaction", key)
}
