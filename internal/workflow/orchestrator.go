// Package workflow advances the template, document, certificate and user
// state machines and drives notifications and interaction records from them.
//
// Every handler is safe to run more than once for the same change. The status
// transition is the authoritative fact: it runs in a store transaction and its
// failure is returned. Notifications and interaction records follow it, are
// keyed by the logical event so redelivery does not duplicate them, and their
// failures are logged rather than returned.
package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certrepo/internal/activity"
	"certrepo/internal/models"
	"certrepo/internal/notification"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
	"certrepo/pkg/platform/sentinel"
)

const tracerName = "certrepo/internal/workflow"

// Orchestrator owns the workflow handlers.
type Orchestrator struct {
	store    records.Store
	notifier Notifier
	activity ActivityRecorder
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New builds an Orchestrator. All three collaborators are required.
func New(store records.Store, notifier Notifier, recorder ActivityRecorder, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if recorder == nil {
		return nil, errors.New("activity recorder is required")
	}
	o := &Orchestrator{
		store:    store,
		notifier: notifier,
		activity: recorder,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// begin opens a span for one handler invocation. The returned func closes it
// and records the outcome; call it with a pointer to the named error result.
func (o *Orchestrator) begin(ctx context.Context, handler string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "workflow."+handler, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.ErrorContext(ctx, "workflow transition failed",
				"handler", handler,
				"error", err,
			)
		}
		if o.metrics != nil {
			o.metrics.observeHandler(handler, start, err != nil)
		}
		span.End()
	}
}

// record writes an interaction record; failures are absorbed.
func (o *Orchestrator) record(ctx context.Context, e activity.Entry) {
	if err := o.activity.Record(ctx, e); err != nil {
		o.sideEffectFailed(ctx, "activity", e.EntityID, err)
	}
}

// notify sends msg to one user; failures are absorbed.
func (o *Orchestrator) notify(ctx context.Context, userID string, msg notification.Message) {
	if userID == "" {
		return
	}
	if err := o.notifier.Notify(ctx, userID, msg); err != nil {
		o.sideEffectFailed(ctx, "notification", userID, err)
	}
}

// notifyRole fans msg out to the active users of role; failures are absorbed
// and reported as zero recipients.
func (o *Orchestrator) notifyRole(ctx context.Context, role models.Role, msg notification.Message) int {
	n, err := o.notifier.NotifyRole(ctx, role, msg)
	if err != nil {
		o.sideEffectFailed(ctx, "notification", string(role), err)
		return 0
	}
	return n
}

func (o *Orchestrator) sideEffectFailed(ctx context.Context, kind, target string, err error) {
	if o.metrics != nil {
		o.metrics.SideEffectErrors.WithLabelValues(kind).Inc()
	}
	o.logger.WarnContext(ctx, "workflow side effect failed",
		"kind", kind,
		"target", target,
		"error", err,
	)
}

func (o *Orchestrator) transitioned(entity, status string) {
	if o.metrics != nil {
		o.metrics.transition(entity, status)
	}
}

// load reads one record inside tx and maps store failures to coded errors.
func load(ctx context.Context, tx records.Tx, collection, kind, id string) (records.Record, error) {
	if id == "" {
		return records.Record{}, dErrors.New(dErrors.CodeBadRequest, kind+" id is required")
	}
	rec, err := tx.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return records.Record{}, dErrors.Wrap(err, dErrors.CodeNotFound, kind+" "+id+" not found")
		}
		return records.Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "load "+kind)
	}
	return rec, nil
}
