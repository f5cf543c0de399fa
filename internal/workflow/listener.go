package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"certrepo/internal/models"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// Route binds one change feed subscription to a handler.
type Route struct {
	Name       string
	Collection string
	Filter     records.Filter
	Handle     func(ctx context.Context, c records.Change) error
}

// Listener runs one worker per Route. Each worker consumes its subscription in
// order and calls the handler once per added or modified change. Transient
// handler failures are retried with backoff; anything else is logged and the
// worker moves on, relying on redelivery or resynchronization.
type Listener struct {
	feed    records.ChangeFeed
	routes  []Route
	logger  *slog.Logger
	metrics *Metrics

	maxAttempts int
	baseDelay   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	subs    []records.Subscription
	wg      sync.WaitGroup
	running bool
}

// ListenerOption configures the Listener.
type ListenerOption func(*Listener)

func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

func WithListenerMetrics(m *Metrics) ListenerOption {
	return func(l *Listener) {
		l.metrics = m
	}
}

// WithRetry sets how many times a transient failure is attempted and the
// first backoff delay, which doubles per attempt.
func WithRetry(maxAttempts int, baseDelay time.Duration) ListenerOption {
	return func(l *Listener) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			l.baseDelay = baseDelay
		}
	}
}

// NewListener builds a Listener over the Orchestrator's default routes.
func NewListener(feed records.ChangeFeed, o *Orchestrator, opts ...ListenerOption) *Listener {
	l := &Listener{
		feed:        feed,
		routes:      o.Routes(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Routes returns the change feed bindings for every handler that reacts to
// mutations made outside the engine.
func (o *Orchestrator) Routes() []Route {
	return []Route{
		{
			Name:       "template_review_requests",
			Collection: records.CollectionTemplates,
			Filter:     records.Where("status", records.OpEq, string(models.TemplateStatusPendingReview)),
			Handle: func(ctx context.Context, c records.Change) error {
				_, err := o.OnTemplateCreated(ctx, models.TemplateFromRecord(c.Record))
				return err
			},
		},
		{
			Name:       "template_activation",
			Collection: records.CollectionTemplates,
			Filter:     records.Where("status", records.OpEq, string(models.TemplateStatusClientApproved)),
			Handle: func(ctx context.Context, c records.Change) error {
				return o.ActivateTemplate(ctx, c.Record.ID)
			},
		},
		{
			Name:       "document_uploads",
			Collection: records.CollectionDocuments,
			Filter:     records.Where("status", records.OpEq, string(models.DocumentStatusUploaded)),
			Handle: func(ctx context.Context, c records.Change) error {
				_, err := o.OnDocumentUploaded(ctx, models.DocumentFromRecord(c.Record))
				return err
			},
		},
		{
			Name:       "certificate_issuance",
			Collection: records.CollectionCertificates,
			Filter:     records.All,
			Handle: func(ctx context.Context, c records.Change) error {
				if c.Type != records.ChangeAdded {
					return nil
				}
				_, err := o.OnCertificateIssued(ctx, models.CertificateFromRecord(c.Record))
				return err
			},
		},
		{
			Name:       "user_status",
			Collection: records.CollectionUsers,
			Filter:     records.All,
			Handle: func(ctx context.Context, c records.Change) error {
				if c.Type != records.ChangeModified || c.Before == nil {
					return nil
				}
				before := models.UserFromRecord(*c.Before)
				after := models.UserFromRecord(c.Record)
				if before.Status == after.Status {
					return nil
				}
				return o.OnUserStatusChanged(ctx, after.ID, before.Status, after.Status, after.Role)
			},
		},
	}
}

// Start subscribes every route and launches its worker. If any subscription
// fails the ones already opened are closed.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("listener already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	subs := make([]records.Subscription, 0, len(l.routes))
	for _, route := range l.routes {
		sub, err := l.feed.Subscribe(ctx, route.Collection, route.Filter)
		if err != nil {
			cancel()
			for _, s := range subs {
				_ = s.Close()
			}
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "subscribe "+route.Name)
		}
		subs = append(subs, sub)
	}

	for i, route := range l.routes {
		l.wg.Add(1)
		go l.work(ctx, route, subs[i])
	}
	l.cancel = cancel
	l.subs = subs
	l.running = true
	l.logger.InfoContext(ctx, "workflow listener started", "routes", len(l.routes))
	return nil
}

// Stop unsubscribes every route and waits for in-flight handlers to return.
// No handler runs after Stop returns.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.cancel()
	var errs []error
	for _, sub := range l.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.subs = nil
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	return errors.Join(errs...)
}

func (l *Listener) work(ctx context.Context, route Route, sub records.Subscription) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.Changes():
			if !ok {
				return
			}
			if change.Type == records.ChangeRemoved {
				continue
			}
			if l.metrics != nil {
				l.metrics.ListenerEvents.WithLabelValues(route.Name, string(change.Type)).Inc()
			}
			l.deliver(ctx, route, change)
		}
	}
}

func (l *Listener) deliver(ctx context.Context, route Route, change records.Change) {
	delay := l.baseDelay
	for attempt := 1; ; attempt++ {
		err := route.Handle(ctx, change)
		if err == nil {
			return
		}
		if !retryable(err) || attempt >= l.maxAttempts || ctx.Err() != nil {
			l.logger.ErrorContext(ctx, "change handler failed",
				"route", route.Name,
				"record_id", change.Record.ID,
				"attempts", attempt,
				"error", err,
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// retryable reports whether a handler error may clear on its own. Not-found,
// invariant and permission failures will not.
func retryable(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeBadRequest, dErrors.CodeInvariantViolation,
		dErrors.CodeForbidden, dErrors.CodeConflict:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
