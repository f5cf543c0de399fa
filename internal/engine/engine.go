// Package engine assembles the workflow, validation and health components
// over one record store and owns their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"certrepo/internal/activity"
	"certrepo/internal/health"
	"certrepo/internal/lock"
	"certrepo/internal/notification"
	"certrepo/internal/records"
	"certrepo/internal/validation"
	"certrepo/internal/workflow"
	dErrors "certrepo/pkg/domain-errors"
)

// ResyncLock names the lease held while a forced resynchronization runs.
const ResyncLock = "engine.resynchronize"

const defaultLockTTL = 5 * time.Minute

// Service is a background component started with the engine.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// HealthConfig tunes the aggregator.
type HealthConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	StatsTTL     time.Duration
}

// Deps are the collaborators the engine is built from. Store and Feed are
// required; a RecordLock over Store is used when Locker is nil.
type Deps struct {
	Store      records.Store
	Feed       records.ChangeFeed
	Locker     lock.Locker
	Registerer prometheus.Registerer
	Logger     *slog.Logger
	Clock      func() time.Time
	Health     HealthConfig
	// Probes are extra health components, such as external dependencies.
	Probes []health.Probe
	// Services start after the listener and stop before it.
	Services []Service
	LockTTL  time.Duration
}

// Engine is the outward interface of the system.
type Engine struct {
	store        records.Store
	dispatcher   *notification.Dispatcher
	recorder     *activity.Recorder
	orchestrator *workflow.Orchestrator
	listener     *workflow.Listener
	validator    *validation.Validator
	aggregator   *health.Aggregator
	locker       lock.Locker
	services     []Service
	logger       *slog.Logger
	lockTTL      time.Duration

	mu      sync.Mutex
	started bool
}

// New wires every component. Nothing runs until Initialize.
func New(d Deps) (*Engine, error) {
	if d.Store == nil {
		return nil, errors.New("record store is required")
	}
	if d.Feed == nil {
		return nil, errors.New("change feed is required")
	}
	if d.Registerer == nil {
		d.Registerer = prometheus.NewRegistry()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.LockTTL <= 0 {
		d.LockTTL = defaultLockTTL
	}
	if d.Locker == nil {
		d.Locker = lock.NewRecordLock(d.Store, InstanceID(), lock.WithClock(d.Clock))
	}

	dispatcher := notification.NewDispatcher(d.Store,
		notification.WithLogger(d.Logger.With("component", "notification")),
		notification.WithMetrics(notification.NewMetrics(d.Registerer)),
		notification.WithClock(d.Clock),
	)
	recorder := activity.NewRecorder(d.Store,
		activity.WithLogger(d.Logger.With("component", "activity")),
		activity.WithMetrics(activity.NewMetrics(d.Registerer)),
		activity.WithClock(d.Clock),
	)
	workflowMetrics := workflow.NewMetrics(d.Registerer)
	orchestrator, err := workflow.New(d.Store, dispatcher, recorder,
		workflow.WithLogger(d.Logger.With("component", "workflow")),
		workflow.WithMetrics(workflowMetrics),
		workflow.WithClock(d.Clock),
	)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	listener := workflow.NewListener(d.Feed, orchestrator,
		workflow.WithListenerLogger(d.Logger.With("component", "listener")),
		workflow.WithListenerMetrics(workflowMetrics),
	)
	validator := validation.New(d.Store,
		validation.WithLogger(d.Logger.With("component", "validation")),
		validation.WithMetrics(validation.NewMetrics(d.Registerer)),
		validation.WithClock(d.Clock),
	)

	healthOpts := []health.Option{
		health.WithLogger(d.Logger.With("component", "health")),
		health.WithMetrics(health.NewMetrics(d.Registerer)),
		health.WithClock(d.Clock),
		health.WithDispatchStats(dispatcher),
		health.WithLinkValidator(validator),
		health.WithInterval(d.Health.Interval),
		health.WithProbeTimeout(d.Health.ProbeTimeout),
		health.WithStatsTTL(d.Health.StatsTTL),
	}
	for _, p := range d.Probes {
		healthOpts = append(healthOpts, health.WithProbe(p))
	}

	return &Engine{
		store:        d.Store,
		dispatcher:   dispatcher,
		recorder:     recorder,
		orchestrator: orchestrator,
		listener:     listener,
		validator:    validator,
		aggregator:   health.New(d.Store, healthOpts...),
		locker:       d.Locker,
		services:     d.Services,
		logger:       d.Logger,
		lockTTL:      d.LockTTL,
	}, nil
}

// InstanceID identifies this process as a lock owner.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "certrepo"
	}
	return host + "/" + uuid.NewString()
}

// Initialize subscribes the listener, starts the background services and the
// periodic health check. On failure everything already started is stopped.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return dErrors.New(dErrors.CodeConflict, "engine already initialized")
	}

	if err := e.listener.Start(ctx); err != nil {
		return err
	}
	for i, svc := range e.services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = e.services[j].Stop()
			}
			_ = e.listener.Stop()
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "start background service")
		}
	}
	if err := e.aggregator.Start(ctx); err != nil {
		for j := len(e.services) - 1; j >= 0; j-- {
			_ = e.services[j].Stop()
		}
		_ = e.listener.Stop()
		return err
	}
	e.started = true
	e.logger.InfoContext(ctx, "engine initialized", "services", len(e.services))
	return nil
}

// Dispose stops everything Initialize started. It is safe to call twice.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false

	e.aggregator.Stop()
	var errs []error
	for i := len(e.services) - 1; i >= 0; i-- {
		errs = append(errs, e.services[i].Stop())
	}
	errs = append(errs, e.listener.Stop())
	e.logger.Info("engine disposed")
	return errors.Join(errs...)
}

// RunValidation runs the full consistency check, optionally storing the
// report.
func (e *Engine) RunValidation(ctx context.Context, persist bool) (*validation.Report, error) {
	report, err := e.validator.Validate(ctx)
	if err != nil {
		return nil, err
	}
	if persist {
		if err := e.validator.Persist(ctx, report); err != nil {
			return report, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist validation report")
		}
	}
	return report, nil
}

// CheckHealth runs every probe now.
func (e *Engine) CheckHealth(ctx context.Context) health.OverallHealth {
	return e.aggregator.CheckHealth(ctx)
}

// LatestHealth returns the last completed check, running one when none has.
func (e *Engine) LatestHealth(ctx context.Context) health.OverallHealth {
	if h, ok := e.aggregator.Latest(); ok {
		return h
	}
	return e.aggregator.CheckHealth(ctx)
}

// SubscribeHealth returns the continuous health feed and its cancel func.
func (e *Engine) SubscribeHealth() (<-chan health.OverallHealth, func()) {
	return e.aggregator.Subscribe()
}

// Stats returns the cached per-collection counts.
func (e *Engine) Stats(ctx context.Context) (health.Cached[health.Stats], error) {
	return e.aggregator.Stats(ctx)
}

// ForceResynchronize re-drives pending backlogs. Only one instance runs at a
// time across processes; a concurrent call fails with a conflict.
func (e *Engine) ForceResynchronize(ctx context.Context) (workflow.ResyncResult, error) {
	var res workflow.ResyncResult
	err := lock.WithLock(ctx, e.locker, ResyncLock, e.lockTTL, func(ctx context.Context) error {
		var err error
		res, err = e.orchestrator.Resynchronize(ctx)
		return err
	})
	if lock.IsHeld(err) {
		return res, dErrors.Wrap(err, dErrors.CodeConflict, "resynchronization already running")
	}
	return res, err
}

// Orchestrator exposes the workflow operations to in-process callers.
func (e *Engine) Orchestrator() *workflow.Orchestrator {
	return e.orchestrator
}

// Notifications exposes the dispatcher for inbox reads.
func (e *Engine) Notifications() *notification.Dispatcher {
	return e.dispatcher
}

// Activity exposes the interaction log.
func (e *Engine) Activity() *activity.Recorder {
	return e.recorder
}
