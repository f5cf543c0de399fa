// Package health collects one snapshot per subsystem and reduces them to a
// single status: the most severe component wins.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"certrepo/internal/records"
)

const tracerName = "certrepo/internal/health"

// Aggregator runs the component probes on demand or on a ticker and
// publishes each result to subscribers.
type Aggregator struct {
	store      records.Store
	dispatch   DispatchStats
	links      LinkValidator
	extra      []Probe
	probes     []Probe
	thresholds Thresholds
	interval   time.Duration
	timeout    time.Duration
	statsTTL   time.Duration
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time

	mu     sync.Mutex
	latest *OverallHealth
	subs   map[chan OverallHealth]struct{}
	stats  Cached[Stats]

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures the Aggregator.
type Option func(*Aggregator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithDispatchStats enables the notification probe.
func WithDispatchStats(d DispatchStats) Option {
	return func(a *Aggregator) {
		a.dispatch = d
	}
}

// WithLinkValidator enables the integration probe.
func WithLinkValidator(v LinkValidator) Option {
	return func(a *Aggregator) {
		a.links = v
	}
}

// WithProbe adds a probe for an extra component such as a cache or broker.
func WithProbe(p Probe) Option {
	return func(a *Aggregator) {
		a.extra = append(a.extra, p)
	}
}

// WithInterval sets the period of the background check.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithProbeTimeout bounds every probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithStatsTTL sets how long Stats results are reused. Zero keeps the default.
func WithStatsTTL(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.statsTTL = d
		}
	}
}

func WithThresholds(t Thresholds) Option {
	return func(a *Aggregator) {
		a.thresholds = t
	}
}

func New(store records.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:      store,
		thresholds: defaultThresholds,
		interval:   time.Minute,
		timeout:    5 * time.Second,
		statsTTL:   30 * time.Second,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		subs:       make(map[chan OverallHealth]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.probes = append(a.defaultProbes(), a.extra...)
	return a
}

// CheckHealth runs every probe concurrently and reduces the results. It never
// fails: a probe that errors, panics or times out is reported as critical.
func (a *Aggregator) CheckHealth(ctx context.Context) OverallHealth {
	ctx, span := a.tracer.Start(ctx, "health.check")
	defer span.End()

	results := make([]ComponentHealth, len(a.probes))
	var g errgroup.Group
	for i, p := range a.probes {
		g.Go(func() error {
			results[i] = a.runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	h := Reduce(results, a.now().UTC())
	span.SetAttributes(attribute.String("health.status", string(h.Status)))
	if a.metrics != nil {
		a.metrics.observe(h)
	}
	if h.Status != StatusHealthy {
		a.logger.WarnContext(ctx, "system health degraded", "status", string(h.Status))
	}
	a.publish(h)
	return h
}

func (a *Aggregator) runProbe(ctx context.Context, p Probe) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	c, err := a.probe(ctx, p)
	if err != nil {
		c = ComponentHealth{Status: StatusCritical, Message: err.Error()}
		a.logger.ErrorContext(ctx, "health probe failed", "component", p.Name, "error", err)
	}
	c.Name = p.Name
	if c.Timestamp.IsZero() {
		c.Timestamp = a.now().UTC()
	}
	if a.metrics != nil {
		a.metrics.observeProbe(p.Name, start, err != nil)
	}
	return c
}

// probe runs p.Check on its own goroutine so a hung probe is abandoned at the
// timeout instead of stalling the whole check.
func (a *Aggregator) probe(ctx context.Context, p Probe) (ComponentHealth, error) {
	type outcome struct {
		c   ComponentHealth
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		c, err := p.Check(ctx)
		done <- outcome{c: c, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return ComponentHealth{}, out.err
		}
		if SeverityRank(out.c.Status) < 0 {
			return ComponentHealth{}, errors.New("probe returned no final status")
		}
		return out.c, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ComponentHealth{}, errors.New("probe timed out")
		}
		return ComponentHealth{}, errors.New("probe cancelled")
	}
}

// Latest returns the most recent result, if any check has completed.
func (a *Aggregator) Latest() (OverallHealth, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return OverallHealth{}, false
	}
	return *a.latest, true
}

// Subscribe returns a feed of health results and a func that ends it. The
// latest result, if any, is delivered first. Slow subscribers only ever see
// the newest result.
func (a *Aggregator) Subscribe() (<-chan OverallHealth, func()) {
	ch := make(chan OverallHealth, 1)
	a.mu.Lock()
	if a.latest != nil {
		ch <- *a.latest
	}
	a.subs[ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			if _, ok := a.subs[ch]; ok {
				delete(a.subs, ch)
				close(ch)
			}
			a.mu.Unlock()
		})
	}
}

func (a *Aggregator) publish(h OverallHealth) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest = &h
	for ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		ch <- h
	}
}

// Start runs CheckHealth immediately and then every interval until Stop or
// ctx cancellation.
func (a *Aggregator) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return errors.New("health aggregator already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopped = make(chan struct{})
	go a.loop(ctx, a.stopped)
	return nil
}

func (a *Aggregator) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.CheckHealth(ctx)
		}
	}
}

// Stop ends the background check, waits for it and closes every
// subscription. It is safe to call when not started.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	if a.cancel != nil {
		a.cancel()
		<-a.stopped
		a.cancel = nil
	}
	a.runMu.Unlock()

	a.mu.Lock()
	for ch := range a.subs {
		delete(a.subs, ch)
		close(ch)
	}
	a.mu.Unlock()
}

// Stats returns per-collection counts, reusing the cached value while it is
// younger than the configured TTL.
func (a *Aggregator) Stats(ctx context.Context) (Cached[Stats], error) {
	now := a.now()
	a.mu.Lock()
	cached := a.stats
	a.mu.Unlock()
	if cached.Fresh(now, a.statsTTL) {
		return cached, nil
	}

	st, err := a.computeStats(ctx)
	if err != nil {
		return Cached[Stats]{}, err
	}
	cached = Cached[Stats]{Value: st, ComputedAt: now}
	a.mu.Lock()
	a.stats = cached
	a.mu.Unlock()
	return cached, nil
}

func (a *Aggregator) computeStats(ctx context.Context) (Stats, error) {
	var users, tpls, docs, certs, notes []records.Record
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range []struct {
		collection string
		dst        *[]records.Record
	}{
		{records.CollectionUsers, &users},
		{records.CollectionTemplates, &tpls},
		{records.CollectionDocuments, &docs},
		{records.CollectionCertificates, &certs},
		{records.CollectionNotifications, &notes},
	} {
		g.Go(func() error {
			recs, err := a.store.Query(gctx, q.collection, records.All)
			if err != nil {
				return fmt.Errorf("count %s: %w", q.collection, err)
			}
			*q.dst = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	st := Stats{
		UsersByRole:       map[string]int{},
		UsersByStatus:     map[string]int{},
		TemplatesByStatus: map[string]int{},
		DocumentsByStatus: map[string]int{},
		Certificates:      len(certs),
		Notifications:     len(notes),
	}
	for _, u := range users {
		st.UsersByRole[u.String("role")]++
		st.UsersByStatus[u.String("status")]++
	}
	for _, t := range tpls {
		st.TemplatesByStatus[t.String("status")]++
	}
	for _, d := range docs {
		st.DocumentsByStatus[d.String("status")]++
	}
	for _, c := range certs {
		if c.String("recipientId") == "" {
			st.UnlinkedCertificates++
		}
	}
	return st, nil
}
