package kafkafeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"certrepo/internal/records"
)

// Producer is the part of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// RelayMetrics counts published and failed events per collection.
type RelayMetrics struct {
	Published *prometheus.CounterVec
	Failed    *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	f := promauto.With(reg)
	return &RelayMetrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_cdc_published_total",
			Help: "Change events published to Kafka.",
		}, []string{"collection"}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certrepo_cdc_publish_failures_total",
			Help: "Change events that could not be published.",
		}, []string{"collection"}),
	}
}

// Relay subscribes to every record of the given collections on a source feed
// and publishes each change. Subscriptions start with a snapshot, so a relay
// restart republishes current records as added.
type Relay struct {
	source      records.ChangeFeed
	producer    Producer
	prefix      string
	collections []string
	logger      *slog.Logger
	metrics     *RelayMetrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	subs    []records.Subscription
	wg      sync.WaitGroup
	running bool
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithRelayMetrics(m *RelayMetrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithRelayTopicPrefix(prefix string) RelayOption {
	return func(r *Relay) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRelay(source records.ChangeFeed, producer Producer, collections []string, opts ...RelayOption) *Relay {
	r := &Relay{
		source:      source,
		producer:    producer,
		prefix:      DefaultTopicPrefix,
		collections: collections,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("relay already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	subs := make([]records.Subscription, 0, len(r.collections))
	for _, collection := range r.collections {
		sub, err := r.source.Subscribe(ctx, collection, records.All)
		if err != nil {
			cancel()
			for _, opened := range subs {
				_ = opened.Close()
			}
			return fmt.Errorf("relay subscribe %s: %w", collection, err)
		}
		subs = append(subs, sub)
	}
	r.cancel = cancel
	r.subs = subs
	r.running = true
	for _, sub := range subs {
		r.wg.Add(1)
		go r.pump(ctx, sub)
	}
	return nil
}

func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Close())
	}
	r.wg.Wait()
	return errors.Join(errs...)
}

func (r *Relay) pump(ctx context.Context, sub records.Subscription) {
	defer r.wg.Done()
	for c := range sub.Changes() {
		if err := r.Publish(ctx, c); err != nil && ctx.Err() == nil {
			r.logger.Warn("publish change event failed",
				"collection", c.Collection,
				"id", c.Record.ID,
				"error", err,
			)
		}
	}
}

// Publish writes one change to its collection topic.
func (r *Relay) Publish(ctx context.Context, c records.Change) error {
	value, err := json.Marshal(EventFromChange(c))
	if err != nil {
		r.count(c.Collection, false)
		return fmt.Errorf("encode change event: %w", err)
	}
	rec := &kgo.Record{Topic: Topic(r.prefix, c.Collection), Key: []byte(c.Record.ID), Value: value}
	if err := r.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		r.count(c.Collection, false)
		return fmt.Errorf("produce change event: %w", err)
	}
	r.count(c.Collection, true)
	return nil
}

func (r *Relay) count(collection string, ok bool) {
	if r.metrics == nil {
		return
	}
	if ok {
		r.metrics.Published.WithLabelValues(collection).Inc()
		return
	}
	r.metrics.Failed.WithLabelValues(collection).Inc()
}
