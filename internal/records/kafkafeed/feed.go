package kafkafeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"certrepo/internal/platform/kafka"
	"certrepo/internal/platform/kafka/consumer"
	"certrepo/internal/records"
)

// Feed implements records.ChangeFeed by consuming CDC topics. The snapshot
// of matching records comes from the store; events are read from the moment
// the subscription was opened.
type Feed struct {
	cfg    kafka.Config
	prefix string
	reader records.Reader
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Feed)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		f.logger = logger
	}
}

func WithTopicPrefix(prefix string) Option {
	return func(f *Feed) {
		if prefix != "" {
			f.prefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		f.now = now
	}
}

func NewFeed(cfg kafka.Config, reader records.Reader, opts ...Option) *Feed {
	f := &Feed{
		cfg:    cfg,
		prefix: DefaultTopicPrefix,
		reader: reader,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) Subscribe(ctx context.Context, collection string, filter records.Filter) (records.Subscription, error) {
	since := f.now().Add(-time.Second)
	topic := Topic(f.prefix, collection)
	client, err := kafka.NewClient(f.cfg,
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AfterMilli(since.UnixMilli())),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		collection: collection,
		filter:     filter,
		q:          records.NewQueue(),
		client:     client,
		cancel:     cancel,
		logger:     f.logger.With("topic", topic),
	}

	current, err := f.reader.Query(ctx, collection, filter)
	if err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("snapshot %s: %w", collection, err)
	}
	for _, rec := range current {
		sub.q.Push(records.Change{Type: records.ChangeAdded, Collection: collection, Record: rec})
	}

	c := consumer.New(client, consumer.HandlerFunc(sub.handle), consumer.WithLogger(sub.logger))
	sub.wg.Add(2)
	go func() {
		defer sub.wg.Done()
		sub.q.Run(ctx)
	}()
	go func() {
		defer sub.wg.Done()
		_ = c.Run(ctx)
	}()
	return sub, nil
}

type subscription struct {
	collection string
	filter     records.Filter
	q          *records.Queue
	client     *kgo.Client
	cancel     context.CancelFunc
	logger     *slog.Logger
	wg         sync.WaitGroup
	once       sync.Once
}

func (s *subscription) Changes() <-chan records.Change {
	return s.q.Out()
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.q.Stop()
		s.client.Close()
		s.wg.Wait()
	})
	return nil
}

func (s *subscription) handle(_ context.Context, msg *consumer.Message) error {
	ev, err := decodeEvent(msg.Value)
	if err != nil {
		return err
	}
	if ev.Collection != s.collection {
		return nil
	}
	raw := ev.Change()
	if raw.Type == records.ChangeRemoved && raw.Record.Fields == nil {
		raw.Record.Fields = ev.Before
	}
	if c, ok := records.Classify(raw, s.filter); ok {
		s.q.Push(c)
	}
	return nil
}
