package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"certrepo/internal/records"
	"certrepo/pkg/platform/sentinel"
)

const (
	defaultMinReconnect = 100 * time.Millisecond
	defaultMaxReconnect = 10 * time.Second
	listenerPing        = 90 * time.Second
)

// notification is the payload of the records_notify trigger.
type notification struct {
	Op         records.ChangeType `json:"op"`
	Collection string             `json:"collection"`
	ID         string             `json:"id"`
	Before     map[string]any     `json:"before"`
	After      map[string]any     `json:"after"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// Feed implements records.ChangeFeed over LISTEN/NOTIFY. Each subscription
// holds its own listener connection. Notifications carry the record images of
// the commit; an image too large for the payload is re-read from the store.
type Feed struct {
	dsn          string
	store        *Store
	logger       *slog.Logger
	minReconnect time.Duration
	maxReconnect time.Duration
}

type FeedOption func(*Feed)

func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) {
		f.logger = logger
	}
}

// WithReconnect sets the listener's reconnect backoff bounds.
func WithReconnect(lo, hi time.Duration) FeedOption {
	return func(f *Feed) {
		if lo > 0 {
			f.minReconnect = lo
		}
		if hi > 0 {
			f.maxReconnect = hi
		}
	}
}

func NewFeed(dsn string, store *Store, opts ...FeedOption) *Feed {
	f := &Feed{
		dsn:          dsn,
		store:        store,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		minReconnect: defaultMinReconnect,
		maxReconnect: defaultMaxReconnect,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe starts listening before taking the snapshot of matching records,
// so no commit falls between the two.
func (f *Feed) Subscribe(ctx context.Context, collection string, filter records.Filter) (records.Subscription, error) {
	logger := f.logger.With("collection", collection)
	listener := pq.NewListener(f.dsn, f.minReconnect, f.maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("change listener connection event", "event", int(ev), "error", err)
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		feed:       f,
		logger:     logger,
		listener:   listener,
		collection: collection,
		filter:     filter,
		q:          records.NewQueue(),
		cancel:     cancel,
	}
	if err := sub.snapshot(ctx); err != nil {
		cancel()
		_ = listener.Close()
		return nil, err
	}
	sub.wg.Add(2)
	go func() {
		defer sub.wg.Done()
		sub.q.Run(ctx)
	}()
	go func() {
		defer sub.wg.Done()
		sub.listen(ctx)
	}()
	return sub, nil
}

type subscription struct {
	feed       *Feed
	logger     *slog.Logger
	listener   *pq.Listener
	collection string
	filter     records.Filter
	q          *records.Queue
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
	closeErr   error
}

func (s *subscription) Changes() <-chan records.Change {
	return s.q.Out()
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.q.Stop()
		s.closeErr = s.listener.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *subscription) snapshot(ctx context.Context) error {
	current, err := s.feed.store.Query(ctx, s.collection, s.filter)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", s.collection, err)
	}
	for _, rec := range current {
		s.q.Push(records.Change{Type: records.ChangeAdded, Collection: s.collection, Record: rec})
	}
	return nil
}

func (s *subscription) listen(ctx context.Context) {
	ping := time.NewTicker(listenerPing)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected; notifications sent while disconnected are lost.
				if err := s.snapshot(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("resnapshot after reconnect failed", "error", err)
				}
				continue
			}
			s.handle(ctx, n.Extra)
		case <-ping.C:
			go func() {
				_ = s.listener.Ping()
			}()
		}
	}
}

func (s *subscription) handle(ctx context.Context, payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		s.logger.Warn("malformed change notification", "error", err)
		return
	}
	if n.Collection != s.collection {
		return
	}

	raw := records.Change{Type: n.Op, Collection: n.Collection}
	if n.Before != nil {
		raw.Before = &records.Record{ID: n.ID, Fields: n.Before}
	}
	switch {
	case n.Op == records.ChangeRemoved:
		raw.Record = records.Record{ID: n.ID, Fields: n.Before}
	case n.After != nil:
		raw.Record = records.Record{ID: n.ID, Fields: n.After, UpdatedAt: n.UpdatedAt.UTC()}
	default:
		rec, err := s.feed.store.Get(ctx, n.Collection, n.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("read changed record failed", "id", n.ID, "error", err)
			}
			return
		}
		raw.Record = rec
	}
	if c, ok := records.Classify(raw, s.filter); ok {
		s.q.Push(c)
	}
}
