package records

import (
	"context"
	"sync"
)

// Classify rewrites a raw store change relative to a subscription filter, the
// way a live query sees it: a record that starts matching is added, one that
// stops matching is removed. It returns false when the subscriber should not
// see the change at all.
func Classify(raw Change, filter Filter) (Change, bool) {
	if raw.Type == ChangeRemoved {
		prev := raw.Record
		if raw.Before != nil {
			prev = *raw.Before
		}
		if !filter.Match(prev.Fields) {
			return Change{}, false
		}
		return Change{Type: ChangeRemoved, Collection: raw.Collection, Record: prev, Before: raw.Before}, true
	}

	after := filter.Match(raw.Record.Fields)
	if raw.Before == nil {
		if !after {
			return Change{}, false
		}
		return raw, true
	}
	before := filter.Match(raw.Before.Fields)
	out := raw
	switch {
	case after && before:
		out.Type = ChangeModified
	case after:
		out.Type = ChangeAdded
	case before:
		out.Type = ChangeRemoved
		out.Record = *raw.Before
	default:
		return Change{}, false
	}
	return out, true
}

// Queue is an unbounded FIFO of changes drained into an unbuffered channel by
// one goroutine. Producers never block on slow consumers.
type Queue struct {
	mu      sync.Mutex
	items   []Change
	signal  chan struct{}
	out     chan Change
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewQueue() *Queue {
	return &Queue{
		signal:  make(chan struct{}, 1),
		out:     make(chan Change),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Push appends a change. Pushes after Stop are dropped.
func (q *Queue) Push(c Change) {
	select {
	case <-q.done:
		return
	default:
	}
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Out is the consumer side; it is closed after Stop.
func (q *Queue) Out() <-chan Change {
	return q.out
}

// Run drains the queue until ctx ends or Stop is called.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.stopped)
	defer close(q.out)
	for {
		q.mu.Lock()
		var next *Change
		if len(q.items) > 0 {
			c := q.items[0]
			q.items = q.items[1:]
			next = &c
		}
		q.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.signal:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case q.out <- *next:
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.done) })
}

// Stopped is closed once Run has returned.
func (q *Queue) Stopped() <-chan struct{} {
	return q.stopped
}

type memorySubscription struct {
	store      *InMemoryStore
	collection string
	filter     Filter
	q          *Queue
	once       sync.Once
}

func newMemorySubscription(store *InMemoryStore, collection string, filter Filter) *memorySubscription {
	return &memorySubscription{store: store, collection: collection, filter: filter, q: NewQueue()}
}

func (s *memorySubscription) pump(ctx context.Context) {
	s.q.Run(ctx)
	_ = s.Close()
}

func (s *memorySubscription) offer(raw Change) {
	if raw.Collection != s.collection {
		return
	}
	if c, ok := Classify(raw, s.filter); ok {
		s.q.Push(c)
	}
}

func (s *memorySubscription) Changes() <-chan Change {
	return s.q.Out()
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.unsubscribe(s)
		s.q.Stop()
	})
	return nil
}
