package records

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"certrepo/pkg/platform/sentinel"
)

// InMemoryStore keeps collections in maps guarded by one RWMutex. Transactions
// hold the write lock for their whole callback, which serialises them; this
// favours clarity over throughput.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
	subs        map[*memorySubscription]struct{}
	now         func() time.Time
	closed      bool
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		collections: make(map[string]map[string]Record),
		subs:        make(map[*memorySubscription]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Get(_ context.Context, collection, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(collection, id)
}

func (s *InMemoryStore) get(collection, id string) (Record, error) {
	rec, ok := s.collections[collection][id]
	if !ok {
		return Record{}, fmt.Errorf("%s/%s: %w", collection, id, sentinel.ErrNotFound)
	}
	return clone(rec), nil
}

func (s *InMemoryStore) Query(_ context.Context, collection string, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(collection, filter), nil
}

func (s *InMemoryStore) query(collection string, filter Filter) []Record {
	out := make([]Record, 0)
	for _, rec := range s.collections[collection] {
		if filter.Match(rec.Fields) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InMemoryStore) Write(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.BatchWrite(ctx, []Mutation{Merge(collection, id, fields)})
}

func (s *InMemoryStore) BatchWrite(ctx context.Context, mutations []Mutation) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, m := range mutations {
			if err := tx.Apply(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return sentinel.ErrClosed
	}
	tx := &memoryTx{store: s, staged: make(map[string]map[string]*Record)}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	// Offer under the lock so subscribers see commits in commit order; Push
	// never blocks.
	for _, c := range tx.commit() {
		for sub := range s.subs {
			sub.offer(c)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sentinel.ErrClosed
	}
	return nil
}

// Subscribe delivers the current matching records as added, then every later
// change relative to filter.
func (s *InMemoryStore) Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, sentinel.ErrClosed
	}
	sub := newMemorySubscription(s, collection, filter)
	for _, rec := range s.query(collection, filter) {
		sub.q.Push(Change{Type: ChangeAdded, Collection: collection, Record: rec})
	}
	s.subs[sub] = struct{}{}
	go sub.pump(ctx)
	return sub, nil
}

// Close ends every subscription and rejects further writes.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*memorySubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (s *InMemoryStore) unsubscribe(sub *memorySubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

type memoryTx struct {
	store  *InMemoryStore
	staged map[string]map[string]*Record
	order  []stagedKey
}

type stagedKey struct {
	collection string
	id         string
}

func (t *memoryTx) lookup(collection, id string) (*Record, bool) {
	if byID, ok := t.staged[collection]; ok {
		if rec, ok := byID[id]; ok {
			return rec, true
		}
	}
	rec, ok := t.store.collections[collection][id]
	if !ok {
		return nil, true
	}
	c := clone(rec)
	return &c, false
}

func (t *memoryTx) Get(_ context.Context, collection, id string) (Record, error) {
	rec, _ := t.lookup(collection, id)
	if rec == nil {
		return Record{}, fmt.Errorf("%s/%s: %w", collection, id, sentinel.ErrNotFound)
	}
	return clone(*rec), nil
}

func (t *memoryTx) Query(_ context.Context, collection string, filter Filter) ([]Record, error) {
	seen := make(map[string]struct{})
	out := make([]Record, 0)
	for id, rec := range t.staged[collection] {
		seen[id] = struct{}{}
		if rec != nil && filter.Match(rec.Fields) {
			out = append(out, clone(*rec))
		}
	}
	for id, rec := range t.store.collections[collection] {
		if _, ok := seen[id]; ok {
			continue
		}
		if filter.Match(rec.Fields) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) Apply(_ context.Context, m Mutation) error {
	if m.Collection == "" || m.ID == "" {
		return fmt.Errorf("mutation requires collection and id")
	}
	current, _ := t.lookup(m.Collection, m.ID)
	var next *Record
	switch m.Mode {
	case ModeDelete:
		if current == nil {
			return nil
		}
	case ModeCreate:
		if current != nil {
			return nil
		}
		fields, err := Normalize(m.Fields)
		if err != nil {
			return err
		}
		next = &Record{ID: m.ID, Fields: fields, UpdatedAt: t.store.now()}
	case ModeMerge, "":
		fields, err := Normalize(m.Fields)
		if err != nil {
			return err
		}
		merged := map[string]any{}
		if current != nil {
			maps.Copy(merged, current.Fields)
		}
		maps.Copy(merged, fields)
		next = &Record{ID: m.ID, Fields: merged, UpdatedAt: t.store.now()}
	default:
		return fmt.Errorf("unknown mutation mode %q", m.Mode)
	}
	if t.staged[m.Collection] == nil {
		t.staged[m.Collection] = make(map[string]*Record)
	}
	if _, ok := t.staged[m.Collection][m.ID]; !ok {
		t.order = append(t.order, stagedKey{collection: m.Collection, id: m.ID})
	}
	t.staged[m.Collection][m.ID] = next
	return nil
}

// commit applies staged writes and returns raw changes. Filter-relative
// classification happens per subscription.
func (t *memoryTx) commit() []Change {
	changes := make([]Change, 0, len(t.order))
	for _, key := range t.order {
		next := t.staged[key.collection][key.id]
		prev, hadPrev := t.store.collections[key.collection][key.id]
		var before *Record
		if hadPrev {
			b := clone(prev)
			before = &b
		}
		switch {
		case next == nil && !hadPrev:
			continue
		case next == nil:
			delete(t.store.collections[key.collection], key.id)
			changes = append(changes, Change{Type: ChangeRemoved, Collection: key.collection, Record: *before, Before: before})
		default:
			if t.store.collections[key.collection] == nil {
				t.store.collections[key.collection] = make(map[string]Record)
			}
			t.store.collections[key.collection][key.id] = clone(*next)
			typ := ChangeAdded
			if hadPrev {
				typ = ChangeModified
			}
			changes = append(changes, Change{Type: typ, Collection: key.collection, Record: clone(*next), Before: before})
		}
	}
	return changes
}

func clone(r Record) Record {
	out := r
	out.Fields = deepCopy(r.Fields)
	return out
}

func deepCopy(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = deepCopyValue(t[i])
		}
		return out
	default:
		return v
	}
}
