package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certrepo/internal/records"
	"certrepo/pkg/ids"
	"certrepo/pkg/platform/sentinel"
)

// RecordLock keeps leases as single records in the locks collection and
// relies on the store's transactions for mutual exclusion.
type RecordLock struct {
	store records.Store
	owner string
	now   func() time.Time
}

// RecordOption configures a RecordLock.
type RecordOption func(*RecordLock)

// WithClock overrides the clock used to judge expiry.
func WithClock(now func() time.Time) RecordOption {
	return func(l *RecordLock) {
		l.now = now
	}
}

func NewRecordLock(store records.Store, owner string, opts ...RecordOption) *RecordLock {
	l := &RecordLock{store: store, owner: owner, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RecordLock) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	now := l.now().UTC()
	lease := &Lease{Name: name, Owner: l.owner, Token: ids.New(), ExpiresAt: now.Add(ttl)}
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := tx.Get(ctx, records.CollectionLocks, name)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
		case err != nil:
			return err
		case rec.Time("expiresAt").After(now):
			return fmt.Errorf("lock %s held by %s: %w", name, rec.String("owner"), sentinel.ErrLockHeld)
		}
		return tx.Apply(ctx, records.Mutation{
			Collection: records.CollectionLocks,
			ID:         name,
			Mode:       records.ModeMerge,
			Fields: map[string]any{
				"owner":      lease.Owner,
				"token":      lease.Token,
				"acquiredAt": records.FormatTime(now),
				"expiresAt":  records.FormatTime(lease.ExpiresAt),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Release deletes the lease record if it still carries lease's token. A lease
// that expired and was taken over is left to its new holder.
func (l *RecordLock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	return l.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := tx.Get(ctx, records.CollectionLocks, lease.Name)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.String("token") != lease.Token {
			return nil
		}
		return tx.Apply(ctx, records.Delete(records.CollectionLocks, lease.Name))
	})
}
