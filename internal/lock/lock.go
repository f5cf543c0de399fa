// Package lock provides a lease lock for rare exclusive operations such as
// schema migration or a forced resynchronization. Leases expire on their own,
// so a crashed holder never blocks the system for longer than its TTL.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certrepo/pkg/platform/sentinel"
)

// Lease is a held lock.
type Lease struct {
	Name      string
	Owner     string
	Token     string
	ExpiresAt time.Time
}

// Locker acquires and releases named leases. Acquire returns
// sentinel.ErrLockHeld while another holder's lease is live.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// WithLock runs fn while holding name. The lease is released afterwards even
// when fn fails.
func WithLock(ctx context.Context, l Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	lease, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// Release with a fresh context so a cancelled caller still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := l.Release(releaseCtx, lease); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release lock %s: %w", name, rerr))
		}
	}()
	return fn(ctx)
}

// IsHeld reports whether err means the lock is held by someone else.
func IsHeld(err error) bool {
	return errors.Is(err, sentinel.ErrLockHeld)
}
