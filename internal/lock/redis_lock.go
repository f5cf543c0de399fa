package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certrepo/pkg/ids"
	"certrepo/pkg/platform/sentinel"
)

const redisKeyPrefix = "certrepo:lock:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock keeps leases as Redis keys with a PX expiry.
type RedisLock struct {
	client redis.UniversalClient
	owner  string
}

func NewRedisLock(client redis.UniversalClient, owner string) *RedisLock {
	return &RedisLock{client: client, owner: owner}
}

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{Name: name, Owner: l.owner, Token: l.owner + ":" + ids.New(), ExpiresAt: time.Now().Add(ttl)}
	ok, err := l.client.SetNX(ctx, redisKeyPrefix+name, lease.Token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", name, sentinel.ErrLockHeld)
	}
	return lease, nil
}

func (l *RedisLock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{redisKeyPrefix + lease.Name}, lease.Token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", lease.Name, err)
	}
	return nil
}
