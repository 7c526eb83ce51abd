package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Locker guards a sweep cycle across worker replicas. Acquire reports false when another
// holder has the lock; the returned release func is safe to call once.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// releaseScript deletes the key only if it still holds our value.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a SET NX lock with a TTL so a crashed holder cannot block later cycles.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	value := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "acquire %s", l.key)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, value).Err(); err != nil {
			return errors.Wrapf(err, "release %s", l.key)
		}
		return nil
	}
	return release, true, nil
}

// LocalLocker serializes sweeps within one process.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, true, nil
}
