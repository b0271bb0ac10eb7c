package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock (SET NX PX plus a token-checked
// release). The TTL bounds how long a crashed holder can block a doctor.
type RedisLocker struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

type RedisOption func(*RedisLocker)

func WithPrefix(p string) RedisOption { return func(l *RedisLocker) { l.prefix = p } }

func WithRetryWait(d time.Duration) RedisOption { return func(l *RedisLocker) { l.retryWait = d } }

func NewRedisLocker(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		prefix:    "medibook:lock:",
		ttl:       ttl,
		retryWait: 20 * time.Millisecond,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewRedisClient parses a redis:// URL and verifies the server responds.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		if err := l.acquire(ctx, l.prefix+k, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, l.prefix+k)
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(held, token) }) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return errors.Join(ErrNotAcquired, ctx.Err())
			}
			return fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		t := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(ErrNotAcquired, ctx.Err())
		case <-t.C:
		}
	}
}

func (l *RedisLocker) release(keys []string, token string) {
	// Release must run even if the request context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		_ = releaseScript.Run(ctx, l.client, []string{keys[i]}, token).Err()
	}
}
