package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so
// a holder whose TTL lapsed cannot release someone else's lock.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker implements a distributed keyed lock with SET NX PX and a
// compare-and-delete release.  Keys are namespaced with Prefix.
type RedisLocker struct {
	rdb      redis.Cmdable
	prefix   string
	retry    time.Duration
	newToken func() (string, error)
}

// RedisOption customizes a RedisLocker.
type RedisOption func(*RedisLocker)

// WithPrefix sets the key namespace (default "lock").
func WithPrefix(p string) RedisOption {
	return func(l *RedisLocker) {
		if p != "" {
			l.prefix = p
		}
	}
}

// WithRetryInterval sets how often a waiting Acquire polls (default 25ms).
func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(fn func() (string, error)) RedisOption {
	return func(l *RedisLocker) {
		if fn != nil {
			l.newToken = fn
		}
	}
}

// NewRedisLocker returns a RedisLocker on rdb.
func NewRedisLocker(rdb redis.Cmdable, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rdb:      rdb,
		prefix:   "lock",
		retry:    25 * time.Millisecond,
		newToken: randomToken,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire polls SET NX until the key is taken or ctx is done.  Redis
// errors are returned immediately so the caller can decide to degrade.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := l.newToken()
	if err != nil {
		return nil, err
	}
	full := l.prefix + ":" + key
	for {
		ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", full, err)
		}
		if ok {
			return l.releaser(full, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, full, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed release is left to the TTL.
		_ = l.rdb.Eval(ctx, releaseScript, []string{key}, token).Err()
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
