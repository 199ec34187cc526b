// Package lock implements the per-restaurant exclusive call lock.
//
// A lock is a key holding the id of the call that owns it, with a TTL as the
// only automatic expiry. Release and Extend compare the stored holder before
// acting, so a caller can never drop or prolong a lock it no longer owns.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces lock keys in the shared store.
const DefaultPrefix = "restaurant:lock:"

var ErrInvalidArgument = errors.New("lock: invalid argument")

// releaseScript deletes the key only if it still names the holder.
var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still names the holder.
var extendScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder
-- ARGV[2] = ttl_ms
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lock manager backed by a shared Redis.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (l *Redis) key(resource string) string { return l.prefix + resource }

// Acquire sets the lock to holder if nobody holds it. It reports whether the
// caller now owns the lock.
func (l *Redis) Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	if err := validate(resource, holder, ttl); err != nil {
		return false, err
	}
	ok, err := l.rdb.SetNX(ctx, l.key(resource), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire %s: %w", resource, err)
	}
	return ok, nil
}

// Release deletes the lock if holder still owns it.
func (l *Redis) Release(ctx context.Context, resource, holder string) (bool, error) {
	if resource == "" || holder == "" {
		return false, ErrInvalidArgument
	}
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key(resource)}, holder).Int()
	if err != nil {
		return false, fmt.Errorf("lock release %s: %w", resource, err)
	}
	return n == 1, nil
}

// Extend resets the TTL if holder still owns the lock.
func (l *Redis) Extend(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	if err := validate(resource, holder, ttl); err != nil {
		return false, err
	}
	n, err := extendScript.Run(ctx, l.rdb, []string{l.key(resource)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lock extend %s: %w", resource, err)
	}
	return n == 1, nil
}

// ForceRelease deletes the lock regardless of holder. Admin recovery only.
func (l *Redis) ForceRelease(ctx context.Context, resource string) error {
	if resource == "" {
		return ErrInvalidArgument
	}
	if err := l.rdb.Del(ctx, l.key(resource)).Err(); err != nil {
		return fmt.Errorf("lock force release %s: %w", resource, err)
	}
	return nil
}

func (l *Redis) IsLocked(ctx context.Context, resource string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.key(resource)).Result()
	if err != nil {
		return false, fmt.Errorf("lock exists %s: %w", resource, err)
	}
	return n == 1, nil
}

// Holder returns the call id holding the lock, if any.
func (l *Redis) Holder(ctx context.Context, resource string) (string, bool, error) {
	v, err := l.rdb.Get(ctx, l.key(resource)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lock holder %s: %w", resource, err)
	}
	return v, true, nil
}

func validate(resource, holder string, ttl time.Duration) error {
	if resource == "" || holder == "" || ttl <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
