// Package store provides ratelimiter.Store implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lowc1012/superlimiter/pkg/ratelimiter"
	"github.com/redis/go-redis/v9"
)

// ensure that RedisStore satisfies the ratelimiter.Store interface
var _ ratelimiter.Store = &RedisStore{}

const scanCount = 100

// Second element of the increment script reply.
const (
	expireSkipped int64 = -1
	expireFailed  int64 = -2
	expireApplied int64 = 1
)

// incrementScript returns {count, expire} and, when EXPIRE raised an error, its message.
var incrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if redis.call("TTL", KEYS[1]) >= 0 then
	return {current, -1}
end
local ok = redis.pcall("EXPIRE", KEYS[1], ARGV[1])
if type(ok) == "table" and ok.err then
	return {current, -2, ok.err}
end
return {current, ok}
`)

var (
	ErrNilClient = errors.New("redis client cannot be nil")
	// ErrExpireNotApplied is reported when Redis accepted EXPIRE but did not attach a TTL.
	ErrExpireNotApplied = errors.New("expire was not applied")
)

// RedisStore keeps counters in Redis. It works with a single node, a sentinel setup or
// a cluster; on a cluster Keys only scans the node the client routes SCAN to.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return n, nil
}

// Increment runs INCR and, when the key has no TTL yet, EXPIRE in a single script, so
// concurrent callers on one key are serialized by Redis and never conflict.
// A failed EXPIRE does not undo the INCR; it is reported in ExpireErr.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (ratelimiter.IncrResult, error) {
	vals, err := incrementScript.Run(ctx, s.client, []string{key}, expireSeconds(ttl)).Slice()
	if err != nil {
		return ratelimiter.IncrResult{}, fmt.Errorf("increase %s: %w", key, err)
	}
	if len(vals) < 2 {
		return ratelimiter.IncrResult{}, fmt.Errorf("increase %s: unexpected reply %v", key, vals)
	}
	count, ok := vals[0].(int64)
	if !ok {
		return ratelimiter.IncrResult{}, fmt.Errorf("increase %s: unexpected count %v", key, vals[0])
	}

	res := ratelimiter.IncrResult{Count: count}
	switch expire, _ := vals[1].(int64); expire {
	case expireSkipped:
	case expireApplied:
		res.ExpireSet = true
	case expireFailed:
		msg := "unknown error"
		if len(vals) > 2 {
			msg = fmt.Sprint(vals[2])
		}
		res.ExpireErr = errors.New(msg)
	default:
		res.ExpireErr = ErrExpireNotApplied
	}
	return res, nil
}

// expireSeconds converts ttl to the whole seconds passed to EXPIRE. Redis deletes a key
// given EXPIRE 0, so a window ending right now still keeps its counter for one second.
func expireSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, key, time.Duration(expireSeconds(ttl))*time.Second).Result()
	if err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("expire %s: %w", key, ErrExpireNotApplied)
	}
	return nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	switch d {
	case -1:
		return ratelimiter.NoExpiry, nil
	case -2:
		return ratelimiter.KeyNotFound, nil
	}
	return d, nil
}

// Keys walks the keyspace with SCAN rather than KEYS so large keyspaces do not block Redis.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	keys := make([]string, 0)

	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		// SCAN may return a key more than once
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}
