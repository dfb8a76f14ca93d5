// Package ratelimiter is a fixed-window rate limiter whose counters live in a shared store,
// so every process pointing at the same store enforces one limit per bucket.
//
// A call is mapped to a bucket by a HashFunc. Exec increments the bucket's counter and
// attaches the window TTL in a single store transaction, then compares the count against
// the configured maximum:
//
//	l, err := ratelimiter.New(store, ratelimiter.WithTTL(10*time.Second), ratelimiter.WithMax(2))
//	count, err := l.Exec(ctx, "user:123")
//	if errors.Is(err, ratelimiter.ErrLimitExceeded) {
//	    // reject
//	}
//
// When the store increments a counter but fails to set its expiry, Exec still succeeds.
// The expiry is retried once in the background and a second failure is reported to
// subscribers registered with Subscribe.
package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lowc1012/superlimiter/internal/log"
	"go.uber.org/zap"
)

// ErrNilStore is returned by New when no store is supplied.
var ErrNilStore = errors.New("client can not be null")

// TTL values a Store reports for keys without a remaining lifetime.
const (
	NoExpiry    time.Duration = -1
	KeyNotFound time.Duration = -2
)

const retryTimeout = 5 * time.Second

// IncrResult holds the per-command results of an increment transaction, in call order.
type IncrResult struct {
	// Count is the counter value after the increment.
	Count int64
	// ExpireSet reports whether the transaction attached a TTL.
	ExpireSet bool
	// ExpireErr is set when the increment succeeded but attaching the TTL failed.
	ExpireErr error
}

// Store is the shared key-value store holding the counters.
type Store interface {
	// Get returns the counter stored at key, or 0 if the key is absent.
	Get(ctx context.Context, key string) (int64, error)
	// Increment atomically increments key and, when the key has no TTL, sets it to ttl.
	// An error means the increment itself was not applied.
	Increment(ctx context.Context, key string, ttl time.Duration) (IncrResult, error)
	// Expire sets the TTL of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time to live of key, NoExpiry for a persistent key and
	// KeyNotFound for a missing one.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Keys lists the keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// State is the outcome of a limited call.
type State int64

const (
	Deny State = iota
	Allow
)

func (s State) String() string {
	if s == Allow {
		return "Allow"
	}
	return "Deny"
}

// Limiter counts calls per bucket in a Store. It is safe for concurrent use.
type Limiter struct {
	store      Store
	now        func() time.Time
	retryDelay time.Duration
	logger     *zap.Logger

	mu   sync.RWMutex
	opts Options

	subMu       sync.Mutex
	subscribers map[uuid.UUID]ErrorHandler
}

// New creates a Limiter over store. Options are applied over DefaultOptions.
func New(store Store, options ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	s := &settings{
		opts:       DefaultOptions(),
		now:        time.Now,
		retryDelay: DefaultRetryDelay,
		logger:     log.Logger(),
	}
	for _, opt := range options {
		opt(s)
	}

	l := &Limiter{
		store:       store,
		now:         s.now,
		retryDelay:  s.retryDelay,
		logger:      s.logger,
		opts:        s.opts,
		subscribers: make(map[uuid.UUID]ErrorHandler),
	}
	for _, fn := range s.onError {
		l.Subscribe(fn)
	}
	return l, nil
}

// Store returns the store the limiter counts in.
func (l *Limiter) Store() Store {
	return l.store
}

// Options returns a copy of the current configuration.
func (l *Limiter) Options() Options {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.opts
}

func (l *Limiter) TTL() time.Duration {
	return l.Options().TTL
}

// SetTTL changes the fixed window length for buckets created from now on. Like WithTTL
// it truncates to whole seconds and ignores values under one second.
func (l *Limiter) SetTTL(ttl time.Duration) {
	ttl, ok := wholeSeconds(ttl)
	if !ok {
		return
	}
	l.mu.Lock()
	l.opts.TTL = ttl
	l.mu.Unlock()
}

func (l *Limiter) ExpiredAt() string {
	return l.Options().ExpiredAt
}

// SetExpiredAt changes the daily reset time for buckets created from now on.
func (l *Limiter) SetExpiredAt(at string) {
	l.mu.Lock()
	l.opts.ExpiredAt = at
	l.mu.Unlock()
}

func (l *Limiter) Prefix() string {
	return l.Options().Prefix
}

// SetPrefix changes the key prefix used by subsequent calls.
func (l *Limiter) SetPrefix(prefix string) {
	l.mu.Lock()
	l.opts.Prefix = prefix
	l.mu.Unlock()
}

func (l *Limiter) Max() int64 {
	return l.Options().Max
}

func (l *Limiter) LimitError() error {
	return l.Options().LimitError
}

// ComputeTTL returns the TTL a bucket created now would get.
func (l *Limiter) ComputeTTL() time.Duration {
	return ComputeTTL(l.Options(), l.now())
}

// Exec counts one call against the bucket derived from args with the configured hash.
// See ExecWith.
func (l *Limiter) Exec(ctx context.Context, args ...any) (int64, error) {
	return l.ExecWith(ctx, nil, args...)
}

// ExecWith counts one call against the bucket hash(args...) and returns the new count.
// A nil hash uses the configured one. An empty identifier exempts the call: no store
// access happens and 0 is returned.
//
// If the count exceeds the maximum, the count is returned together with the configured
// limit error; the increment is kept.
func (l *Limiter) ExecWith(ctx context.Context, hash HashFunc, args ...any) (int64, error) {
	id := l.hashOf(hash, args)
	if id == "" {
		return 0, nil
	}

	opts := l.Options()
	key := opts.Prefix + id
	res, err := l.store.Increment(ctx, key, ComputeTTL(opts, l.now()))
	if err != nil {
		l.logger.Error("Failed to increase key", zap.String("key", key), zap.Error(err))
		return 0, err
	}

	if res.ExpireSet {
		l.logger.Debug("Started a new window", zap.String("key", key), zap.Int64("count", res.Count))
	}
	if res.ExpireErr != nil {
		l.logger.Warn("Failed to set an expiration to key, retrying",
			zap.String("key", key), zap.Error(res.ExpireErr))
		l.retryExpire(id, key)
	}

	if res.Count > opts.Max {
		l.logger.Debug("Rate limit exceeded", zap.String("key", key), zap.Int64("count", res.Count))
		return res.Count, opts.LimitError
	}
	return res.Count, nil
}

// retryExpire sets the expiry of key once more after the retry delay. The timer does
// not keep the process alive.
func (l *Limiter) retryExpire(id, key string) {
	time.AfterFunc(l.retryDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), retryTimeout)
		defer cancel()

		err := l.store.Expire(ctx, key, l.ComputeTTL())
		if err == nil {
			return
		}
		l.logger.Error("Failed to set an expiration to key", zap.String("key", key), zap.Error(err))
		l.emit(&Error{Type: ErrTypeExpire, Key: id, StoreKey: key, Err: err})
	})
}

// GetCount returns the current count of the bucket derived from args without changing it.
func (l *Limiter) GetCount(ctx context.Context, args ...any) (int64, error) {
	return l.GetCountWith(ctx, nil, args...)
}

// GetCountWith is GetCount with a per-call hash. Exempt calls return 0.
func (l *Limiter) GetCountWith(ctx context.Context, hash HashFunc, args ...any) (int64, error) {
	id := l.hashOf(hash, args)
	if id == "" {
		return 0, nil
	}
	return l.store.Get(ctx, l.Prefix()+id)
}
