package ratelimiter

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTTL        = 60 * time.Second
	DefaultMax        = 10
	DefaultPrefix     = "super-limiter-"
	DefaultRetryDelay = 300 * time.Millisecond
)

// ErrLimitExceeded is the default error returned by Exec once a bucket is over its maximum.
var ErrLimitExceeded = errors.New("exceeded the limit frequency")

// Options is the limiter configuration. TTL, ExpiredAt and Prefix may be changed after
// construction through the Limiter setters; the rest is fixed.
type Options struct {
	// TTL is the window length used when ExpiredAt is not set.
	TTL time.Duration
	// Max is the largest count a bucket may reach within one window.
	Max int64
	// ExpiredAt resets every bucket daily at the given "HH:MM" local time.
	ExpiredAt string
	// Hash maps call arguments to a bucket identifier. An empty result exempts the call.
	Hash HashFunc
	// Prefix is prepended to every bucket identifier to form the store key.
	Prefix string
	// LimitError is returned by Exec when the count exceeds Max.
	LimitError error
}

// DefaultOptions returns the configuration New starts from.
func DefaultOptions() Options {
	return Options{
		TTL:        DefaultTTL,
		Max:        DefaultMax,
		Hash:       Identity,
		Prefix:     DefaultPrefix,
		LimitError: ErrLimitExceeded,
	}
}

type settings struct {
	opts       Options
	now        func() time.Time
	retryDelay time.Duration
	logger     *zap.Logger
	onError    []ErrorHandler
}

// Option configures a Limiter.
type Option func(*settings)

// WithTTL sets the fixed window length. Windows are whole seconds: ttl is truncated and
// values under one second are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl, ok := wholeSeconds(ttl); ok {
			s.opts.TTL = ttl
		}
	}
}

func wholeSeconds(ttl time.Duration) (time.Duration, bool) {
	ttl = ttl.Truncate(time.Second)
	return ttl, ttl > 0
}

// WithMax sets the maximum count allowed per window.
func WithMax(max int64) Option {
	return func(s *settings) {
		s.opts.Max = max
	}
}

// WithExpiredAt resets buckets every day at the given "HH:MM".
func WithExpiredAt(at string) Option {
	return func(s *settings) {
		s.opts.ExpiredAt = at
	}
}

// WithHash sets the function deriving a bucket identifier from call arguments.
func WithHash(f HashFunc) Option {
	return func(s *settings) {
		if f != nil {
			s.opts.Hash = f
		}
	}
}

// WithPrefix sets the store key prefix. An empty prefix is allowed.
func WithPrefix(prefix string) Option {
	return func(s *settings) {
		s.opts.Prefix = prefix
	}
}

// WithLimitError sets the error returned when a bucket exceeds its maximum.
func WithLimitError(err error) Option {
	return func(s *settings) {
		if err != nil {
			s.opts.LimitError = err
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryDelay sets how long to wait before retrying a failed expiry.
func WithRetryDelay(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

// WithLogger sets the logger. The shared process logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorHandler subscribes fn to recovery errors for the lifetime of the limiter.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(s *settings) {
		if fn != nil {
			s.onError = append(s.onError, fn)
		}
	}
}
