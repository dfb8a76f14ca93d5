package ratelimiter

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxTTLLookups bounds concurrent TTL requests issued by KeysWithTTL.
const maxTTLLookups = 10

// KeyTTL is a bucket identifier and its remaining lifetime.
type KeyTTL struct {
	Key string
	TTL time.Duration
}

// Keys lists the identifiers of all live buckets under the current prefix.
// The order is whatever the store enumerates.
func (l *Limiter) Keys(ctx context.Context) ([]string, error) {
	prefix := l.Prefix()
	keys, err := l.store.Keys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, prefix))
	}
	return ids, nil
}

// KeysWithTTL is Keys plus the remaining TTL of every bucket. Buckets that expire
// while being listed are left out.
func (l *Limiter) KeysWithTTL(ctx context.Context) ([]KeyTTL, error) {
	prefix := l.Prefix()
	keys, err := l.store.Keys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result = make([]KeyTTL, 0, len(keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTTLLookups)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			ttl, err := l.store.TTL(gctx, k)
			if err != nil {
				return err
			}
			if ttl == KeyNotFound {
				return nil
			}
			mu.Lock()
			result = append(result, KeyTTL{Key: strings.TrimPrefix(k, prefix), TTL: ttl})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
