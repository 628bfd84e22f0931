// Package ratelimit enforces the per-user synthesize quota (spec: 300
// requests/minute). A local golang.org/x/time/rate.Limiter per user sheds
// obviously-abusive traffic without a Redis round trip; requests that
// clear the local bucket are still counted against a Redis counter
// (ratelimit:tts:{user}, TTL 60s) so the limit holds across every
// gateway replica, not just the one instance that happens to hold a
// user's WebSocket connection.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

const (
	keyPrefix = "ratelimit:tts:"
	window    = time.Minute
)

// Limiter enforces a per-user request budget over a fixed one-minute
// window that starts at the user's first request in it.
type Limiter struct {
	redis redisx.Client
	limit int

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// New builds a Limiter allowing up to limit requests per user per
// minute. limit is also used to size each user's local token bucket
// (burst equal to limit, refill rate limit/minute). The bucket refills
// gradually while the Redis window resets all at once, so just after a
// reset the fast path can reject a request the Redis counter would allow.
func New(redis redisx.Client, limit int) *Limiter {
	return &Limiter{
		redis: redis,
		limit: limit,
		local: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) localLimiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.local[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(l.limit)), l.limit)
		l.local[userID] = lim
	}
	return lim
}

// Allow reports whether userID may proceed with a synthesize request,
// consuming one unit of quota if so. The local bucket is consulted
// first; a local rejection short-circuits before touching Redis. A
// request that clears the local bucket still increments the shared
// Redis counter, since the local bucket alone can't be trusted across
// replicas.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	if !l.localLimiter(userID).Allow() {
		return false, nil
	}

	key := keyPrefix + userID
	count, err := l.redis.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window); err != nil {
			return false, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}
	return count <= int64(l.limit), nil
}
