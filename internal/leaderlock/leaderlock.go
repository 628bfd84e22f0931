// Package leaderlock elects a single leader among gateway replicas for
// long-running singletons (the Visibility Scanner, a billing-sync loop)
// using a Redis SET NX EX lock whose TTL equals the scan interval — the
// same single-writer primitive the teacher reaches for in internal/state.
package leaderlock

import (
	"context"
	"fmt"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

const keyPrefix = "tts:leader:"

// Lock guards one named singleton loop.
type Lock struct {
	client   redisx.Client
	name     string
	holderID string
	ttl      time.Duration
}

// New builds a Lock for a named singleton. holderID should be unique per
// process (e.g. hostname+pid): Renew and Release compare it with the
// stored value before refreshing or deleting the key.
func New(client redisx.Client, name, holderID string, ttl time.Duration) *Lock {
	return &Lock{client: client, name: name, holderID: holderID, ttl: ttl}
}

func (l *Lock) key() string { return keyPrefix + l.name }

// TryAcquire attempts to become leader. Returns true if this process now
// holds the lock.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(), l.holderID, l.ttl)
	if err != nil {
		return false, fmt.Errorf("leaderlock: acquire %s: %w", l.name, err)
	}
	return ok, nil
}

// Renew refreshes the TTL. Run calls it on every tick while this process
// believes it is leader, and stops running the singleton if a renewal
// fails — the lock may have expired and another replica may have already
// taken over. If the key has expired and nobody else has taken it, Renew
// acquires it again.
func (l *Lock) Renew(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key(), l.holderID, l.ttl)
	if err != nil {
		return fmt.Errorf("leaderlock: renew %s: %w", l.name, err)
	}
	if !ok {
		// SetNX also fails while this process still holds the key, so
		// compare the stored holder with ours and refresh the TTL only if
		// it is ours.
		current, getErr := l.client.Get(ctx, l.key())
		if getErr == nil && current == l.holderID {
			return l.client.Expire(ctx, l.key(), l.ttl)
		}
		return fmt.Errorf("leaderlock: %s held by another replica", l.name)
	}
	return nil
}

// Release gives up leadership early (e.g. on graceful shutdown).
func (l *Lock) Release(ctx context.Context) error {
	current, err := l.client.Get(ctx, l.key())
	if err == redisx.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leaderlock: release %s: %w", l.name, err)
	}
	if current != l.holderID {
		// Already expired and re-acquired by someone else; nothing to do.
		return nil
	}
	return l.client.Del(ctx, l.key())
}

// Run calls fn repeatedly on interval while this process holds the lock,
// attempting to acquire or renew leadership on every tick. It blocks until
// ctx is canceled. This is the entry point the Visibility Scanner and
// other singletons use.
func Run(ctx context.Context, lock *Lock, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	isLeader := false
	for {
		select {
		case <-ctx.Done():
			if isLeader {
				_ = lock.Release(context.Background())
			}
			return
		case <-ticker.C:
			if !isLeader {
				acquired, err := lock.TryAcquire(ctx)
				if err != nil || !acquired {
					continue
				}
				isLeader = true
			} else {
				if err := lock.Renew(ctx); err != nil {
					isLeader = false
					continue
				}
			}
			fn(ctx)
		}
	}
}
