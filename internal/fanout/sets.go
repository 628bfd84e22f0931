// Package fanout implements subscriber tracking and the notification path
// from a finished (or failed) synthesis back to every WebSocket session
// waiting on it: the subscriber set, the per-document pending set, and
// the pubsub bus that forwards status messages to the gateway's
// WebSocket handlers.
package fanout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

// DefaultTrackingTTL is the 10-minute expiry spec.md §4.2 step 6 and §6
// assign to both the subscriber set and the pending set.
const DefaultTrackingTTL = 10 * time.Minute

func subscribersKey(fingerprint string) string { return "tts:subscribers:" + fingerprint }
func pendingKey(userID, documentID string) string {
	return fmt.Sprintf("tts:pending:%s:%s", userID, documentID)
}

// Subscription identifies one (user, document, block) waiting on a
// fingerprint's result.
type Subscription struct {
	UserID      string
	DocumentID  string
	BlockIndex  int
}

func (s Subscription) encode() string {
	return s.UserID + ":" + s.DocumentID + ":" + strconv.Itoa(s.BlockIndex)
}

func decodeSubscription(raw string) (Subscription, error) {
	parts := splitSubscription(raw)
	if len(parts) != 3 {
		return Subscription{}, fmt.Errorf("fanout: malformed subscriber entry %q", raw)
	}
	blockIndex, err := strconv.Atoi(parts[2])
	if err != nil {
		return Subscription{}, fmt.Errorf("fanout: malformed block index in %q: %w", raw, err)
	}
	return Subscription{UserID: parts[0], DocumentID: parts[1], BlockIndex: blockIndex}, nil
}

func splitSubscription(raw string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	parts = append(parts, raw[start:])
	return parts
}

// SubscriberSet tracks who is waiting on a fingerprint's result.
type SubscriberSet struct {
	client redisx.Client
	ttl    time.Duration
}

func NewSubscriberSet(client redisx.Client) *SubscriberSet {
	return &SubscriberSet{client: client, ttl: DefaultTrackingTTL}
}

// Add registers sub as waiting on fingerprint's completion, refreshing
// the set's TTL.
func (s *SubscriberSet) Add(ctx context.Context, fingerprint string, sub Subscription) error {
	key := subscribersKey(fingerprint)
	if err := s.client.SAdd(ctx, key, sub.encode()); err != nil {
		return fmt.Errorf("fanout: add subscriber: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl); err != nil {
		return fmt.Errorf("fanout: refresh subscriber ttl: %w", err)
	}
	return nil
}

// Members returns every subscription currently waiting on fingerprint.
func (s *SubscriberSet) Members(ctx context.Context, fingerprint string) ([]Subscription, error) {
	raw, err := s.client.SMembers(ctx, subscribersKey(fingerprint))
	if err != nil {
		return nil, fmt.Errorf("fanout: list subscribers: %w", err)
	}
	subs := make([]Subscription, 0, len(raw))
	for _, r := range raw {
		sub, err := decodeSubscription(r)
		if err != nil {
			continue // tolerate a malformed legacy entry rather than fail the whole notify
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Clear drops the entire subscriber set for fingerprint, once every
// member has been notified of a terminal status.
func (s *SubscriberSet) Clear(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, subscribersKey(fingerprint)); err != nil {
		return fmt.Errorf("fanout: clear subscribers: %w", err)
	}
	return nil
}

// PendingSet tracks the block indices a user has requested for a
// document, so the Cursor-Window Evictor knows what's in flight.
type PendingSet struct {
	client redisx.Client
	ttl    time.Duration
}

func NewPendingSet(client redisx.Client) *PendingSet {
	return &PendingSet{client: client, ttl: DefaultTrackingTTL}
}

// Add marks blockIndex as pending for (userID, documentID), refreshing TTL.
func (p *PendingSet) Add(ctx context.Context, userID, documentID string, blockIndex int) error {
	key := pendingKey(userID, documentID)
	if err := p.client.SAdd(ctx, key, strconv.Itoa(blockIndex)); err != nil {
		return fmt.Errorf("fanout: add pending block: %w", err)
	}
	if err := p.client.Expire(ctx, key, p.ttl); err != nil {
		return fmt.Errorf("fanout: refresh pending ttl: %w", err)
	}
	return nil
}

// Remove drops blockIndex from the user's pending set for documentID.
func (p *PendingSet) Remove(ctx context.Context, userID, documentID string, blockIndex int) error {
	if err := p.client.SRem(ctx, pendingKey(userID, documentID), strconv.Itoa(blockIndex)); err != nil {
		return fmt.Errorf("fanout: remove pending block: %w", err)
	}
	return nil
}

// Members lists every block index currently pending for the document.
func (p *PendingSet) Members(ctx context.Context, userID, documentID string) ([]int, error) {
	raw, err := p.client.SMembers(ctx, pendingKey(userID, documentID))
	if err != nil {
		return nil, fmt.Errorf("fanout: list pending blocks: %w", err)
	}
	indices := make([]int, 0, len(raw))
	for _, r := range raw {
		idx, err := strconv.Atoi(r)
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// IsPending reports whether blockIndex is still in the user's pending
// set — the check a worker performs before starting expensive synthesis
// (spec.md §4.7's "critical subtlety": a pull racing an eviction becomes
// a no-op `skipped`, not a correctness bug).
func (p *PendingSet) IsPending(ctx context.Context, userID, documentID string, blockIndex int) (bool, error) {
	ok, err := p.client.SIsMember(ctx, pendingKey(userID, documentID), strconv.Itoa(blockIndex))
	if err != nil {
		return false, fmt.Errorf("fanout: check pending block: %w", err)
	}
	return ok, nil
}
