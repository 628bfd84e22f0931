package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

const reservationKeyPrefix = "reservations:"

// DefaultReservationTTL matches spec.md §6's 48h TTL for the
// content_hash → estimated_tokens hash.
const DefaultReservationTTL = 48 * time.Hour

// Reservations tracks per-user, per-content-hash token estimates for
// in-progress extraction jobs. A reservation only reduces available
// balance in CheckLimit's pre-flight math; it never itself bills —
// per-page or per-block billing does the actual ledger mutation via
// Ledger.Consume (§3 invariant 8).
type Reservations struct {
	client  redisx.Client
	ttl     time.Duration
	encoder *tiktoken.Tiktoken
}

// NewReservations builds a Reservations tracker. The cl100k_base encoding
// is used purely to produce a conservative over-estimate of synthesis
// character cost ahead of actual billing — never to compute the amount
// a waterfall Consume call debits, which always stays a character count
// per spec.md §4.5/§4.9.
func NewReservations(client redisx.Client, ttl time.Duration) (*Reservations, error) {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("usage: load tiktoken encoding: %w", err)
	}
	return &Reservations{client: client, ttl: ttl, encoder: enc}, nil
}

func key(userID string) string { return reservationKeyPrefix + userID }

// EstimateTokens returns a conservative token-count estimate for text —
// intentionally an over-estimate relative to the character-based billing
// that eventually occurs, since "estimates are large; actual billing per
// finished page is smaller" (spec.md §4.9).
func (r *Reservations) EstimateTokens(text string) int64 {
	return int64(len(r.encoder.Encode(text, nil, nil)))
}

// Reserve records an estimate for contentHash under userID, refreshing
// the hash's TTL.
func (r *Reservations) Reserve(ctx context.Context, userID, contentHash string, estimatedTokens int64) error {
	k := key(userID)
	if err := r.client.HSet(ctx, k, contentHash, estimatedTokens); err != nil {
		return fmt.Errorf("usage: reserve %s/%s: %w", userID, contentHash, err)
	}
	return r.client.Expire(ctx, k, r.ttl)
}

// Release removes a reservation once extraction finishes, in any terminal
// state (success, partial, cancel) — per-page billing has already
// occurred via Ledger.Consume by the time this runs.
func (r *Reservations) Release(ctx context.Context, userID, contentHash string) error {
	if err := r.client.HDel(ctx, key(userID), contentHash); err != nil {
		return fmt.Errorf("usage: release %s/%s: %w", userID, contentHash, err)
	}
	return nil
}

// Sum returns the total outstanding reservation for a user, consumed by
// Ledger.CheckLimit's pre-flight math.
func (r *Reservations) Sum(ctx context.Context, userID string) (int64, error) {
	entries, err := r.client.HGetAll(ctx, key(userID))
	if err != nil {
		return 0, fmt.Errorf("usage: sum reservations %s: %w", userID, err)
	}
	var total int64
	for _, v := range entries {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			total += n
		}
	}
	return total, nil
}

// RedisReservationStore adapts Reservations.Sum to the usage.Store
// interface's PendingReservationsSum method, so Ledger can be constructed
// from a Postgres PoolState store plus a Redis-backed Reservations
// tracker without either depending on the other's concrete type.
type RedisReservationStore struct {
	Inner        Store
	Reservations *Reservations
}

func (s *RedisReservationStore) Get(ctx context.Context, userID string) (*PoolState, error) {
	return s.Inner.Get(ctx, userID)
}

func (s *RedisReservationStore) Save(ctx context.Context, p *PoolState) error {
	return s.Inner.Save(ctx, p)
}

func (s *RedisReservationStore) PendingReservationsSum(ctx context.Context, userID string) (int64, error) {
	return s.Reservations.Sum(ctx, userID)
}

var _ Store = (*RedisReservationStore)(nil)
