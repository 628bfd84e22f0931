// Package usage implements the per-user quota waterfall (subscription →
// rollover → purchased → debt) and the reservation mechanism that
// prevents concurrent extraction jobs from over-submitting against a
// balance that hasn't been billed yet. All pool arithmetic is fixed-width
// int64 character counts — never floats — per spec.md §9's explicit
// ledger guidance.
package usage

import (
	"context"
	"fmt"
)

// MaxRolloverTokens caps how much rollover can be carried forward in
// credit (debt itself is unbounded negative, per spec.md §3).
const MaxRolloverTokens int64 = 10_000_000

// PoolState is the durable per-user quota ledger.
type PoolState struct {
	UserID                       string
	PlanLimit                    int64
	SubscriptionUsedThisPeriod   int64
	RolloverTokens               int64 // may be negative (debt)
	PurchasedTokens              int64
	FreePlan                     bool // free/past-due/canceled users: all paid limits zero
}

// SubscriptionRemaining is the unconsumed portion of this period's plan
// limit; never negative.
func (p *PoolState) SubscriptionRemaining() int64 {
	r := p.PlanLimit - p.SubscriptionUsedThisPeriod
	if r < 0 {
		return 0
	}
	return r
}

// ConsumeBreakdown records how a single consume() call was satisfied
// across pools, for the audit log.
type ConsumeBreakdown struct {
	FromSubscription int64
	FromRollover     int64
	FromPurchased    int64
	OverflowToDebt   int64
}

// Total returns the sum of all four components, which must equal the
// requested amount for every call (§8 testable property).
func (b ConsumeBreakdown) Total() int64 {
	return b.FromSubscription + b.FromRollover + b.FromPurchased + b.OverflowToDebt
}

// ErrUsageLimitExceeded is returned by CheckLimit when available balance
// is insufficient for the requested amount.
var ErrUsageLimitExceeded = fmt.Errorf("usage: limit exceeded")

// Store persists PoolState and reservation sums. Implemented by
// internal/store.UsageStore against Postgres, under a row-level lock so
// concurrent consumers for the same user serialize (§5 shared-resource
// policy).
type Store interface {
	Get(ctx context.Context, userID string) (*PoolState, error)
	Save(ctx context.Context, p *PoolState) error
	PendingReservationsSum(ctx context.Context, userID string) (int64, error)
}

// Ledger is the usage waterfall engine.
type Ledger struct {
	store Store
}

// NewLedger builds a Ledger backed by store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// CheckLimit is the pre-flight check: available = plan_limit -
// subscription_used + max(rollover, 0) + purchased - pending_reservations_sum.
// Fails with ErrUsageLimitExceeded if available < amount.
func (l *Ledger) CheckLimit(ctx context.Context, userID string, amount int64) error {
	p, err := l.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("usage: check_limit load pool: %w", err)
	}
	if p.FreePlan {
		return fmt.Errorf("%w: free plan has no paid synthesis quota", ErrUsageLimitExceeded)
	}

	pending, err := l.store.PendingReservationsSum(ctx, userID)
	if err != nil {
		return fmt.Errorf("usage: check_limit load reservations: %w", err)
	}

	rolloverCredit := p.RolloverTokens
	if rolloverCredit < 0 {
		rolloverCredit = 0
	}

	available := p.PlanLimit - p.SubscriptionUsedThisPeriod + rolloverCredit + p.PurchasedTokens - pending
	if available < amount {
		return fmt.Errorf("%w: available=%d amount=%d", ErrUsageLimitExceeded, available, amount)
	}
	return nil
}

// Consume drains amount through the waterfall: subscription first, then
// rollover (only while it's non-negative), then purchased, and only then
// accumulates debt by driving rollover negative. Returns the breakdown
// for the audit log.
func (l *Ledger) Consume(ctx context.Context, userID string, amount int64) (ConsumeBreakdown, error) {
	if amount < 0 {
		return ConsumeBreakdown{}, fmt.Errorf("usage: consume amount must be non-negative, got %d", amount)
	}

	p, err := l.store.Get(ctx, userID)
	if err != nil {
		return ConsumeBreakdown{}, fmt.Errorf("usage: consume load pool: %w", err)
	}

	breakdown := consumeWaterfall(p, amount)

	if err := l.store.Save(ctx, p); err != nil {
		return ConsumeBreakdown{}, fmt.Errorf("usage: consume save pool: %w", err)
	}
	return breakdown, nil
}

// consumeWaterfall mutates p in place per the four-step algorithm of
// spec.md §4.9 and returns the breakdown.
func consumeWaterfall(p *PoolState, amount int64) ConsumeBreakdown {
	remaining := amount
	var b ConsumeBreakdown

	// a. subscription
	subAvailable := p.PlanLimit - p.SubscriptionUsedThisPeriod
	if subAvailable < 0 {
		subAvailable = 0
	}
	fromSub := min64(remaining, subAvailable)
	p.SubscriptionUsedThisPeriod += fromSub
	b.FromSubscription = fromSub
	remaining -= fromSub

	// b. rollover, only while positive
	if remaining > 0 && p.RolloverTokens > 0 {
		fromRollover := min64(remaining, p.RolloverTokens)
		p.RolloverTokens -= fromRollover
		b.FromRollover = fromRollover
		remaining -= fromRollover
	}

	// c. purchased
	if remaining > 0 && p.PurchasedTokens > 0 {
		fromPurchased := min64(remaining, p.PurchasedTokens)
		p.PurchasedTokens -= fromPurchased
		b.FromPurchased = fromPurchased
		remaining -= fromPurchased
	}

	// d. overflow to debt: drives rollover negative
	if remaining > 0 {
		p.RolloverTokens -= remaining
		b.OverflowToDebt = remaining
		remaining = 0
	}

	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
