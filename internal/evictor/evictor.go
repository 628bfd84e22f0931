// Package evictor implements the Cursor-Window Evictor (spec.md §4.7): a
// user's cursor_moved message narrows the set of blocks still worth
// synthesizing to a window around the cursor, and anything pending
// outside it gets pulled out of the queue before a worker ever touches it.
package evictor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/telemetry"
)

// Evictor applies the cursor window to a user's pending blocks.
type Evictor struct {
	q            queue.Queue
	pending      *fanout.PendingSet
	bus          *fanout.Bus
	emitter      events.Publisher
	bufferBehind int
	bufferAhead  int
	metrics      *telemetry.Metrics
}

// New builds an Evictor. bufferBehind/bufferAhead are BUFFER_BEHIND and
// BUFFER_AHEAD from spec.md §4.7.
func New(q queue.Queue, bus *fanout.Bus, emitter events.Publisher, bufferBehind, bufferAhead int) *Evictor {
	return &Evictor{
		q: q, pending: bus.Pending(), bus: bus, emitter: emitter,
		bufferBehind: bufferBehind, bufferAhead: bufferAhead,
	}
}

// SetMetrics wires a Prometheus metrics sink. Optional — CursorMoved is
// nil-safe without it.
func (e *Evictor) SetMetrics(m *telemetry.Metrics) { e.metrics = m }

// CursorMoved implements the four-step algorithm of spec.md §4.7 for one
// cursor_moved message.
func (e *Evictor) CursorMoved(ctx context.Context, userID, documentID string, cursor int) error {
	windowStart := cursor - e.bufferBehind
	windowEnd := cursor + e.bufferAhead

	pendingBlocks, err := e.pending.Members(ctx, userID, documentID)
	if err != nil {
		return fmt.Errorf("evictor: list pending blocks: %w", err)
	}

	var evicted []int
	for _, block := range pendingBlocks {
		if block >= windowStart && block <= windowEnd {
			continue
		}

		if err := e.pending.Remove(ctx, userID, documentID, block); err != nil {
			return fmt.Errorf("evictor: remove pending block %d: %w", block, err)
		}

		indexKey := queue.IndexKey(userID, documentID, block)
		job, err := e.q.EvictByIndex(ctx, indexKey)
		if err != nil {
			return fmt.Errorf("evictor: evict block %d: %w", block, err)
		}
		if job == nil {
			// Already pulled by a worker, or never queued (a cache hit
			// was served directly) — nothing left to remove.
			continue
		}
		evicted = append(evicted, block)
	}

	if len(evicted) == 0 {
		return nil
	}

	if e.metrics != nil {
		e.metrics.EvictionsTotal.WithLabelValues("cursor_window").Add(float64(len(evicted)))
	}

	if e.emitter != nil {
		_ = e.emitter.Publish(documentID, events.New(events.TypeEvicted, documentID, map[string]interface{}{
			"user_id":       userID,
			"window_start":  windowStart,
			"window_end":    windowEnd,
			"block_indices": evicted,
		}))
	}

	msg := fanout.EvictedMessage{Type: "evicted", DocumentID: documentID, BlockIndices: evicted}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("evictor: marshal evicted message: %w", err)
	}
	return e.bus.Publish(ctx, userID, documentID, payload)
}
