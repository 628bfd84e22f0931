package consumer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
	"github.com/yapit-tts/yapit-sub000/internal/telemetry"
	"github.com/yapit-tts/yapit-sub000/internal/usage"
)

// CacheWriter is the subset of cache.Cache the consumer depends on.
type CacheWriter interface {
	Store(ctx context.Context, key string, data []byte) error
}

// VariantUpdater is the subset of fingerprint.Registry the consumer
// depends on.
type VariantUpdater interface {
	MarkSynthesized(ctx context.Context, fp, cacheRef string, durationMs int64) error
}

// UsageConsumer is the subset of usage.Ledger the consumer depends on.
type UsageConsumer interface {
	Consume(ctx context.Context, userID string, amount int64) (usage.ConsumeBreakdown, error)
}

// Consumer drains the shared results list and finalizes each synthesis
// attempt per spec.md §4.5.
type Consumer struct {
	redis   redisx.Client
	cache   CacheWriter
	variant VariantUpdater
	ledger  UsageConsumer
	bus     *fanout.Bus
	emitter events.Publisher
	q       queue.Queue
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func New(redis redisx.Client, cache CacheWriter, variant VariantUpdater, ledger UsageConsumer, bus *fanout.Bus, emitter events.Publisher, q queue.Queue, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{redis: redis, cache: cache, variant: variant, ledger: ledger, bus: bus, emitter: emitter, q: q, logger: logger}
}

// SetMetrics wires a Prometheus metrics sink. Optional — Process is
// nil-safe without it.
func (c *Consumer) SetMetrics(m *telemetry.Metrics) { c.metrics = m }

// Run blocks on the results list (BRPOP) and processes results until ctx
// is canceled. ErrTimeout/empty waits are swallowed so the loop keeps
// polling — this is the long-running background task the gateway process
// runs per spec.md §5.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, payload, err := c.redis.BRPop(ctx, ResultsBlockTimeout, ResultsKey)
		if err == redisx.ErrTimeout {
			continue
		}
		if err != nil {
			return fmt.Errorf("consumer: brpop results: %w", err)
		}

		result, err := UnmarshalResult([]byte(payload))
		if err != nil {
			c.logger.Error("consumer: malformed result payload", "error", err)
			continue
		}
		if err := c.Process(ctx, result); err != nil {
			c.logger.Error("consumer: process result failed",
				"job_id", result.JobID, "fingerprint", result.Fingerprint,
				"user_id", result.UserID, "error", err)
		}
	}
}

// Process runs the 8-step finalization algorithm for a single result.
func (c *Consumer) Process(ctx context.Context, result *WorkerResult) error {
	logger := c.logger.With("fingerprint", result.Fingerprint, "user_id", result.UserID, "job_id", result.JobID)

	// Step 1: worker-reported error.
	if result.Error != "" {
		logger.Warn("consumer: synthesis error", "error", result.Error)
		if c.metrics != nil {
			c.metrics.SynthesisErrors.WithLabelValues(result.ModelSlug, "worker_error").Inc()
		}
		if err := c.notifyTerminal(ctx, result, "error", "", result.Error); err != nil {
			return err
		}
		if c.emitter != nil {
			_ = c.emitter.Publish(result.Fingerprint, events.New(events.TypeError, result.Fingerprint, map[string]interface{}{
				"user_id": result.UserID, "error": result.Error,
			}))
		}
		return c.clearInflight(ctx, result.Fingerprint)
	}

	// Step 2: worker produced nothing (eviction-race skip, per §4.7).
	if result.AudioBase64 == "" {
		logger.Info("consumer: skipped, no audio produced")
		if err := c.notifyTerminal(ctx, result, "skipped", "", ""); err != nil {
			return err
		}
		return c.clearInflight(ctx, result.Fingerprint)
	}

	// Step 3: write bytes to the cache under the fingerprint.
	audioBytes, err := decodeAudio(result.AudioBase64)
	if err != nil {
		return fmt.Errorf("consumer: decode audio: %w", err)
	}
	cacheRef := result.Fingerprint
	if err := c.cache.Store(ctx, cacheRef, audioBytes); err != nil {
		// Cache write failure is fatal to this result; requeue with an
		// incremented retry rather than silently drop it.
		return c.requeueOnCacheFailure(ctx, result, err)
	}

	// Step 4: update the variant row.
	if err := c.variant.MarkSynthesized(ctx, result.Fingerprint, cacheRef, result.DurationMs); err != nil {
		logger.Error("consumer: mark synthesized failed", "error", err)
		// Fatal to this step only; billing below still proceeds per the
		// spec's explicit no-two-phase-commit design (§4.5 note).
	}

	// Step 5: usage waterfall.
	amount := int64(float64(result.TextLength) * result.UsageMultiplier)
	if breakdown, err := c.ledger.Consume(ctx, result.UserID, amount); err != nil {
		logger.Error("consumer: usage consume failed, billing skipped for this result", "error", err)
		// Per §4.5: acceptable because a subsequent identical request
		// will cache-hit without billing, reconciled out of band.
	} else if c.metrics != nil {
		c.metrics.UsageConsumed.WithLabelValues("subscription").Add(float64(breakdown.FromSubscription))
		c.metrics.UsageConsumed.WithLabelValues("rollover").Add(float64(breakdown.FromRollover))
		c.metrics.UsageConsumed.WithLabelValues("purchased").Add(float64(breakdown.FromPurchased))
		c.metrics.UsageConsumed.WithLabelValues("debt").Add(float64(breakdown.OverflowToDebt))
	}

	// Step 6: synthesis_complete event.
	if c.emitter != nil {
		_ = c.emitter.Publish(result.Fingerprint, events.New(events.TypeComplete, result.Fingerprint, map[string]interface{}{
			"user_id":            result.UserID,
			"worker_latency_ms":  result.ProcessingTimeMs,
			"queue_wait_ms":      result.QueueWaitMs,
			"duration_ms":        result.DurationMs,
		}))
	}
	if c.metrics != nil {
		c.metrics.WorkerLatency.WithLabelValues(result.ModelSlug).Observe(float64(result.ProcessingTimeMs) / 1000)
		c.metrics.QueueWaitTime.WithLabelValues(result.ModelSlug).Observe(float64(result.QueueWaitMs) / 1000)
	}

	// Step 7/8: notify subscribers with the audio URL, clear pending
	// entries, clear subscriber set, clear in-flight lock.
	audioURL := "/v1/audio/" + result.Fingerprint
	if err := c.notifyTerminal(ctx, result, "cached", audioURL, ""); err != nil {
		return err
	}
	return c.clearInflight(ctx, result.Fingerprint)
}

// notifyTerminal publishes status to every subscriber of the fingerprint
// and removes each notified block from its user's pending-set, then
// clears the subscriber set (steps 1/2/7/8's shared notify-and-clear
// shape).
func (c *Consumer) notifyTerminal(ctx context.Context, result *WorkerResult, status, audioURL, errMsg string) error {
	var audioURLPtr, errPtr *string
	if audioURL != "" {
		audioURLPtr = &audioURL
	}
	if errMsg != "" {
		errPtr = &errMsg
	}

	subs, err := c.bus.Subscribers().Members(ctx, result.Fingerprint)
	if err != nil {
		return fmt.Errorf("consumer: list subscribers: %w", err)
	}
	for _, sub := range subs {
		msg := fanout.StatusMessage{
			Type:       "status",
			DocumentID: sub.DocumentID,
			BlockIdx:   sub.BlockIndex,
			Status:     status,
			AudioURL:   audioURLPtr,
			Error:      errPtr,
			ModelSlug:  &result.ModelSlug,
			VoiceSlug:  &result.VoiceSlug,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := c.bus.Publish(ctx, sub.UserID, sub.DocumentID, payload); err != nil {
			continue
		}
		_ = c.bus.Pending().Remove(ctx, sub.UserID, sub.DocumentID, sub.BlockIndex)
	}
	return c.bus.Subscribers().Clear(ctx, result.Fingerprint)
}

func (c *Consumer) clearInflight(ctx context.Context, fingerprint string) error {
	if err := c.redis.Del(ctx, "tts:inflight:"+fingerprint); err != nil {
		return fmt.Errorf("consumer: clear inflight lock: %w", err)
	}
	return nil
}

// requeueOnCacheFailure reconstructs a Job from the result's fields and
// requeues it with retry_count+1, per §4.5 step 3's "raise to dead-letter
// by re-enqueuing" instruction — the visibility scanner's retry-exhaustion
// path takes it the rest of the way to the DLQ if it keeps failing.
func (c *Consumer) requeueOnCacheFailure(ctx context.Context, result *WorkerResult, cacheErr error) error {
	job := &queue.Job{
		JobID:       result.JobID,
		Fingerprint: result.Fingerprint,
		UserID:      result.UserID,
		DocumentID:  result.DocumentID,
		BlockIndex:  result.BlockIdx,
		ModelSlug:   result.ModelSlug,
		VoiceSlug:   result.VoiceSlug,
		Text:        result.Text,
		Codec:       result.Codec,
		Parameters:  result.Parameters,
		RetryCount:  result.RetryCount,
		QueuedAt:    queue.NowScore(),
		Tracked:     result.Tracked,
	}
	if err := c.q.Requeue(ctx, job, result.RetryCount+1); err != nil {
		return fmt.Errorf("consumer: requeue after cache write failure (%v): %w", cacheErr, err)
	}
	return nil
}

func decodeAudio(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
