// Package dispatcher turns a "please synthesize this block" request into
// either an immediate cache-hit notification or an enqueued job with its
// subscriber bookkeeping, implementing the algorithm and state machine of
// spec.md §4.2.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
	"github.com/yapit-tts/yapit-sub000/internal/telemetry"
	"github.com/yapit-tts/yapit-sub000/internal/usage"
)

// SynthesisMode distinguishes browser-side synthesis (no server usage
// billed) from server-side synthesis (billed against the usage waterfall).
type SynthesisMode string

const (
	ModeBrowser SynthesisMode = "browser"
	ModeServer  SynthesisMode = "server"
)

// inflightTTL is the in-flight lock expiry: worst-case queue wait plus
// processing plus retries, per spec.md §4.2 step 8's example figure.
const inflightTTL = 200 * time.Second

// ErrQueueingFailed wraps a variant persistence failure that aborts the
// enqueue.
var ErrQueueingFailed = fmt.Errorf("dispatcher: queueing failed")

// Request is the Dispatcher's public contract input, per spec.md §4.2.
type Request struct {
	UserID            string
	DocumentID        string
	BlockIndex        int
	Text              string
	ModelSlug         string
	VoiceSlug         string
	Params            fingerprint.Params
	Codec             string
	SynthesisMode     SynthesisMode
	TrackForWebSocket bool
}

// Status discriminates the three possible dispatch outcomes.
type Status string

const (
	StatusCached Status = "cached"
	StatusQueued Status = "queued"
	StatusError  Status = "error"
)

// Result is the sum type CachedResult | QueuedResult | ErrorResult,
// represented as a flat tagged struct (mirrors the teacher's CloudEvent-
// style envelope) since all three must marshal identically onto the
// WebSocket `status` message.
type Result struct {
	Status      Status
	Fingerprint string
	AudioURL    string
	Error       string
}

// VariantRegistry is the subset of fingerprint.Registry the dispatcher
// depends on.
type VariantRegistry interface {
	Lookup(ctx context.Context, fp string) (*fingerprint.Variant, error)
	VariantOf(ctx context.Context, text, modelID, voiceID string, params fingerprint.Params, codec string) (*fingerprint.Variant, error)
}

// CacheChecker is the subset of cache.Cache the dispatcher depends on.
type CacheChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// UsageChecker is the subset of usage.Ledger the dispatcher depends on.
type UsageChecker interface {
	CheckLimit(ctx context.Context, userID string, amount int64) error
}

// Dispatcher implements spec.md §4.2's RequestSynthesis algorithm.
type Dispatcher struct {
	registry VariantRegistry
	cache    CacheChecker
	ledger   UsageChecker
	queue    queue.Queue
	bus      *fanout.Bus
	emitter  events.Publisher
	redis    redisx.Client
	catalog  Catalog
	metrics  *telemetry.Metrics
}

func New(registry VariantRegistry, cache CacheChecker, ledger UsageChecker, q queue.Queue, bus *fanout.Bus, emitter events.Publisher, redis redisx.Client, catalog Catalog) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		cache:    cache,
		ledger:   ledger,
		queue:    q,
		bus:      bus,
		emitter:  emitter,
		redis:    redis,
		catalog:  catalog,
	}
}

// SetMetrics wires a Prometheus metrics sink. Optional — RequestSynthesis
// is nil-safe without it, so existing callers/tests are unaffected.
func (d *Dispatcher) SetMetrics(m *telemetry.Metrics) { d.metrics = m }

func inflightKey(fp string) string { return "tts:inflight:" + fp }

// RequestSynthesis implements spec.md §4.2's ten-step algorithm.
func (d *Dispatcher) RequestSynthesis(ctx context.Context, req Request) (Result, error) {
	model, err := d.catalog.Lookup(req.ModelSlug)
	if err != nil {
		return Result{Status: StatusError, Error: err.Error()}, nil
	}

	// Step 1: compute fingerprint via the registry.
	fp := fingerprint.Compute(req.Text, req.ModelSlug, req.VoiceSlug, req.Params, req.Codec)

	// Step 2/3: look up variant; look up cache by fingerprint.
	variant, err := d.registry.Lookup(ctx, fp)
	if err != nil {
		return Result{}, fmt.Errorf("dispatcher: lookup variant: %w", err)
	}
	if variant != nil && variant.HasCacheRef() {
		hit, err := d.cache.Exists(ctx, *variant.CacheRef)
		if err != nil {
			return Result{}, fmt.Errorf("dispatcher: check cache: %w", err)
		}
		if hit {
			if d.emitter != nil {
				_ = d.emitter.Publish(fp, events.New(events.TypeCacheHit, fp, map[string]interface{}{
					"user_id": req.UserID,
				}))
			}
			if d.metrics != nil {
				d.metrics.CacheHits.WithLabelValues(req.ModelSlug).Inc()
			}
			return Result{Status: StatusCached, Fingerprint: fp, AudioURL: "/v1/audio/" + fp}, nil
		}
	}

	// Step 4: usage pre-flight check, server mode only.
	if req.SynthesisMode == ModeServer {
		amount := int64(float64(len(req.Text)) * model.UsageMultiplier)
		if err := d.ledger.CheckLimit(ctx, req.UserID, amount); err != nil {
			if err == usage.ErrUsageLimitExceeded {
				return Result{Status: StatusError, Fingerprint: fp, Error: "usage limit exceeded"}, nil
			}
			return Result{}, fmt.Errorf("dispatcher: check usage limit: %w", err)
		}
	}

	// Step 5: ensure the variant row exists.
	if variant == nil {
		variant, err = d.registry.VariantOf(ctx, req.Text, req.ModelSlug, req.VoiceSlug, req.Params, req.Codec)
		if err != nil {
			return Result{}, fmt.Errorf("%w: ensure variant: %w", ErrQueueingFailed, err)
		}
	}

	// Step 6: subscriber/pending bookkeeping, WebSocket tracking only.
	if req.TrackForWebSocket {
		sub := fanout.Subscription{UserID: req.UserID, DocumentID: req.DocumentID, BlockIndex: req.BlockIndex}
		if err := d.bus.Subscribers().Add(ctx, fp, sub); err != nil {
			return Result{}, fmt.Errorf("dispatcher: add subscriber: %w", err)
		}
		if err := d.bus.Pending().Add(ctx, req.UserID, req.DocumentID, req.BlockIndex); err != nil {
			return Result{}, fmt.Errorf("dispatcher: add pending: %w", err)
		}
	}

	// Step 7/8: deduplication gate via the in-flight lock.
	acquired, err := d.redis.SetNX(ctx, inflightKey(fp), req.UserID, inflightTTL)
	if err != nil {
		return Result{}, fmt.Errorf("dispatcher: acquire inflight lock: %w", err)
	}
	if !acquired {
		// Someone else is already working this fingerprint; our subscriber
		// entry (step 6) will be notified when they finish.
		return Result{Status: StatusQueued, Fingerprint: fp}, nil
	}

	// Step 9: construct and push the job.
	job := &queue.Job{
		JobID:       uuid.NewString(),
		Fingerprint: fp,
		UserID:      req.UserID,
		DocumentID:  req.DocumentID,
		BlockIndex:  req.BlockIndex,
		ModelSlug:   req.ModelSlug,
		VoiceSlug:   req.VoiceSlug,
		Parameters:  req.Params,
		Text:        req.Text,
		Codec:       req.Codec,
		RetryCount:  0,
		QueuedAt:    queue.NowScore(),
		Tracked:     req.TrackForWebSocket,
	}
	if err := d.queue.Push(ctx, job); err != nil {
		_ = d.redis.Del(ctx, inflightKey(fp))
		return Result{}, fmt.Errorf("dispatcher: push job: %w", err)
	}

	// Step 10: emit synthesis_queued with current queue depth.
	if d.emitter != nil || d.metrics != nil {
		depth, depthErr := d.queue.QueueDepth(ctx, req.ModelSlug)
		if d.emitter != nil {
			data := map[string]interface{}{"user_id": req.UserID, "job_id": job.JobID}
			if depthErr == nil {
				data["queue_depth"] = depth
			}
			_ = d.emitter.Publish(fp, events.New(events.TypeQueued, fp, data))
		}
		if d.metrics != nil {
			d.metrics.SynthesisQueued.WithLabelValues(req.ModelSlug).Inc()
			if depthErr == nil {
				d.metrics.QueueDepth.WithLabelValues(req.ModelSlug).Set(float64(depth))
			}
		}
	}

	return Result{Status: StatusQueued, Fingerprint: fp}, nil
}
