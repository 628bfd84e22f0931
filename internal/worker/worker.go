// Package worker implements the Pull-Worker Contract of spec.md §4.4: a
// process-agnostic loop that pulls a job, records it to a processing set
// (when the adapter tracks one), hands it to a SynthAdapter, and posts a
// WorkerResult back onto the shared results list. Concrete adapters
// (local, api, serverless) live under worker/adapters and differ only in
// how Synthesize is implemented and whether processing-set tracking is
// worth the cost.
package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/consumer"
	"github.com/yapit-tts/yapit-sub000/internal/dispatcher"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

// SynthAdapter produces audio for a job. Implementations are free to be
// synchronous (local GPU) or to represent a remote call (external API,
// serverless); Worker treats the call as blocking either way.
type SynthAdapter interface {
	// Synthesize returns raw audio bytes and their duration, or an error.
	Synthesize(ctx context.Context, job *queue.Job) ([]byte, int64, error)

	// TracksProcessing reports whether this adapter's jobs should be
	// recorded to the processing set (and therefore are reclaimable by
	// the visibility scanner). Unbounded-concurrency adapters (external
	// API, serverless) return false, per spec.md §4.4's accepted
	// trade-off: their failures are not reclaimed by the scanner.
	TracksProcessing() bool
}

// Worker runs the pull→synthesize→post loop for one adapter against one
// or more model queues.
type Worker struct {
	id          string
	modelSlugs  []string
	q           queue.Queue
	adapter     SynthAdapter
	pending     *fanout.PendingSet
	bus         *fanout.Bus
	redis       redisx.Client
	catalog     dispatcher.Catalog
	pullTimeout time.Duration
	logger      *slog.Logger
}

// New builds a Worker. id should be unique per process (used as the
// processing-hash key and the WorkerResult's worker_id). catalog
// resolves a job's usage multiplier for the WorkerResult the Result
// Consumer bills against.
func New(id string, modelSlugs []string, q queue.Queue, adapter SynthAdapter, bus *fanout.Bus, redis redisx.Client, catalog dispatcher.Catalog, pullTimeout time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id: id, modelSlugs: modelSlugs, q: q, adapter: adapter,
		pending: bus.Pending(), bus: bus, redis: redis, catalog: catalog,
		pullTimeout: pullTimeout, logger: logger,
	}
}

// Run loops pull→process until ctx is canceled. ErrNoJob (pull timeout,
// or a body evicted between pop and lookup) is swallowed so the loop
// keeps polling, per spec.md §4.4 step 2's "modest timeout" framing.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.q.Pull(ctx, w.pullTimeout, w.modelSlugs...)
		if err == queue.ErrNoJob {
			continue
		}
		if err != nil {
			return fmt.Errorf("worker %s: pull: %w", w.id, err)
		}

		if err := w.process(ctx, job); err != nil {
			w.logger.Error("worker: process job failed",
				"worker_id", w.id, "job_id", job.JobID, "fingerprint", job.Fingerprint, "error", err)
		}
	}
}

// process implements steps 3-6 of the Pull-Worker Contract for one job.
func (w *Worker) process(ctx context.Context, job *queue.Job) error {
	queueWaitMs := int64((queue.NowScore() - job.QueuedAt) * 1000)

	// §4.7's critical subtlety: re-check the pending-set before any
	// expensive work, converting an eviction racing this pull into a
	// no-op "skipped" rather than wasted synthesis.
	stillPending, err := w.pending.IsPending(ctx, job.UserID, job.DocumentID, job.BlockIndex)
	if err != nil {
		return fmt.Errorf("check pending: %w", err)
	}
	if !stillPending {
		return w.postResult(ctx, job, nil, 0, 0, queueWaitMs, "")
	}

	tracksProcessing := w.adapter.TracksProcessing()
	if tracksProcessing {
		if err := w.q.TrackProcessing(ctx, w.id, job); err != nil {
			return fmt.Errorf("track processing: %w", err)
		}
	}

	started := time.Now()
	audio, durationMs, synthErr := w.adapter.Synthesize(ctx, job)
	processingMs := time.Since(started).Milliseconds()

	var resultErr string
	if synthErr != nil {
		resultErr = synthErr.Error()
	}

	postErr := w.postResult(ctx, job, audio, durationMs, processingMs, queueWaitMs, resultErr)

	if tracksProcessing {
		if err := w.q.UntrackProcessing(ctx, w.id, job.JobID); err != nil {
			w.logger.Error("worker: untrack processing failed",
				"worker_id", w.id, "job_id", job.JobID, "error", err)
		}
	}
	return postErr
}

// postResult pushes a WorkerResult onto the shared results list. audio
// nil with no error encodes a silent "skipped" result (no audio_base64,
// no error) that the consumer treats as the eviction-race no-op.
func (w *Worker) postResult(ctx context.Context, job *queue.Job, audio []byte, durationMs, processingMs, queueWaitMs int64, errMsg string) error {
	var usageMultiplier float64
	if model, err := w.catalog.Lookup(job.ModelSlug); err == nil {
		usageMultiplier = model.UsageMultiplier
	}

	result := &consumer.WorkerResult{
		JobID:            job.JobID,
		Fingerprint:      job.Fingerprint,
		UserID:           job.UserID,
		DocumentID:       job.DocumentID,
		BlockIdx:         job.BlockIndex,
		ModelSlug:        job.ModelSlug,
		VoiceSlug:        job.VoiceSlug,
		Text:             job.Text,
		TextLength:       len(job.Text),
		UsageMultiplier:  usageMultiplier,
		WorkerID:         w.id,
		RetryCount:       job.RetryCount,
		Codec:            job.Codec,
		Parameters:       job.Parameters,
		Tracked:          job.Tracked,
		ProcessingTimeMs: processingMs,
		QueueWaitMs:      queueWaitMs,
		Error:            errMsg,
	}
	if audio != nil {
		result.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
		result.DurationMs = durationMs
	}

	body, err := result.Marshal()
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := w.redis.LPush(ctx, consumer.ResultsKey, string(body)); err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	return nil
}
