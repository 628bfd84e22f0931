package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoJob is returned by Pull when the blocking timeout elapses with
// nothing available, or when a popped job's body was evicted between the
// ZPOPMIN and the jobs-hash lookup — both are normal, expected outcomes a
// worker must tolerate.
var ErrNoJob = errors.New("queue: no job available")

// Queue is the minimal surface the dispatcher, worker, scanner, and
// evictor depend on, decoupling them from the concrete Redis client the
// way the teacher's fabric.RedisClient decouples its hub store — tests use
// an in-memory fake rather than a live Redis.
type Queue interface {
	// Push writes the job body, the index entry (if job.Tracked),
	// and schedules it on the model's sorted-set queue.
	Push(ctx context.Context, job *Job) error

	// Pull blocks up to timeout waiting for the lowest-score job across the
	// given model queues, then resolves and deletes its body. Returns
	// ErrNoJob if nothing arrived or the body was already evicted.
	Pull(ctx context.Context, timeout time.Duration, modelSlugs ...string) (*Job, error)

	// TrackProcessing records that workerID is responsible for job, before
	// any potentially blocking synthesis call.
	TrackProcessing(ctx context.Context, workerID string, job *Job) error

	// UntrackProcessing removes the processing entry after a result is
	// posted, successfully or not.
	UntrackProcessing(ctx context.Context, workerID, jobID string) error

	// Requeue writes a fresh body with retryCount and a fresh schedule
	// score, for jobs reclaimed by the visibility scanner.
	Requeue(ctx context.Context, job *Job, retryCount int) error

	// MoveToDLQ appends job to the model's dead-letter list with a 7-day
	// TTL refreshed on every write.
	MoveToDLQ(ctx context.Context, job *Job, dlqTTL time.Duration) error

	// EvictByIndex removes a queued-but-not-yet-pulled job identified by
	// its index key, in one logical step: ZREM from the queue, HDEL from
	// the jobs-hash, HDEL from the index-hash. The job's own ModelSlug
	// (read back from the jobs-hash) determines which model queue to
	// ZREM from, so callers never need to track it themselves. Returns
	// the removed job (if any existed) so callers can emit eviction
	// events.
	EvictByIndex(ctx context.Context, indexKey string) (*Job, error)

	// ScanProcessing iterates every processing-hash entry across all
	// workers via SCAN (never KEYS), for the visibility scanner.
	ScanProcessing(ctx context.Context, fn func(workerID, jobID string, entry *ProcessingEntry) error) error

	// QueueDepth returns the observed depth of a model's queue, for the
	// synthesis_queued monitoring event.
	QueueDepth(ctx context.Context, modelSlug string) (int64, error)
}

// Key names, matching spec.md §6 verbatim.
const (
	keyQueuePrefix      = "tts:queue:"
	keyJobs             = "tts:jobs"
	keyJobIndex         = "tts:job_index"
	keyProcessingPrefix = "tts:processing:"
	keyDLQPrefix        = "tts:dlq:"
)

func queueKey(modelSlug string) string      { return keyQueuePrefix + modelSlug }
func processingKey(workerID string) string  { return keyProcessingPrefix + workerID }
func dlqKey(modelSlug string) string        { return keyDLQPrefix + modelSlug }

// wrapErr is a small helper to keep the %w wrapping consistent across the
// many small Redis operations this package performs.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("queue: %s: %w", op, err)
}
