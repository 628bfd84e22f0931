// Package scanner implements the Visibility Scanner (spec.md §4.6): a
// singleton background loop that reclaims jobs whose owning worker died
// mid-synthesis or lost its result post, by walking every worker's
// processing-hash via SCAN and age-checking each entry against a
// visibility timeout.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/leaderlock"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
	"github.com/yapit-tts/yapit-sub000/internal/telemetry"
)

// Scanner reclaims stuck jobs per spec.md §4.6.
type Scanner struct {
	q                 queue.Queue
	redis             redisx.Client
	bus               *fanout.Bus
	emitter           events.Publisher
	visibilityTimeout time.Duration
	maxRetries        int
	dlqTTL            time.Duration
	logger            *slog.Logger
	metrics           *telemetry.Metrics
}

// New builds a Scanner. visibilityTimeout and maxRetries are the
// VISIBILITY_TIMEOUT and MAX_RETRIES tunables of spec.md §4.6; dlqTTL is
// the refresh-on-write TTL applied to the dead-letter list.
func New(q queue.Queue, redis redisx.Client, bus *fanout.Bus, emitter events.Publisher, visibilityTimeout time.Duration, maxRetries int, dlqTTL time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		q: q, redis: redis, bus: bus, emitter: emitter,
		visibilityTimeout: visibilityTimeout, maxRetries: maxRetries, dlqTTL: dlqTTL,
		logger: logger,
	}
}

// SetMetrics wires a Prometheus metrics sink. Optional — Scan is
// nil-safe without it.
func (s *Scanner) SetMetrics(m *telemetry.Metrics) { s.metrics = m }

// Run elects leadership via lock and scans on every interval tick while
// leader, until ctx is canceled. This is the entry point the gateway
// process's singleton-task set runs (spec.md §5).
func (s *Scanner) Run(ctx context.Context, lock *leaderlock.Lock, interval time.Duration) {
	leaderlock.Run(ctx, lock, interval, func(ctx context.Context) {
		if err := s.Scan(ctx); err != nil {
			s.logger.Error("scanner: scan failed", "error", err)
		}
	})
}

// Scan walks every processing-hash entry once and reclaims any whose age
// exceeds the visibility timeout.
func (s *Scanner) Scan(ctx context.Context) error {
	now := queue.NowScore()
	var reclaimed int

	err := s.q.ScanProcessing(ctx, func(workerID, jobID string, entry *queue.ProcessingEntry) error {
		age := now - entry.ProcessingStarted
		if age < s.visibilityTimeout.Seconds() {
			return nil
		}

		if err := s.q.UntrackProcessing(ctx, workerID, jobID); err != nil {
			return fmt.Errorf("scanner: untrack %s/%s: %w", workerID, jobID, err)
		}
		reclaimed++

		job := entry.Job
		if job.RetryCount >= s.maxRetries {
			return s.deadLetter(ctx, &job)
		}
		return s.requeue(ctx, &job)
	})
	if err != nil {
		return fmt.Errorf("scanner: scan_processing: %w", err)
	}
	if reclaimed > 0 {
		s.logger.Info("scanner: reclaimed stuck jobs", "count", reclaimed)
	}
	return nil
}

// requeue reschedules job with retry_count+1 and leaves the in-flight
// lock in place — the requeued job will take its place, per §4.6.
func (s *Scanner) requeue(ctx context.Context, job *queue.Job) error {
	if err := s.q.Requeue(ctx, job, job.RetryCount+1); err != nil {
		return fmt.Errorf("scanner: requeue %s: %w", job.JobID, err)
	}
	if s.metrics != nil {
		s.metrics.JobsRequeued.WithLabelValues(job.ModelSlug).Inc()
	}
	if s.emitter != nil {
		_ = s.emitter.Publish(job.JobID, events.New(events.TypeRequeued, job.JobID, map[string]interface{}{
			"fingerprint": job.Fingerprint,
			"user_id":     job.UserID,
			"retry_count": job.RetryCount + 1,
		}))
	}
	s.logger.Warn("scanner: requeued stuck job",
		"job_id", job.JobID, "fingerprint", job.Fingerprint, "retry_count", job.RetryCount+1)
	return nil
}

// deadLetter moves job to the DLQ, notifies every subscriber with a
// synthetic error result, and clears the in-flight lock so a future
// identical request can be dispatched fresh.
func (s *Scanner) deadLetter(ctx context.Context, job *queue.Job) error {
	if err := s.q.MoveToDLQ(ctx, job, s.dlqTTL); err != nil {
		return fmt.Errorf("scanner: move_to_dlq %s: %w", job.JobID, err)
	}
	if s.metrics != nil {
		s.metrics.JobsDeadLettered.WithLabelValues(job.ModelSlug).Inc()
	}

	errMsg := "exceeded max retries"
	if s.bus != nil {
		evt := events.New(events.TypeDeadLetter, job.JobID, map[string]interface{}{
			"user_id": job.UserID, "retry_count": job.RetryCount,
		})
		notifyErr := s.bus.NotifyAll(ctx, job.Fingerprint, evt, func(sub fanout.Subscription) []byte {
			msg := fanout.StatusMessage{
				Type: "status", DocumentID: sub.DocumentID, BlockIdx: sub.BlockIndex,
				Status: "error", Error: &errMsg,
			}
			payload, _ := json.Marshal(msg)
			return payload
		})
		if notifyErr != nil {
			s.logger.Error("scanner: notify subscribers of dead letter failed", "error", notifyErr)
		}
	}

	if err := s.redis.Del(ctx, "tts:inflight:"+job.Fingerprint); err != nil {
		return fmt.Errorf("scanner: clear inflight %s: %w", job.Fingerprint, err)
	}
	s.logger.Error("scanner: moved job to dead letter queue",
		"job_id", job.JobID, "fingerprint", job.Fingerprint, "retry_count", job.RetryCount)
	return nil
}
