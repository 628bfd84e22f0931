package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

// RedisQueue implements Queue against the Redis key structure of
// spec.md §6: one sorted set per model, a shared jobs-hash, a shared
// index-hash, one processing-hash per worker, and a dead-letter list per
// model.
type RedisQueue struct {
	client redisx.Client
}

// NewRedisQueue wraps a redisx.Client.
func NewRedisQueue(client redisx.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, job *Job) error {
	body, err := job.Marshal()
	if err != nil {
		return wrapErr("marshal job", err)
	}

	if err := q.client.HSet(ctx, keyJobs, job.JobID, body); err != nil {
		return wrapErr("push: write job body", err)
	}

	if job.Tracked {
		if err := q.client.HSet(ctx, keyJobIndex, job.IndexKey(), job.JobID); err != nil {
			return wrapErr("push: write index", err)
		}
	}

	if err := q.client.ZAdd(ctx, queueKey(job.ModelSlug), job.QueuedAt, job.JobID); err != nil {
		return wrapErr("push: schedule", err)
	}
	return nil
}

// Pull performs the atomic BZPOPMIN-then-resolve sequence across every
// queue the caller is willing to serve.
func (q *RedisQueue) Pull(ctx context.Context, timeout time.Duration, modelSlugs ...string) (*Job, error) {
	keys := make([]string, len(modelSlugs))
	for i, m := range modelSlugs {
		keys[i] = queueKey(m)
	}

	_, jobID, _, err := q.client.BZPopMin(ctx, timeout, keys...)
	if err == redisx.ErrTimeout {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, wrapErr("pull: bzpopmin", err)
	}

	body, err := q.client.HGet(ctx, keyJobs, jobID)
	if err == redisx.ErrNotFound {
		// Evicted between pop and lookup — the worker must tolerate this.
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, wrapErr("pull: hget body", err)
	}

	if err := q.client.HDel(ctx, keyJobs, jobID); err != nil {
		return nil, wrapErr("pull: hdel body", err)
	}

	job, err := Unmarshal([]byte(body))
	if err != nil {
		return nil, wrapErr("pull: unmarshal", err)
	}

	if idx := job.IndexKey(); idx != "::" {
		_ = q.client.HDel(ctx, keyJobIndex, idx)
	}
	return job, nil
}

func (q *RedisQueue) TrackProcessing(ctx context.Context, workerID string, job *Job) error {
	entry := &ProcessingEntry{
		Job:               *job,
		ProcessingStarted: NowScore(),
		QueueName:         queueKey(job.ModelSlug),
		DLQKey:            dlqKey(job.ModelSlug),
	}
	body, err := entry.Marshal()
	if err != nil {
		return wrapErr("track_processing: marshal", err)
	}
	if err := q.client.HSet(ctx, processingKey(workerID), job.JobID, body); err != nil {
		return wrapErr("track_processing: hset", err)
	}
	return nil
}

func (q *RedisQueue) UntrackProcessing(ctx context.Context, workerID, jobID string) error {
	return wrapErr("untrack_processing", q.client.HDel(ctx, processingKey(workerID), jobID))
}

func (q *RedisQueue) Requeue(ctx context.Context, job *Job, retryCount int) error {
	fresh := *job
	fresh.RetryCount = retryCount
	fresh.QueuedAt = NowScore()
	return wrapErr("requeue", q.Push(ctx, &fresh))
}

func (q *RedisQueue) MoveToDLQ(ctx context.Context, job *Job, dlqTTL time.Duration) error {
	body, err := job.Marshal()
	if err != nil {
		return wrapErr("move_to_dlq: marshal", err)
	}
	key := dlqKey(job.ModelSlug)
	if err := q.client.LPush(ctx, key, string(body)); err != nil {
		return wrapErr("move_to_dlq: lpush", err)
	}
	// TTL refreshed on every write, as specified.
	return wrapErr("move_to_dlq: expire", q.client.Expire(ctx, key, dlqTTL))
}

func (q *RedisQueue) EvictByIndex(ctx context.Context, indexKey string) (*Job, error) {
	jobID, err := q.client.HGet(ctx, keyJobIndex, indexKey)
	if err == redisx.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("evict: hget index", err)
	}

	body, err := q.client.HGet(ctx, keyJobs, jobID)
	if err == redisx.ErrNotFound {
		// Already pulled by a worker; nothing queued left to evict.
		_ = q.client.HDel(ctx, keyJobIndex, indexKey)
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("evict: hget body", err)
	}

	job, err := Unmarshal([]byte(body))
	if err != nil {
		return nil, wrapErr("evict: unmarshal", err)
	}

	if err := q.client.ZRem(ctx, queueKey(job.ModelSlug), jobID); err != nil {
		return nil, wrapErr("evict: zrem", err)
	}
	if err := q.client.HDel(ctx, keyJobs, jobID); err != nil {
		return nil, wrapErr("evict: hdel job", err)
	}
	if err := q.client.HDel(ctx, keyJobIndex, indexKey); err != nil {
		return nil, wrapErr("evict: hdel index", err)
	}
	return job, nil
}

// ScanProcessing walks every "tts:processing:{worker_id}" hash using SCAN,
// never KEYS, per spec.md §4.6.
func (q *RedisQueue) ScanProcessing(ctx context.Context, fn func(workerID, jobID string, entry *ProcessingEntry) error) error {
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, keyProcessingPrefix+"*", 100)
		if err != nil {
			return wrapErr("scan_processing: scan", err)
		}

		for _, key := range keys {
			workerID := strings.TrimPrefix(key, keyProcessingPrefix)
			entries, err := q.client.HGetAll(ctx, key)
			if err != nil {
				return wrapErr("scan_processing: hgetall", err)
			}
			for jobID, raw := range entries {
				entry, err := UnmarshalProcessingEntry([]byte(raw))
				if err != nil {
					return wrapErr("scan_processing: unmarshal", err)
				}
				if err := fn(workerID, jobID, entry); err != nil {
					return err
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (q *RedisQueue) QueueDepth(ctx context.Context, modelSlug string) (int64, error) {
	n, err := q.client.ZCard(ctx, queueKey(modelSlug))
	if err != nil {
		return 0, wrapErr(fmt.Sprintf("queue_depth %s", modelSlug), err)
	}
	return n, nil
}

var _ Queue = (*RedisQueue)(nil)
