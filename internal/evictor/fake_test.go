package evictor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
)

// fakeQueue is an in-memory queue.Queue scoped to what the evictor
// exercises: Push (to seed test state) and EvictByIndex.
type fakeQueue struct {
	mu    sync.Mutex
	jobs  map[string]*queue.Job
	index map[string]string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]*queue.Job), index: make(map[string]string)}
}

func (f *fakeQueue) Push(ctx context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.JobID] = job
	if job.Tracked {
		f.index[job.IndexKey()] = job.JobID
	}
	return nil
}
func (f *fakeQueue) Pull(ctx context.Context, timeout time.Duration, modelSlugs ...string) (*queue.Job, error) {
	return nil, queue.ErrNoJob
}
func (f *fakeQueue) TrackProcessing(ctx context.Context, workerID string, job *queue.Job) error {
	return nil
}
func (f *fakeQueue) UntrackProcessing(ctx context.Context, workerID, jobID string) error { return nil }
func (f *fakeQueue) Requeue(ctx context.Context, job *queue.Job, retryCount int) error    { return nil }
func (f *fakeQueue) MoveToDLQ(ctx context.Context, job *queue.Job, dlqTTL time.Duration) error {
	return nil
}
func (f *fakeQueue) EvictByIndex(ctx context.Context, indexKey string) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobID, ok := f.index[indexKey]
	if !ok {
		return nil, nil
	}
	job, ok := f.jobs[jobID]
	if !ok {
		delete(f.index, indexKey)
		return nil, nil
	}
	delete(f.jobs, jobID)
	delete(f.index, indexKey)
	return job, nil
}
func (f *fakeQueue) ScanProcessing(ctx context.Context, fn func(workerID, jobID string, entry *queue.ProcessingEntry) error) error {
	return nil
}
func (f *fakeQueue) QueueDepth(ctx context.Context, modelSlug string) (int64, error) { return 0, nil }

var _ queue.Queue = (*fakeQueue)(nil)

// fakeRedis is a minimal in-memory redisx.Client covering sets (pending
// bookkeeping) and pubsub (the `evicted` notification).
type fakeRedis struct {
	mu   sync.Mutex
	sets map[string]map[string]bool
	subs map[string][]func([]byte)
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: make(map[string]map[string]bool), subs: make(map[string][]func([]byte))}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}
func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("not found")
}
func (f *fakeRedis) Del(ctx context.Context, keys ...string) error                   { return nil }
func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }
func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error)             { return 0, nil }
func (f *fakeRedis) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return 0, nil
}
func (f *fakeRedis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return nil
}
func (f *fakeRedis) ZRem(ctx context.Context, key string, member string) error { return nil }
func (f *fakeRedis) ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error) {
	return nil, nil
}
func (f *fakeRedis) ZScore(ctx context.Context, key string, member string) (float64, error) {
	return 0, nil
}
func (f *fakeRedis) ZCard(ctx context.Context, key string) (int64, error) { return 0, nil }
func (f *fakeRedis) BZPopMin(ctx context.Context, timeout time.Duration, keys ...string) (string, string, float64, error) {
	return "", "", 0, fmt.Errorf("not implemented")
}
func (f *fakeRedis) HSet(ctx context.Context, key, field string, value interface{}) error {
	return nil
}
func (f *fakeRedis) HGet(ctx context.Context, key, field string) (string, error) { return "", nil }
func (f *fakeRedis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeRedis) HDel(ctx context.Context, key string, fields ...string) error { return nil }
func (f *fakeRedis) HExists(ctx context.Context, key, field string) (bool, error) {
	return false, nil
}
func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]bool)
		f.sets[key] = set
	}
	for _, m := range members {
		set[m] = true
	}
	return nil
}
func (f *fakeRedis) SRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.sets[key]; ok {
		for _, m := range members {
			delete(set, m)
		}
	}
	return nil
}
func (f *fakeRedis) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}
func (f *fakeRedis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		return false, nil
	}
	return set[member], nil
}
func (f *fakeRedis) LPush(ctx context.Context, key string, values ...string) error { return nil }
func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}
func (f *fakeRedis) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	return "", "", fmt.Errorf("not implemented")
}
func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}
func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	handlers := append([]func([]byte){}, f.subs[channel]...)
	f.mu.Unlock()
	payload, _ := message.([]byte)
	for _, h := range handlers {
		h(payload)
	}
	return nil
}
func (f *fakeRedis) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	f.mu.Lock()
	f.subs[channel] = append(f.subs[channel], handler)
	f.mu.Unlock()
	return func() {}, nil
}

// fakeEmitter records published events.
type fakeEmitter struct {
	mu        sync.Mutex
	published []*events.Event
}

func (e *fakeEmitter) Publish(jobID string, event *events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, event)
	return nil
}

var _ events.Publisher = (*fakeEmitter)(nil)
