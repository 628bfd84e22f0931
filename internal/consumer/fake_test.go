package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
	"github.com/yapit-tts/yapit-sub000/internal/usage"
)

// fakeRedis is a minimal in-memory redisx.Client covering what the
// consumer and fanout.Bus exercise: KV for the in-flight lock, sets for
// subscriber/pending bookkeeping, pub/sub for notification, and BRPop for
// the results list.
type fakeRedis struct {
	mu       sync.Mutex
	kv       map[string]string
	sets     map[string]map[string]bool
	subs     map[string][]func([]byte)
	results  []string
	resultCh chan string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		kv:       make(map[string]string),
		sets:     make(map[string]map[string]bool),
		subs:     make(map[string][]func([]byte)),
		resultCh: make(chan string, 16),
	}
}

func (f *fakeRedis) pushResult(payload string) { f.resultCh <- payload }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = fmt.Sprintf("%v", value)
	return nil
}
func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kv[key]; ok {
		return false, nil
	}
	f.kv[key] = fmt.Sprintf("%v", value)
	return true, nil
}
func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return v, nil
}
func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
	}
	return nil
}
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
	select {
	case payload := <-f.resultCh:
		return ResultsKey, payload, nil
	case <-time.After(timeout):
		return "", "", redisx.ErrTimeout
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
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

// fakeCache records stored bytes.
type fakeCache struct {
	mu      sync.Mutex
	stored  map[string][]byte
	failing bool
}

func newFakeCache() *fakeCache { return &fakeCache{stored: make(map[string][]byte)} }

func (c *fakeCache) Store(ctx context.Context, key string, data []byte) error {
	if c.failing {
		return fmt.Errorf("simulated cache write failure")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored[key] = data
	return nil
}

// fakeVariant records MarkSynthesized calls.
type fakeVariant struct {
	mu    sync.Mutex
	calls []string
}

func (v *fakeVariant) MarkSynthesized(ctx context.Context, fp, cacheRef string, durationMs int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, fp)
	return nil
}

// fakeLedger records Consume calls.
type fakeLedger struct {
	mu      sync.Mutex
	amounts map[string]int64
}

func newFakeLedger() *fakeLedger { return &fakeLedger{amounts: make(map[string]int64)} }

func (l *fakeLedger) Consume(ctx context.Context, userID string, amount int64) (usage.ConsumeBreakdown, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.amounts[userID] += amount
	return usage.ConsumeBreakdown{FromSubscription: amount}, nil
}

// fakeQueue records Requeue calls.
type fakeQueue struct {
	mu       sync.Mutex
	requeued []*queue.Job
}

func (q *fakeQueue) Push(ctx context.Context, job *queue.Job) error { return nil }
func (q *fakeQueue) Pull(ctx context.Context, timeout time.Duration, modelSlugs ...string) (*queue.Job, error) {
	return nil, queue.ErrNoJob
}
func (q *fakeQueue) TrackProcessing(ctx context.Context, workerID string, job *queue.Job) error {
	return nil
}
func (q *fakeQueue) UntrackProcessing(ctx context.Context, workerID, jobID string) error { return nil }
func (q *fakeQueue) Requeue(ctx context.Context, job *queue.Job, retryCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.RetryCount = retryCount
	q.requeued = append(q.requeued, job)
	return nil
}
func (q *fakeQueue) MoveToDLQ(ctx context.Context, job *queue.Job, dlqTTL time.Duration) error {
	return nil
}
func (q *fakeQueue) EvictByIndex(ctx context.Context, indexKey string) (*queue.Job, error) {
	return nil, nil
}
func (q *fakeQueue) ScanProcessing(ctx context.Context, fn func(workerID, jobID string, entry *queue.ProcessingEntry) error) error {
	return nil
}
func (q *fakeQueue) QueueDepth(ctx context.Context, modelSlug string) (int64, error) { return 0, nil }

var _ queue.Queue = (*fakeQueue)(nil)

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
