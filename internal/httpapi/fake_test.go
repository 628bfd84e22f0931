package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/cache"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
)

// fakeQueue is an in-memory queue.Queue, grounded on queue package's own
// fakeQueue: jobs indexed by "user:doc:block" so EvictByIndex actually
// removes a queued job, which the cursor-eviction test depends on.
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
	job := f.jobs[jobID]
	delete(f.jobs, jobID)
	delete(f.index, indexKey)
	return job, nil
}
func (f *fakeQueue) ScanProcessing(ctx context.Context, fn func(workerID, jobID string, entry *queue.ProcessingEntry) error) error {
	return nil
}
func (f *fakeQueue) QueueDepth(ctx context.Context, modelSlug string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.jobs)), nil
}

var _ queue.Queue = (*fakeQueue)(nil)

// fakeRedis is a minimal in-memory redisx.Client: sets (pending/
// subscriber bookkeeping), SetNX/Del (in-flight lock), and synchronous
// pubsub, enough to drive a Dispatcher + Bus + Evictor end-to-end.
type fakeRedis struct {
	mu    sync.Mutex
	sets  map[string]map[string]bool
	locks map[string]bool
	subs  map[string][]func([]byte)
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		sets:  make(map[string]map[string]bool),
		locks: make(map[string]bool),
		subs:  make(map[string][]func([]byte)),
	}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}
func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] {
		return false, nil
	}
	f.locks[key] = true
	return true, nil
}
func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("not found")
}
func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.locks, k)
	}
	return nil
}
func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }
func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error)             { return 1, nil }
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

// fakeVariantStore is an in-memory fingerprint.Store.
type fakeVariantStore struct {
	mu   sync.Mutex
	rows map[string]*fingerprint.Variant
}

func newFakeVariantStore() *fakeVariantStore {
	return &fakeVariantStore{rows: make(map[string]*fingerprint.Variant)}
}

func (s *fakeVariantStore) Get(ctx context.Context, fp string) (*fingerprint.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.rows[fp]; ok {
		return v, nil
	}
	return nil, fingerprint.ErrNotFound
}
func (s *fakeVariantStore) Create(ctx context.Context, v *fingerprint.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[v.Fingerprint]; !ok {
		s.rows[v.Fingerprint] = v
	}
	return nil
}
func (s *fakeVariantStore) SetCacheRef(ctx context.Context, fp, cacheRef string, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[fp]
	if !ok {
		return fingerprint.ErrNotFound
	}
	v.CacheRef = &cacheRef
	v.DurationMs = &durationMs
	return nil
}
func (s *fakeVariantStore) ClearCacheRef(ctx context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[fp]
	if !ok {
		return fingerprint.ErrNotFound
	}
	v.CacheRef = nil
	return nil
}

var _ fingerprint.Store = (*fakeVariantStore)(nil)

// fakeCacheBackend is an in-memory cache.Backend.
type fakeCacheBackend struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
}

func newFakeCacheBackend() *fakeCacheBackend {
	return &fakeCacheBackend{entries: make(map[string]*cache.Entry)}
}

func (b *fakeCacheBackend) Get(ctx context.Context, key string) (*cache.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return e, nil
}
func (b *fakeCacheBackend) Put(ctx context.Context, e *cache.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[e.Key] = e
	return nil
}
func (b *fakeCacheBackend) Touch(ctx context.Context, key string, at time.Time) error { return nil }
func (b *fakeCacheBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}
func (b *fakeCacheBackend) BatchExists(ctx context.Context, keys []string) (map[string]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		_, ok := b.entries[k]
		out[k] = ok
	}
	return out, nil
}
func (b *fakeCacheBackend) Pin(ctx context.Context, keys []string) error { return nil }
func (b *fakeCacheBackend) TotalSize(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, e := range b.entries {
		total += e.Size
	}
	return total, nil
}
func (b *fakeCacheBackend) EvictionCandidates(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

var _ cache.Backend = (*fakeCacheBackend)(nil)

// fakeUsageChecker always allows; no test here exercises a denied quota.
type fakeUsageChecker struct{}

func (fakeUsageChecker) CheckLimit(ctx context.Context, userID string, amount int64) error {
	return nil
}
