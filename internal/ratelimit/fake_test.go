package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

// fakeRedis is a minimal in-memory redisx.Client covering the counter
// operations Limiter exercises (Incr/Expire).
type fakeRedis struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: make(map[string]int64), expires: make(map[string]time.Duration)}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}
func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = ttl
	return nil
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
func (f *fakeRedis) Del(ctx context.Context, keys ...string) error { return nil }
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
func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...string) error  { return nil }
func (f *fakeRedis) SRem(ctx context.Context, key string, members ...string) error  { return nil }
func (f *fakeRedis) SMembers(ctx context.Context, key string) ([]string, error)     { return nil, nil }
func (f *fakeRedis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return false, nil
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
	return nil
}
func (f *fakeRedis) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	return func() {}, nil
}

var _ redisx.Client = (*fakeRedis)(nil)
