package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeRedis is a minimal in-memory stand-in for redisx.Client, scoped to
// this package's own tests (sets, KV, and pub/sub — the only operations
// fanout exercises).
type fakeRedis struct {
	mu        sync.Mutex
	sets      map[string]map[string]bool
	kv        map[string]string
	subs      map[string][]func([]byte)
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		sets: make(map[string]map[string]bool),
		kv:   make(map[string]string),
		subs: make(map[string][]func([]byte)),
	}
}

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
		delete(f.sets, k)
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
	set, ok := f.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
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

	var payload []byte
	switch v := message.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		payload = []byte(fmt.Sprintf("%v", v))
	}
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
