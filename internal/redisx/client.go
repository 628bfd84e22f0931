// Package redisx wraps go-redis/v9 behind the minimal interfaces the queue,
// fanout, cache, and usage packages depend on, so unit tests can substitute a
// fake client instead of dialing a live Redis instance.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the full surface the dispatch engine needs from Redis: sorted
// sets for model queues, hashes for job bodies and processing visibility,
// sets for subscriber/pending tracking, simple KV for locks and counters,
// and pub/sub for fan-out. Concrete code depends on this interface, not on
// *redis.Client, the way the teacher's fabric package depends on RedisClient
// rather than a specific driver.
type Client interface {
	// Key-value
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Sorted sets (model queues, cursor-window eviction, LRU index)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error)
	ZScore(ctx context.Context, key string, member string) (float64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	BZPopMin(ctx context.Context, timeout time.Duration, keys ...string) (key, member string, score float64, err error)

	// Hashes (job bodies, job index, processing set)
	HSet(ctx context.Context, key, field string, value interface{}) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HExists(ctx context.Context, key, field string) (bool, error)

	// Sets (subscriber set, pending set)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Lists (dead-letter queue, shared results list)
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, err error)

	// Scan (visibility scanner — never KEYS in production)
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, nextCursor uint64, err error)

	// Pub/Sub
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// GoRedisClient adapts github.com/redis/go-redis/v9 to Client.
type GoRedisClient struct {
	rdb *redis.Client
}

// NewGoRedisClient dials Redis and verifies connectivity before returning.
func NewGoRedisClient(addr, password string, db int) (*GoRedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     50,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &GoRedisClient{rdb: rdb}, nil
}

// Raw exposes the underlying *redis.Client for packages that need
// redis-specific features (e.g. Lua scripting via rdb.Eval) not modeled by
// the Client interface.
func (c *GoRedisClient) Raw() *redis.Client { return c.rdb }

func (c *GoRedisClient) Close() error { return c.rdb.Close() }

func (c *GoRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *GoRedisClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *GoRedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (c *GoRedisClient) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *GoRedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *GoRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

func (c *GoRedisClient) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.rdb.IncrBy(ctx, key, delta).Result()
}

func (c *GoRedisClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *GoRedisClient) ZRem(ctx context.Context, key string, member string) error {
	return c.rdb.ZRem(ctx, key, member).Err()
}

func (c *GoRedisClient) ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
}

func (c *GoRedisClient) ZScore(ctx context.Context, key string, member string) (float64, error) {
	v, err := c.rdb.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	return v, err
}

func (c *GoRedisClient) ZCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

// BZPopMin blocks up to timeout waiting for the lowest-score member across
// keys. Queue workers pass one key per model they are willing to serve, so a
// single blocking call spans every queue the adapter is admitted to.
func (c *GoRedisClient) BZPopMin(ctx context.Context, timeout time.Duration, keys ...string) (string, string, float64, error) {
	res, err := c.rdb.BZPopMin(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return "", "", 0, ErrTimeout
	}
	if err != nil {
		return "", "", 0, err
	}
	member, _ := res.Member.(string)
	return res.Key, member, res.Score, nil
}

func (c *GoRedisClient) HSet(ctx context.Context, key, field string, value interface{}) error {
	return c.rdb.HSet(ctx, key, field, value).Err()
}

func (c *GoRedisClient) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (c *GoRedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *GoRedisClient) HDel(ctx context.Context, key string, fields ...string) error {
	return c.rdb.HDel(ctx, key, fields...).Err()
}

func (c *GoRedisClient) HExists(ctx context.Context, key, field string) (bool, error) {
	return c.rdb.HExists(ctx, key, field).Result()
}

func (c *GoRedisClient) SAdd(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return c.rdb.SAdd(ctx, key, ifaces...).Err()
}

func (c *GoRedisClient) SRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return c.rdb.SRem(ctx, key, ifaces...).Err()
}

func (c *GoRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *GoRedisClient) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return c.rdb.SIsMember(ctx, key, member).Result()
}

func (c *GoRedisClient) LPush(ctx context.Context, key string, values ...string) error {
	ifaces := make([]interface{}, len(values))
	for i, v := range values {
		ifaces[i] = v
	}
	return c.rdb.LPush(ctx, key, ifaces...).Err()
}

func (c *GoRedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

// BRPop blocks up to timeout for the next element on any of keys,
// returning ErrTimeout if none arrives — the Result Consumer's only
// intentionally blocking call, per spec.md §4.5/§5.
func (c *GoRedisClient) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	res, err := c.rdb.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return "", "", ErrTimeout
	}
	if err != nil {
		return "", "", err
	}
	return res[0], res[1], nil
}

func (c *GoRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return c.rdb.Scan(ctx, cursor, match, count).Result()
}

func (c *GoRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

func (c *GoRedisClient) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := c.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}

var (
	// ErrNotFound is returned in place of redis.Nil so callers never need to
	// import go-redis just to check for a missing key.
	ErrNotFound = fmt.Errorf("redisx: key not found")
	// ErrTimeout is returned by BZPopMin when no member arrived before the
	// blocking timeout elapsed — a normal, expected outcome for idle queues.
	ErrTimeout = fmt.Errorf("redisx: blocking pop timed out")
)
