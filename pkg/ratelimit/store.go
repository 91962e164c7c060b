package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store holds fixed-window counters
type Store interface {
	// Incr counts one hit against key. When no window is open, or the open
	// window has reset, a new window of the given length starts at now with
	// count 1. It returns the count and the window's reset time.
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error)

	// Evict removes buckets whose window reset before cutoff
	Evict(ctx context.Context, cutoff time.Time) (int, error)
}

type bucket struct {
	count         int
	windowResetAt time.Time
}

// MemoryStore keeps buckets in process memory. Correct only for a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryStore creates an empty bucket store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

func (m *MemoryStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.windowResetAt) {
		b = &bucket{count: 0, windowResetAt: now.Add(window)}
		m.buckets[key] = b
	}
	b.count++
	return b.count, b.windowResetAt, nil
}

func (m *MemoryStore) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, b := range m.buckets {
		if b.windowResetAt.Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked buckets
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// RedisStore keeps buckets in Redis so that limits hold across instances.
// Windows are key TTLs: INCR opens or extends the count and the first hit
// sets the expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed bucket store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sitegate"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	redisKey := fmt.Sprintf("%s:ratelimit:%s", r.prefix, key)

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis error: %w", err)
	}

	count := incr.Val()
	ttl := pttl.Val()

	// A fresh key, or one left without expiry by an interrupted caller.
	if count == 1 || ttl < 0 {
		if err := r.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis error: %w", err)
		}
		ttl = window
	}

	return int(count), now.Add(ttl), nil
}

// Evict is a no-op; Redis expires buckets itself
func (r *RedisStore) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)
