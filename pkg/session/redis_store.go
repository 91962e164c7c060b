package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const maxTxRetries = 5

// RedisStore keeps sessions in Redis so that every instance sees the same
// state. Each session is a JSON value; a sorted set scored by last activity
// drives the idle sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. Keys are namespaced by prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sitegate"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, id)
}

func (r *RedisStore) activityKey() string {
	return r.prefix + ":sessions:activity"
}

// keyTTL outlives the idle timeout so the session body is still around when
// an idle session is next seen. Past it, the activity entry alone marks the
// session as expired until the sweep removes it.
func keyTTL(timeout time.Duration) time.Duration {
	return 2 * timeout
}

func (r *RedisStore) Put(ctx context.Context, s *Session, timeout time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(s.ID), data, keyTTL(timeout))
		pipe.ZAdd(ctx, r.activityKey(), &redis.Z{
			Score:  float64(s.LastActivityAt.UnixMilli()),
			Member: s.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *RedisStore) Touch(ctx context.Context, id string, now time.Time, timeout time.Duration) (*Session, error) {
	key := r.key(id)
	var result *Session
	var outcome error

	txf := func(tx *redis.Tx) error {
		result, outcome = nil, nil

		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return r.missing(ctx, tx, id, &outcome)
		}
		if err != nil {
			return err
		}

		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}

		if now.Sub(s.LastActivityAt) > timeout {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, r.activityKey(), id)
				return nil
			})
			outcome = ErrExpired
			return err
		}

		s.LastActivityAt = now
		data, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, keyTTL(timeout))
			pipe.ZAdd(ctx, r.activityKey(), &redis.Z{Score: float64(now.UnixMilli()), Member: id})
			return nil
		})
		result = &s
		return err
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if outcome != nil {
		return nil, outcome
	}
	return result, nil
}

// missing classifies a session whose key is gone. A key that lapsed through
// its TTL leaves its activity entry behind until the sweep, so the session
// still reports as expired, as it would in the memory store.
func (r *RedisStore) missing(ctx context.Context, tx *redis.Tx, id string, outcome *error) error {
	err := tx.ZScore(ctx, r.activityKey(), id).Err()
	if errors.Is(err, redis.Nil) {
		*outcome = ErrNotFound
		return nil
	}
	if err != nil {
		return err
	}
	*outcome = ErrExpired
	return tx.ZRem(ctx, r.activityKey(), id).Err()
}

func (r *RedisStore) Delete(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.GetDel(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.client.ZRem(ctx, r.activityKey(), id)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := r.client.ZRem(ctx, r.activityKey(), id).Err(); err != nil {
		return nil, fmt.Errorf("failed to delete session activity: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// DeleteIdle removes idle sessions. Each candidate is re-checked inside a
// WATCH transaction so a concurrent Touch wins over the sweep.
func (r *RedisStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list idle sessions: %w", err)
	}

	removed := 0
	for _, id := range ids {
		key := r.key(id)
		deleted := false

		txf := func(tx *redis.Tx) error {
			deleted = false
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return tx.ZRem(ctx, r.activityKey(), id).Err()
			}
			if err != nil {
				return err
			}

			var s Session
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			if !s.LastActivityAt.Before(cutoff) {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, r.activityKey(), id)
				return nil
			})
			deleted = err == nil
			return err
		}

		if err := r.watch(ctx, txf, key); err != nil {
			return removed, fmt.Errorf("failed to sweep session: %w", err)
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.activityKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}
