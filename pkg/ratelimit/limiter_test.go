package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/auth"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type failingStore struct{}

func (failingStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("bucket store unavailable")
}

func (failingStore) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, errors.New("bucket store unavailable")
}

func newTestLimiter(store Store, clock *fakeClock, mutate func(*Config)) *Limiter {
	cfg := DefaultConfig()
	cfg.SweepProbability = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return New(store, cfg, nil, WithClock(clock.Now))
}

func TestAdmit_ExactlyLimitThenReject(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock, nil)
	tier := Tier{Name: "TEST", Limit: 5}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := limiter.Admit(ctx, "user-1", "10.0.0.1", tier)
		require.NoError(t, err, "admission %d", i+1)
		assert.Equal(t, 5-(i+1), d.Remaining)
	}

	clock.Advance(20 * time.Second)
	d, err := limiter.Admit(ctx, "user-1", "10.0.0.1", tier)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindRateLimit, appErr.Kind)
	assert.Equal(t, 40, appErr.RetryAfter)
	assert.Equal(t, 0, d.Remaining)
}

func TestAdmit_WindowResetRestartsCounter(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	limiter := newTestLimiter(store, clock, nil)
	tier := Tier{Name: "TEST", Limit: 2}
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "user-1", "", tier)
	require.NoError(t, err)
	_, err = limiter.Admit(ctx, "user-1", "", tier)
	require.NoError(t, err)
	_, err = limiter.Admit(ctx, "user-1", "", tier)
	require.Error(t, err)

	clock.Advance(time.Minute)

	d, err := limiter.Admit(ctx, "user-1", "", tier)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining, "counter restarts at 1")
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestAdmit_RetryAfterIsAtLeastOneSecond(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock, nil)
	tier := Tier{Name: "TEST", Limit: 1}
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "user-1", "", tier)
	require.NoError(t, err)

	clock.Advance(time.Minute - 10*time.Millisecond)
	_, err = limiter.Admit(ctx, "user-1", "", tier)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 1, appErr.RetryAfter)
}

func TestAdmit_IPBucketIsLooserAndShared(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock, nil)
	tier := Tier{Name: "TEST", Limit: 3}
	ctx := context.Background()

	// ceil(3 * 1.5) = 5 admissions per origin across principals.
	assert.Equal(t, 5, limiter.IPLimit(3))

	principals := []string{"a", "a", "a", "b", "b"}
	for _, p := range principals {
		_, err := limiter.Admit(ctx, p, "203.0.113.9", tier)
		require.NoError(t, err)
	}

	_, err := limiter.Admit(ctx, "c", "203.0.113.9", tier)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindRateLimit, apperrors.KindOf(err))

	_, err = limiter.Admit(ctx, "c", "198.51.100.1", tier)
	require.NoError(t, err, "other origins are unaffected")
}

func TestAdmit_PrincipalsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock, nil)
	tier := Tier{Name: "TEST", Limit: 1}
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "a", "10.0.0.1", tier)
	require.NoError(t, err)
	_, err = limiter.Admit(ctx, "b", "10.0.0.2", tier)
	require.NoError(t, err)
	_, err = limiter.Admit(ctx, "a", "10.0.0.1", tier)
	require.Error(t, err)
}

func TestAdmit_DisabledBypasses(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	limiter := newTestLimiter(store, clock, func(c *Config) { c.Disabled = true })
	tier := Tier{Name: "TEST", Limit: 1}

	for i := 0; i < 10; i++ {
		_, err := limiter.Admit(context.Background(), "user-1", "10.0.0.1", tier)
		require.NoError(t, err)
	}
	assert.True(t, limiter.Disabled())
	assert.Equal(t, 0, store.Len(), "disabled limiter never touches the store")
}

func TestAdmit_StoreFailure(t *testing.T) {
	clock := newFakeClock()
	tier := Tier{Name: "TEST", Limit: 1}

	closed := newTestLimiter(failingStore{}, clock, nil)
	_, err := closed.Admit(context.Background(), "user-1", "", tier)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))

	open := newTestLimiter(failingStore{}, clock, func(c *Config) { c.FailOpen = true })
	d, err := open.Admit(context.Background(), "user-1", "", tier)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)
}

func TestAdmit_ZeroTierUsesMostRestrictive(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock, nil)

	d, err := limiter.Admit(context.Background(), "user-1", "", Tier{})
	require.NoError(t, err)
	assert.Equal(t, "VIEWER", d.Tier)
	assert.Equal(t, 120, d.Limit)
}

func TestTiers_ForRole(t *testing.T) {
	tiers := DefaultTiers()

	assert.Equal(t, 1000, tiers.ForRole(auth.RoleAdmin).Limit)
	assert.Equal(t, 600, tiers.ForRole(auth.RoleStaff).Limit)
	assert.Equal(t, 300, tiers.ForRole(auth.RoleContractor).Limit)
	assert.Equal(t, 120, tiers.ForRole(auth.RoleViewer).Limit)
	assert.Equal(t, tiers[auth.RoleViewer], tiers.ForRole(auth.SystemRole("ROOT")))
	assert.Equal(t, tiers[auth.RoleViewer], tiers.ForRole(""))
}

func TestEvict_RemovesLongExpiredBuckets(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	limiter := newTestLimiter(store, clock, nil)
	tier := Tier{Name: "TEST", Limit: 10}
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "old", "10.0.0.1", tier)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = limiter.Admit(ctx, "fresh", "10.0.0.2", tier)
	require.NoError(t, err)
	require.Equal(t, 4, store.Len())

	removed, err := limiter.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, store.Len())
}

func TestAdmit_ProbabilisticSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	cfg := DefaultConfig()
	cfg.SweepProbability = 0.5
	limiter := New(store, cfg, nil, WithClock(clock.Now), WithRand(func() float64 { return 0.1 }))
	tier := Tier{Name: "TEST", Limit: 10}
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "old", "", tier)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	_, err = limiter.Admit(ctx, "fresh", "", tier)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len(), "sweep ran before the new bucket was counted")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.IPMultiplier = 0.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Window = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tiers = Tiers{auth.RoleViewer: {Name: "VIEWER", Limit: 0}}
	assert.Error(t, cfg.Validate())
}

func TestRedisStore_FixedWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test")
	clock := newFakeClock()
	limiter := newTestLimiter(store, clock, nil)
	tier := Tier{Name: "TEST", Limit: 3}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Admit(ctx, "user-1", "10.0.0.1", tier)
		require.NoError(t, err)
	}
	_, err = limiter.Admit(ctx, "user-1", "10.0.0.1", tier)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindRateLimit, appErr.Kind)
	assert.Positive(t, appErr.RetryAfter)

	ttl := mr.TTL("test:ratelimit:principal:user-1")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute)

	d, err := limiter.Admit(ctx, "user-1", "10.0.0.1", tier)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Remaining)
}

func TestRedisStore_RepairsMissingExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set("test:ratelimit:principal:user-1", "4"))

	store := NewRedisStore(client, "test")
	now := time.Now()
	count, resetAt, err := store.Incr(context.Background(), "principal:user-1", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, now.Add(time.Minute), resetAt)
	assert.Equal(t, time.Minute, mr.TTL("test:ratelimit:principal:user-1"))
}
