package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
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

func newRedisStore(t *testing.T) Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test")
}

// storeFactories runs the manager tests against every Store implementation.
var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store { return NewMemoryStore() },
	"redis":  newRedisStore,
}

func newTestManager(t *testing.T, store Store) (*Manager, *fakeClock, *audit.MemorySink) {
	clock := newFakeClock()
	sink := audit.NewMemorySink()
	return NewManager(store, sink, nil, WithClock(clock.Now)), clock, sink
}

func TestManager_CreateAndValidate(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			m, _, sink := newTestManager(t, factory(t))
			ctx := context.Background()

			id, err := m.Create(ctx, "user-1", "u1@example.com", map[string]string{"ip": "203.0.113.9"})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(id, auth.SessionPrefix))

			s, err := m.Validate(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "user-1", s.PrincipalID)
			assert.Equal(t, "203.0.113.9", s.Metadata["ip"])

			created := sink.ByAction(audit.ActionSessionCreate)
			require.Len(t, created, 1)
			assert.Equal(t, "user-1", created[0].UserID)
			assert.NotContains(t, created[0].EntityID, id[len(auth.SessionPrefix)+8:])
		})
	}
}

func TestManager_SlidingExpiry(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			m, clock, _ := newTestManager(t, factory(t))
			ctx := context.Background()

			id, err := m.Create(ctx, "user-1", "", nil)
			require.NoError(t, err)

			// Each use inside the window extends it.
			for i := 0; i < 3; i++ {
				clock.Advance(20 * time.Minute)
				s, err := m.Validate(ctx, id)
				require.NoError(t, err, "validation %d", i)
				assert.Equal(t, clock.Now(), s.LastActivityAt.UTC())
			}

			clock.Advance(DefaultTimeout + time.Second)
			_, err = m.Validate(ctx, id)
			assert.Equal(t, apperrors.CodeSessionExpired, apperrors.CodeOf(err))
			assert.Equal(t, apperrors.KindAuthentication, apperrors.KindOf(err))

			// The expired session was removed as a side effect.
			_, err = m.Validate(ctx, id)
			assert.Equal(t, apperrors.CodeSessionInvalid, apperrors.CodeOf(err))

			n, err := m.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestManager_ExactlyAtTimeoutIsValid(t *testing.T) {
	m, clock, _ := newTestManager(t, NewMemoryStore())
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1", "", nil)
	require.NoError(t, err)

	clock.Advance(DefaultTimeout)
	_, err = m.Validate(ctx, id)
	assert.NoError(t, err)
}

func TestManager_ValidateUnknown(t *testing.T) {
	m, _, _ := newTestManager(t, NewMemoryStore())
	ctx := context.Background()

	for _, id := range []string{"", "sess_short", "not-a-session"} {
		_, err := m.Validate(ctx, id)
		assert.Equal(t, apperrors.CodeSessionInvalid, apperrors.CodeOf(err), id)
	}

	unknown, err := auth.NewSessionIDGenerator().Generate()
	require.NoError(t, err)
	_, err = m.Validate(ctx, unknown)
	assert.Equal(t, apperrors.CodeSessionInvalid, apperrors.CodeOf(err))
}

func TestManager_DestroyIsIdempotent(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			m, clock, sink := newTestManager(t, factory(t))
			ctx := context.Background()

			id, err := m.Create(ctx, "user-1", "", nil)
			require.NoError(t, err)

			clock.Advance(90 * time.Second)
			require.NoError(t, m.Destroy(ctx, id))
			require.NoError(t, m.Destroy(ctx, id))

			destroyed := sink.ByAction(audit.ActionSessionDestroy)
			require.Len(t, destroyed, 1)
			assert.EqualValues(t, 90, destroyed[0].Meta["durationSeconds"])

			_, err = m.Validate(ctx, id)
			assert.Equal(t, apperrors.CodeSessionInvalid, apperrors.CodeOf(err))
		})
	}
}

func TestManager_Sweep(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			m, clock, _ := newTestManager(t, factory(t))
			ctx := context.Background()

			stale, err := m.Create(ctx, "user-1", "", nil)
			require.NoError(t, err)

			clock.Advance(20 * time.Minute)
			fresh, err := m.Create(ctx, "user-2", "", nil)
			require.NoError(t, err)

			clock.Advance(15 * time.Minute)
			removed, err := m.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			_, err = m.Validate(ctx, stale)
			assert.Equal(t, apperrors.CodeSessionInvalid, apperrors.CodeOf(err))
			_, err = m.Validate(ctx, fresh)
			assert.NoError(t, err)
		})
	}
}

func TestManager_ConcurrentValidate(t *testing.T) {
	m, _, _ := newTestManager(t, NewMemoryStore())
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1", "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Validate(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestManager_CreateRequiresPrincipal(t *testing.T) {
	m, _, _ := newTestManager(t, NewMemoryStore())
	_, err := m.Create(context.Background(), " ", "", nil)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}
