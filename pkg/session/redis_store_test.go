package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
)

func TestRedisStore_LapsedKeyReportsExpired(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clock := newFakeClock()
	m := NewManager(NewRedisStore(client, "test"), nil, nil, WithClock(clock.Now), WithTimeout(30*time.Minute))
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1", "", nil)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	mr.FastForward(2 * time.Hour)
	require.False(t, mr.Exists("test:session:"+id), "key outlived its TTL")

	_, err = m.Validate(ctx, id)
	assert.Equal(t, apperrors.CodeSessionExpired, apperrors.CodeOf(err))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "activity entry is dropped once reported")

	_, err = m.Validate(ctx, id)
	assert.Equal(t, apperrors.CodeSessionInvalid, apperrors.CodeOf(err))
}

func TestRedisStore_DestroyedSessionIsInvalid(t *testing.T) {
	store := newRedisStore(t)
	m, _, _ := newTestManager(t, store)
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1", "", nil)
	require.NoError(t, err)
	require.NoError(t, m.Destroy(ctx, id))

	_, err = m.Validate(ctx, id)
	assert.Equal(t, apperrors.CodeSessionInvalid, apperrors.CodeOf(err))
}
