package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

func newTestStore(t *testing.T) (*CooldownStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCooldownStore(client, zap.NewNop()), mr
}

func TestCooldownStore_AcquireOnce(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	key := repository.CooldownKey("p1", "b1", repository.TierCritical)

	ok, err := store.Acquire(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	// Повтор в пределах окна подавляется
	ok, err = store.Acquire(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 24*time.Hour, mr.TTL(key))
}

func TestCooldownStore_WindowExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	key := repository.CooldownKey("p1", "", repository.TierLow)

	ok, err := store.Acquire(ctx, key, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(time.Hour + time.Second)

	ok, err = store.Acquire(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCooldownStore_RefreshAndRelease(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	key := repository.CooldownKey("p1", "b1", repository.TierExpired)

	require.NoError(t, store.Refresh(ctx, key, 2*time.Hour))
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Hour, mr.TTL(key))

	require.NoError(t, store.Release(ctx, key))
	assert.False(t, mr.Exists(key))

	ok, err := store.Acquire(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCooldownStore_RedisDown(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.Acquire(ctx, "alert:p1:b1:critical", time.Hour)
	assert.Error(t, err)
}
