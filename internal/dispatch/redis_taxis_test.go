package dispatch

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTaxiStore(t *testing.T) {
	redisAddr := os.Getenv("TRIPSIM_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("TRIPSIM_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	prefix := fmt.Sprintf("tripsim:test:%d", time.Now().UnixNano())
	store := NewRedisTaxiStore(rdb, prefix)
	t.Cleanup(func() {
		rdb.Del(context.Background(), prefix+":positions", prefix+":busy")
	})

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Seed(ctx, DefaultFleet()))

	taxis, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, taxis, 4)
	assert.Equal(t, "T1", taxis[0].ID)
	assert.InDelta(t, 28.61, taxis[0].Lat, 1e-4)
	assert.InDelta(t, 77.20, taxis[0].Lng, 1e-4)

	ok, err := store.Lock(ctx, "T2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Lock(ctx, "T2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Lock(ctx, "T9")
	require.NoError(t, err)
	assert.False(t, ok)

	// Reseeding keeps the lock.
	require.NoError(t, store.Seed(ctx, DefaultFleet()))
	taxis, _ = store.List(ctx)
	assert.False(t, taxis[1].Available)

	require.NoError(t, store.Release(ctx, "T2"))
	taxis, _ = store.List(ctx)
	assert.True(t, taxis[1].Available)

	_, _ = store.Lock(ctx, "T4")
	require.NoError(t, store.Reset(ctx))
	taxis, _ = store.List(ctx)
	for _, tx := range taxis {
		assert.True(t, tx.Available, tx.ID)
	}
}
