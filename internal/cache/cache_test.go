package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[int64, string](func() time.Time { return now })

	c.Set(1, "deluxe", time.Minute)
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "deluxe", got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(1)
	assert.False(t, ok)

	c.Set(2, "suite", 0)
	_, ok = c.Get(2)
	assert.False(t, ok, "zero ttl should not be stored")
}

type listEntry struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func TestRedisJSONRoundTripAndDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisJSON[[]listEntry](client, "bookings:user:", time.Minute)

	_, ok, err := c.Get(ctx, "guest@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "guest@example.com", []listEntry{{ID: 1, Status: "PENDING"}}))
	assert.True(t, mr.Exists("bookings:user:guest@example.com"))

	got, ok, err := c.Get(ctx, "guest@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []listEntry{{ID: 1, Status: "PENDING"}}, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "guest@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a@example.com", nil))
	require.NoError(t, c.Set(ctx, "b@example.com", nil))
	require.NoError(t, c.Delete(ctx, "a@example.com", "b@example.com"))
	assert.False(t, mr.Exists("bookings:user:a@example.com"))
	assert.False(t, mr.Exists("bookings:user:b@example.com"))
}
