package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTokenBucketRefills(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(newClient(t), clk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "k", 0.5, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i+1)
	}

	res, err := bucket.Allow(ctx, "k", 0.5, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2*time.Second, res.RetryAfter)

	clk.Advance(2 * time.Second)
	res, err = bucket.Allow(ctx, "k", 0.5, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	bucket := NewTokenBucket(newClient(t), nil)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	var nilBucket *TokenBucket
	_, err = nilBucket.Allow(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOTPIssueLimiterIsPerIP(t *testing.T) {
	cfg := config.Config{}
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, OTPIssueRate: 0.1, OTPIssueBurst: 1}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC))
	limiter := NewOTPIssueLimiter(cfg, newClient(t), clk)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 10*time.Second, res.RetryAfter)

	res, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestOTPIssueLimiterDisabled(t *testing.T) {
	limiter := NewOTPIssueLimiter(config.Config{}, nil, nil)
	assert.Nil(t, limiter)

	res, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
