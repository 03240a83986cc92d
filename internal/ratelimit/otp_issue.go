package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
)

const keyOTPIssueIP = "ratelimit:otp:issue:"

// OTPIssueLimiter throttles code issuance per client IP, on top of the
// per-address resend cooldown.
type OTPIssueLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewOTPIssueLimiter returns nil when rate limiting is disabled; a nil
// limiter allows everything.
func NewOTPIssueLimiter(cfg config.Config, client redis.UniversalClient, clk clock.Clock) *OTPIssueLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || limitCfg.OTPIssueRate <= 0 || limitCfg.OTPIssueBurst <= 0 {
		return nil
	}
	return &OTPIssueLimiter{
		bucket: NewTokenBucket(client, clk),
		rate:   limitCfg.OTPIssueRate,
		burst:  limitCfg.OTPIssueBurst,
	}
}

func (l *OTPIssueLimiter) Allow(ctx context.Context, clientIP string) (*RateLimitResult, error) {
	if l == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}
	return l.bucket.Allow(ctx, keyOTPIssueIP+clientIP, l.rate, l.burst)
}
