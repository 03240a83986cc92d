package lock

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	minRetryDelay  = 20 * time.Millisecond
	maxRetryDelay  = 60 * time.Millisecond
	releaseTimeout = 2 * time.Second
)

var (
	ErrNotConfigured = errors.New("lock_not_configured")
	ErrEmptyKey      = errors.New("lock_key_empty")
	ErrInvalidTTL    = errors.New("lock_ttl_invalid")
)

type busyError struct{}

func (busyError) Error() string { return "lock_busy" }

// Busy marks contention for metric classification.
func (busyError) Busy() bool { return true }

// ErrBusy is returned by WithLock when maxWait elapses without acquiring the key.
var ErrBusy error = busyError{}

// Locker is a Redis mutex keyed by name. Each holder owns a random token and
// only that token can release the key; the TTL bounds a lost release.
type Locker struct {
	client  redis.UniversalClient
	script  *redis.Script
	log     *zap.Logger
	metrics *metrics.SchedulerMetrics
	jitter  func() time.Duration
}

type Params struct {
	fx.In

	Client  redis.UniversalClient
	Log     *zap.Logger
	Metrics *metrics.SchedulerMetrics `optional:"true"`
}

func New(p Params) *Locker {
	return NewLocker(p.Client, p.Log, p.Metrics)
}

func NewLocker(client redis.UniversalClient, log *zap.Logger, m *metrics.SchedulerMetrics) *Locker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{
		client:  client,
		script:  redis.NewScript(releaseScript),
		log:     log.Named("lock"),
		metrics: m,
		jitter:  defaultJitter,
	}
}

func defaultJitter() time.Duration {
	span := int64(maxRetryDelay - minRetryDelay)
	return minRetryDelay + time.Duration(rand.Int64N(span+1))
}

// TryLock makes one SET NX PX attempt and never waits.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes key only while it still holds token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return ErrNotConfigured
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// WithLock waits up to maxWait for key, then runs fn while holding it.
//
// Only the wait is cancellable: ctx cancellation before acquisition returns
// ctx.Err(), but once fn starts it receives a context that ignores the
// caller's cancellation and runs to completion. Release errors are logged.
func (l *Locker) WithLock(ctx context.Context, key string, ttl, maxWait time.Duration, fn func(ctx context.Context) error) error {
	started := time.Now()
	deadline := started.Add(maxWait)

	var token string
	for {
		got, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			l.metrics.ObserveLock(metrics.LockOutcomeError, time.Since(started))
			return err
		}
		if ok {
			token = got
			break
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.metrics.ObserveLock(metrics.LockOutcomeBusy, time.Since(started))
			return ErrBusy
		}
		delay := l.jitter()
		if delay > remaining {
			delay = remaining
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.metrics.ObserveLock(metrics.LockOutcomeAcquired, time.Since(started))

	bodyCtx := context.WithoutCancel(ctx)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(bodyCtx, releaseTimeout)
		defer cancel()
		if err := l.Release(releaseCtx, key, token); err != nil {
			l.log.Warn("lock.release.failed", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(bodyCtx)
}
