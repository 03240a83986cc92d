package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
	)
}

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, nil, nil), mr
}

func TestTryLockIsExclusive(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "room_mutex:1", 15*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.TryLock(ctx, "room_mutex:1", 15*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 15*time.Second, mr.TTL("room_mutex:1"))
}

func TestTryLockValidatesInput(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	_, _, err := l.TryLock(ctx, "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, _, err = l.TryLock(ctx, "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	var nilLocker *Locker
	_, _, err = nilLocker.TryLock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReleaseOnlyDeletesOwnToken(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "room_mutex:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The first holder's TTL lapses and someone else takes the key.
	mr.FastForward(2 * time.Second)
	other, ok, err := l.TryLock(ctx, "room_mutex:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "room_mutex:1", token))
	got, err := mr.Get("room_mutex:1")
	require.NoError(t, err)
	assert.Equal(t, other, got)

	require.NoError(t, l.Release(ctx, "room_mutex:1", other))
	assert.False(t, mr.Exists("room_mutex:1"))
}

func TestWithLockReleasesOnError(t *testing.T) {
	l, mr := newTestLocker(t)
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "room_mutex:2", time.Second, 100*time.Millisecond, func(context.Context) error {
		assert.True(t, mr.Exists("room_mutex:2"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("room_mutex:2"))
}

func TestWithLockReturnsBusyAfterMaxWait(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	_, ok, err := l.TryLock(ctx, "room_mutex:3", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	start := time.Now()
	err = l.WithLock(ctx, "room_mutex:3", time.Second, 120*time.Millisecond, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, called)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestWithLockWaitIsCancellable(t *testing.T) {
	l, _ := newTestLocker(t)

	_, ok, err := l.TryLock(context.Background(), "room_mutex:4", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = l.WithLock(ctx, "room_mutex:4", time.Second, 5*time.Second, func(context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockBodyIgnoresCallerCancellation(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := l.WithLock(ctx, "room_mutex:5", time.Second, time.Second, func(inner context.Context) error {
		cancel()
		return inner.Err()
	})
	assert.NoError(t, err)
}

func TestWithLockSerializesHolders(t *testing.T) {
	l, _ := newTestLocker(t)

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "room_mutex:6", time.Second, 2*time.Second, func(context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}
