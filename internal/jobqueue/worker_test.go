package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchFunc func(ctx context.Context, job Job) error

func (f dispatchFunc) Dispatch(ctx context.Context, job Job) error { return f(ctx, job) }

func TestHandleSuccessLeavesQueuesEmpty(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	var got Job
	w := NewWorker(q, dispatchFunc(func(_ context.Context, job Job) error {
		got = job
		return nil
	}), clk, nil, nil, WorkerConfig{})

	env, err := q.envelope(SendOTPEmail{Email: "guest@example.com", Code: "000111"})
	require.NoError(t, err)
	w.Handle(ctx, env)

	require.IsType(t, SendOTPEmail{}, got)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestHandleFailureSchedulesRetryWithBackoff(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, dispatchFunc(func(context.Context, Job) error {
		return errors.New("gateway timeout")
	}), clk, nil, nil, WorkerConfig{BaseBackoff: 2 * time.Second})

	env, err := q.envelope(CancelTransaction{BookingExternalID: "booking__x"})
	require.NoError(t, err)
	w.Handle(ctx, env)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1}, stats)

	clk.Advance(time.Second)
	n, err := q.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(time.Second)
	n, err = q.PromoteDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	retried, err := q.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, retried.Attempt)
	assert.Equal(t, "gateway timeout", retried.LastError)
}

func TestHandleDeadLettersAfterMaxAttempts(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, dispatchFunc(func(context.Context, Job) error {
		return errors.New("still down")
	}), clk, nil, nil, WorkerConfig{MaxAttempts: 5})

	env, err := q.envelope(CancelTransaction{BookingExternalID: "booking__x"})
	require.NoError(t, err)
	env.Attempt = 4
	w.Handle(ctx, env)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)
}

func TestHandlePermanentFailureSkipsRetry(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	calls := 0
	w := NewWorker(q, dispatchFunc(func(context.Context, Job) error {
		calls++
		return nil
	}), clk, nil, nil, WorkerConfig{})

	w.Handle(ctx, Envelope{ID: "x", Kind: "Refund", Payload: []byte(`{}`)})

	assert.Zero(t, calls)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)
}

func TestBackoffIsCapped(t *testing.T) {
	w := NewWorker(nil, nil, nil, nil, nil, WorkerConfig{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second})

	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, 5*time.Second, w.backoff(4))
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	q, clk, _ := newTestQueue(t)

	var (
		mu   sync.Mutex
		seen []string
		done = make(chan struct{})
	)
	w := NewWorker(q, dispatchFunc(func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.(CancelTransaction).BookingExternalID)
		if len(seen) == 2 {
			close(done)
		}
		return nil
	}), clk, nil, nil, WorkerConfig{Concurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Enqueue(ctx, CancelTransaction{BookingExternalID: "a"}))
	require.NoError(t, q.Enqueue(ctx, CancelTransaction{BookingExternalID: "b"}))

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not consume both jobs")
	}
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, seen)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestHandleRetryReleasesInFlightEntry(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, dispatchFunc(func(context.Context, Job) error {
		return errors.New("gateway timeout")
	}), clk, nil, nil, WorkerConfig{})

	require.NoError(t, q.Enqueue(ctx, CreatePaymentLink{Amount: 1000, Method: "momo"}))
	env, err := q.Dequeue(ctx, w.consumer, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)

	w.Handle(ctx, *env)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1}, stats)
}
