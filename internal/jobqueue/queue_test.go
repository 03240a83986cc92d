package jobqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
	)
}

func newTestQueue(t *testing.T) (*Queue, *clock.FakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	return NewQueue(client, clk), clk, mr
}

func TestEnvelopeDecodeRoundTripsEveryKind(t *testing.T) {
	jobs := []Job{
		CreatePaymentLink{BookingID: snowflake.ID(42), Amount: 2000000, Method: "zalopay"},
		CancelTransaction{BookingExternalID: "booking__01HX"},
		SendOTPEmail{Action: "login", Email: "guest@example.com", Code: "123456"},
		SendBookingEmail{BookingID: snowflake.ID(7), Template: BookingEmailConfirmed},
	}

	for _, job := range jobs {
		payload, err := json.Marshal(job)
		require.NoError(t, err)

		got, err := Envelope{Kind: job.Kind(), Payload: payload}.Decode()
		require.NoError(t, err)
		assert.Equal(t, job.Kind(), got.Kind())
	}
}

func TestEnvelopeDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Envelope{Kind: "Refund", Payload: []byte(`{}`)}.Decode()
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestQueueIsFIFO(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, CancelTransaction{BookingExternalID: "first"}))
	require.NoError(t, q.Enqueue(ctx, CancelTransaction{BookingExternalID: "second"}))

	for _, want := range []string{"first", "second"} {
		env, err := q.Dequeue(ctx, "w1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, env)
		job, err := env.Decode()
		require.NoError(t, err)
		assert.Equal(t, want, job.(CancelTransaction).BookingExternalID)
	}
}

func TestDequeueTimesOutEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t)

	env, err := q.Dequeue(context.Background(), "w1", time.Second)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestPromoteDueOnlyMovesDueEnvelopes(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	env, err := q.envelope(CancelTransaction{BookingExternalID: "later"})
	require.NoError(t, err)
	require.NoError(t, q.RetryAt(ctx, "w1", env, clk.Now().Add(10*time.Second)))

	n, err := q.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(10 * time.Second)
	n, err = q.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 1}, stats)
}

func TestEnqueueRejectsNil(t *testing.T) {
	q, _, _ := newTestQueue(t)
	assert.Error(t, q.Enqueue(context.Background(), nil))
}

func TestDequeuedJobIsRedeliveredAfterConsumerDies(t *testing.T) {
	q, _, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Heartbeat(ctx, "w1", 15*time.Second))
	require.NoError(t, q.Enqueue(ctx, CreatePaymentLink{BookingID: snowflake.ID(42), Amount: 2000000, Method: "zalopay"}))

	env, err := q.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processing: 1}, stats)

	// w1 never handles the job and its heartbeat lapses.
	n, err := q.RequeueOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a live consumer keeps its in-flight work")

	mr.FastForward(16 * time.Second)
	n, err = q.RequeueOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	redelivered, err := q.Dequeue(ctx, "w2", time.Second)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, env.ID, redelivered.ID)
	job, err := redelivered.Decode()
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), job.(CreatePaymentLink).BookingID)
}

func TestAckRemovesInFlightEnvelope(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, CancelTransaction{BookingExternalID: "booking__a"}))
	env, err := q.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, q.Ack(ctx, "w1", *env))

	n, err := q.RequeueOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestRetireRequeuesLeftovers(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Heartbeat(ctx, "w1", time.Minute))
	require.NoError(t, q.Enqueue(ctx, CancelTransaction{BookingExternalID: "booking__b"}))
	_, err := q.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)

	n, err := q.Retire(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 1}, stats)
}
