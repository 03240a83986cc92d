package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/jobqueue"
	"github.com/smallbiznis/staybook/internal/outbox/domain"
	"github.com/smallbiznis/staybook/internal/outbox/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type countingProcessor struct {
	mu    sync.Mutex
	calls map[snowflake.ID]int
	order []snowflake.ID
	fail  func(domain.Event) error
}

func (p *countingProcessor) Process(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(event); err != nil {
			return err
		}
	}
	if p.calls == nil {
		p.calls = make(map[snowflake.ID]int)
	}
	p.calls[event.ID]++
	p.order = append(p.order, event.ID)
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE outbox_events (
		id INTEGER PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_id INTEGER NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		claim_token TEXT,
		claimed_until DATETIME,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		published_at DATETIME
	)`).Error)
	return db
}

func seedEvents(t *testing.T, db *gorm.DB, clk *clock.FakeClock, n int) []snowflake.ID {
	t.Helper()
	repo := repository.Provide()
	ids := make([]snowflake.ID, 0, n)
	for i := 1; i <= n; i++ {
		id := snowflake.ID(i)
		event, err := domain.NewEvent(id, domain.EventTypeBookingCreated, snowflake.ID(1000+i),
			domain.BookingCreatedPayload{BookingID: snowflake.ID(1000 + i), Amount: 500_000, Method: "momo"},
			clk.Now().Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, repo.Insert(context.Background(), db, event))
		ids = append(ids, id)
	}
	return ids
}

func newTestRelay(db *gorm.DB, clk clock.Clock, p domain.Processor) *Relay {
	return New(Params{DB: db, Log: zap.NewNop(), Clock: clk, Repo: repository.Provide(), Processor: p})
}

func statusOf(t *testing.T, db *gorm.DB, id snowflake.ID) domain.Status {
	t.Helper()
	var status string
	require.NoError(t, db.Raw(`SELECT status FROM outbox_events WHERE id = ?`, id).Scan(&status).Error)
	return domain.Status(status)
}

func TestPublishNewPublishesOldestFirstOnce(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ids := seedEvents(t, db, clk, 3)
	proc := &countingProcessor{}
	relay := newTestRelay(db, clk, proc)

	n, err := relay.PublishNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, ids, proc.order)
	for _, id := range ids {
		assert.Equal(t, domain.StatusPublished, statusOf(t, db, id))
	}

	n, err = relay.PublishNew(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, proc.order, 3)
}

func TestPublishNewRetriesFailedEventAfterLease(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ids := seedEvents(t, db, clk, 2)

	failing := true
	proc := &countingProcessor{fail: func(e domain.Event) error {
		if failing && e.ID == ids[0] {
			return errors.New("redis down")
		}
		return nil
	}}
	relay := newTestRelay(db, clk, proc)

	n, err := relay.PublishNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the batch continues past a failing event")
	assert.Equal(t, domain.StatusNew, statusOf(t, db, ids[0]))

	var lastError string
	require.NoError(t, db.Raw(`SELECT last_error FROM outbox_events WHERE id = ?`, ids[0]).Scan(&lastError).Error)
	assert.Equal(t, "redis down", lastError)

	failing = false
	n, err = relay.PublishNew(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "the failed event keeps its lease")

	clk.Advance(DefaultLease + time.Second)
	n, err = relay.PublishNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPublished, statusOf(t, db, ids[0]))

	var attempts int
	require.NoError(t, db.Raw(`SELECT attempts FROM outbox_events WHERE id = ?`, ids[0]).Scan(&attempts).Error)
	assert.Equal(t, 2, attempts)
}

func TestConcurrentRelaysRunEachSideEffectOnce(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ids := seedEvents(t, db, clk, 25)
	proc := &countingProcessor{}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := newTestRelay(db, clk, proc).PublishNew(context.Background())
			if err != nil {
				t.Errorf("publish: %v", err)
				return
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(ids), total)
	for _, id := range ids {
		assert.Equal(t, 1, proc.calls[id], "event %s", id)
	}
}

func TestJobProcessorEnqueuesPaymentLink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue := jobqueue.NewQueue(client, clock.NewSystemClock())
	proc := NewJobProcessor(queue)

	event, err := domain.NewEvent(1, domain.EventTypeBookingCreated, 77,
		domain.BookingCreatedPayload{BookingID: 77, ExternalID: "booking__x", Amount: 2_000_000, Method: "zalopay"},
		time.Now())
	require.NoError(t, err)
	require.NoError(t, proc.Process(context.Background(), *event))

	env, err := queue.Dequeue(context.Background(), "test", time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	job, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, jobqueue.CreatePaymentLink{BookingID: 77, Amount: 2_000_000, Method: "zalopay"}, job)

	err = proc.Process(context.Background(), domain.Event{EventType: "RoomRenamed"})
	assert.ErrorIs(t, err, domain.ErrUnprocessable)
}

func TestPublishNewFailsUnknownEventTypeOnce(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	event, err := domain.NewEvent(9, "RoomRenamed", 1, map[string]string{"name": "Lotus"}, clk.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), db, event))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	relay := newTestRelay(db, clk, NewJobProcessor(jobqueue.NewQueue(client, clk)))

	n, err := relay.PublishNew(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.StatusFailed, statusOf(t, db, event.ID))

	clk.Advance(DefaultLease + time.Second)
	pending, err := relay.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "a failed event is never leased again")
}

func TestPublishNewFailsEventAfterMaxAttempts(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ids := seedEvents(t, db, clk, 1)
	proc := &countingProcessor{fail: func(domain.Event) error { return errors.New("redis down") }}
	relay := newTestRelay(db, clk, proc)
	relay.maxAttempts = 3

	for i := 0; i < 3; i++ {
		_, err := relay.PublishNew(context.Background())
		require.NoError(t, err)
		clk.Advance(DefaultLease + time.Second)
	}

	assert.Equal(t, domain.StatusFailed, statusOf(t, db, ids[0]))
	var attempts int
	require.NoError(t, db.Raw(`SELECT attempts FROM outbox_events WHERE id = ?`, ids[0]).Scan(&attempts).Error)
	assert.Equal(t, 3, attempts)
}
