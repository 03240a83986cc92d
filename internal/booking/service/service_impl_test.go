package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/booking/repository"
	"github.com/smallbiznis/staybook/internal/booking/statushub"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/jobqueue"
	"github.com/smallbiznis/staybook/internal/lock"
	outboxrepo "github.com/smallbiznis/staybook/internal/outbox/repository"
	roomdomain "github.com/smallbiznis/staybook/internal/room/domain"
	roomrepo "github.com/smallbiznis/staybook/internal/room/repository"
	roomservice "github.com/smallbiznis/staybook/internal/room/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testRoomID = snowflake.ID(101)

type fixture struct {
	svc   *Service
	db    *gorm.DB
	clock *clock.FakeClock
	queue *jobqueue.Queue
	hub   *statushub.Hub
	redis *miniredis.Miniredis
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:booking_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range []string{
		`CREATE TABLE rooms (
			id INTEGER PRIMARY KEY,
			code TEXT NOT NULL,
			room_type TEXT NOT NULL,
			capacity INTEGER NOT NULL,
			price_by_day INTEGER NOT NULL,
			currency TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE bookings (
			id INTEGER PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			room_id INTEGER NOT NULL,
			guest_name TEXT NOT NULL,
			guest_email TEXT NOT NULL,
			guest_phone TEXT NOT NULL,
			guest_count INTEGER NOT NULL,
			note TEXT NOT NULL,
			check_in DATETIME NOT NULL,
			check_out DATETIME NOT NULL,
			total_price INTEGER NOT NULL,
			currency TEXT NOT NULL,
			pay_method TEXT NOT NULL,
			status TEXT NOT NULL,
			pay_url TEXT,
			expired_at DATETIME NOT NULL,
			version INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE outbox_events (
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
		)`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func assertCount(t *testing.T, db *gorm.DB, table string, want int64) {
	t.Helper()
	var got int64
	require.NoError(t, db.Raw("SELECT COUNT(1) FROM "+table).Scan(&got).Error)
	assert.Equal(t, want, got, "rows in %s", table)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{}
	cfg.Booking = config.BookingConfig{
		Timezone:         "Asia/Ho_Chi_Minh",
		CheckInHour:      14,
		CheckOutHour:     12,
		PaymentGrace:     10 * time.Minute,
		CancelCutoff:     48 * time.Hour,
		LockTTL:          15 * time.Second,
		LockMaxWait:      2 * time.Second,
		ListCacheTTL:     5 * time.Minute,
		RoomCacheTTL:     time.Minute,
		DefaultPayMethod: domain.PayMethodZaloPay,
	}

	rooms := roomrepo.Provide()
	require.NoError(t, rooms.Insert(context.Background(), db, &roomdomain.Room{
		ID: testRoomID, Code: "D-101", RoomType: "deluxe", Capacity: 2, PriceByDay: 1_000_000,
		Currency: "VND", CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}))

	queue := jobqueue.NewQueue(client, clk)
	hub := statushub.NewHub()
	svc, err := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Config:    cfg,
		Clock:     clk,
		Repo:      repository.Provide(),
		Outbox:    outboxrepo.Provide(),
		Rooms:     roomservice.New(roomservice.Params{DB: db, Log: zap.NewNop(), Config: cfg, Repo: rooms}),
		Locker:    lock.NewLocker(client, nil, nil),
		Jobs:      queue,
		Publisher: hub,
		Redis:     client,
	})
	require.NoError(t, err)

	return &fixture{svc: svc.(*Service), db: db, clock: clk, queue: queue, hub: hub, redis: mr}
}

func localDate(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	d, err := time.ParseInLocation("2006-01-02", value, loc)
	require.NoError(t, err)
	return d
}

func (f *fixture) request(t *testing.T, checkIn, checkOut string) domain.CreateBookingRequest {
	return domain.CreateBookingRequest{
		RoomID:     testRoomID,
		CheckIn:    localDate(t, checkIn),
		CheckOut:   localDate(t, checkOut),
		GuestCount: 2,
		Guest:      domain.Guest{Name: "Linh Tran", Email: "Guest@Example.com", Phone: "0900000000"},
	}
}

func (f *fixture) nextJob(t *testing.T) jobqueue.Job {
	t.Helper()
	env, err := f.queue.Dequeue(context.Background(), "test", time.Second)
	require.NoError(t, err)
	require.NotNil(t, env, "expected a queued job")
	job, err := env.Decode()
	require.NoError(t, err)
	return job
}

func TestCreateBookingNormalizesStayAndPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), b.CheckIn)
	assert.Equal(t, time.Date(2026, 3, 12, 5, 0, 0, 0, time.UTC), b.CheckOut)
	assert.Equal(t, int64(2_000_000), b.TotalPrice)
	assert.Equal(t, domain.StatusPending, b.Status)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, "guest@example.com", b.GuestEmail)
	assert.Equal(t, domain.PayMethodZaloPay, b.PayMethod)
	assert.True(t, strings.HasPrefix(b.ExternalID, domain.ExternalIDPrefix))
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), b.ExpiredAt)

	assertCount(t, f.db, "bookings", 1)
	assertCount(t, f.db, "outbox_events", 1)

	var eventType string
	require.NoError(t, f.db.Raw(`SELECT event_type FROM outbox_events WHERE aggregate_id = ?`, b.ID).Scan(&eventType).Error)
	assert.Equal(t, "BookingCreated", eventType)

	stored, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ExternalID, stored.ExternalID)
	assert.Equal(t, b.CheckIn, stored.CheckIn.UTC())
}

func TestCreateBookingRejectsOverlapButAcceptsTouchingStay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, f.request(t, "2026-03-11", "2026-03-13"))
	assert.ErrorIs(t, err, domain.ErrRoomAlreadyBooked)

	_, err = f.svc.CreateBooking(ctx, f.request(t, "2026-03-08", "2026-03-15"))
	assert.ErrorIs(t, err, domain.ErrRoomAlreadyBooked)

	_, err = f.svc.CreateBooking(ctx, f.request(t, "2026-03-12", "2026-03-14"))
	assert.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, f.request(t, "2026-03-07", "2026-03-10"))
	assert.NoError(t, err)

	assertCount(t, f.db, "bookings", 3)
}

func TestCreateBookingIgnoresResolvedBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)
	_, err = f.svc.MarkFailed(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	assert.NoError(t, err)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sameDay := f.request(t, "2026-03-10", "2026-03-10")
	_, err := f.svc.CreateBooking(ctx, sameDay)
	assert.ErrorIs(t, err, domain.ErrInvalidDates)

	crowded := f.request(t, "2026-03-10", "2026-03-11")
	crowded.GuestCount = 3
	_, err = f.svc.CreateBooking(ctx, crowded)
	assert.ErrorIs(t, err, domain.ErrInvalidGuestCount)

	empty := f.request(t, "2026-03-10", "2026-03-11")
	empty.GuestCount = 0
	_, err = f.svc.CreateBooking(ctx, empty)
	assert.ErrorIs(t, err, domain.ErrInvalidGuestCount)

	noEmail := f.request(t, "2026-03-10", "2026-03-11")
	noEmail.Guest.Email = "nobody"
	_, err = f.svc.CreateBooking(ctx, noEmail)
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)

	badMethod := f.request(t, "2026-03-10", "2026-03-11")
	badMethod.PayMethod = "cash"
	_, err = f.svc.CreateBooking(ctx, badMethod)
	assert.ErrorIs(t, err, domain.ErrInvalidPayMethod)

	missingRoom := f.request(t, "2026-03-10", "2026-03-11")
	missingRoom.RoomID = 999
	_, err = f.svc.CreateBooking(ctx, missingRoom)
	assert.ErrorIs(t, err, roomdomain.ErrRoomNotFound)

	assertCount(t, f.db, "bookings", 0)
}

func TestCreateBookingConcurrentRequestsYieldOneBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.rooms.GetRoom(ctx, testRoomID)
	require.NoError(t, err)

	const workers = 8
	req := f.request(t, "2026-04-01", "2026-04-03")
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateBooking(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case err == domain.ErrRoomAlreadyBooked || err == domain.ErrRoomBusy:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
	assertCount(t, f.db, "bookings", 1)
	assertCount(t, f.db, "outbox_events", 1)
}

func TestCreateBookingReportsBusyRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.LockMaxWait = 100 * time.Millisecond

	require.NoError(t, f.redis.Set("room_mutex:101", "someone-else"))

	_, err := f.svc.CreateBooking(ctx, f.request(t, "2026-04-01", "2026-04-03"))
	assert.ErrorIs(t, err, domain.ErrRoomBusy)
	assertCount(t, f.db, "bookings", 0)
}

func TestPaymentTransitionsPublishAndEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	sub, _, err := f.hub.Subscribe(b.ExternalID)
	require.NoError(t, err)
	defer sub.Close()

	ready, err := f.svc.MarkPayURLReady(ctx, b.ID, "https://pay.example/abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentURL, ready.Status)
	assert.Equal(t, int64(2), ready.Version)

	change := <-sub.Events()
	assert.Equal(t, domain.StatusPaymentURL, change.Status)
	assert.Equal(t, "https://pay.example/abc", change.PayURL)

	job := f.nextJob(t)
	assert.Equal(t, jobqueue.SendBookingEmail{BookingID: b.ID, Template: jobqueue.BookingEmailPaymentLink}, job)

	paid, err := f.svc.MarkPaid(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, paid.Status)
	assert.Equal(t, int64(3), paid.Version)
	assert.Equal(t, domain.StatusConfirmed, (<-sub.Events()).Status)
	assert.Equal(t, jobqueue.SendBookingEmail{BookingID: b.ID, Template: jobqueue.BookingEmailConfirmed}, f.nextJob(t))

	again, err := f.svc.MarkPaid(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), again.Version, "re-applying the same status must not write")

	_, err = f.svc.MarkFailed(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrTransitionConflict)

	view, err := f.svc.GetPaymentView(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, view.Status)
	assert.Equal(t, "https://pay.example/abc", view.PayURL)
}

func TestWebhookMayConfirmBeforePayURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(ctx, b.ID)
	require.NoError(t, err)

	_, err = f.svc.MarkPayURLReady(ctx, b.ID, "https://pay.example/late")
	assert.ErrorIs(t, err, domain.ErrTransitionConflict)
}

func TestCancelBookingHonorsCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	far, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)
	near, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-02", "2026-03-04"))
	require.NoError(t, err)

	canceled, err := f.svc.CancelBooking(ctx, far.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)
	assert.Equal(t, jobqueue.CancelTransaction{BookingExternalID: far.ExternalID}, f.nextJob(t))

	again, err := f.svc.CancelBooking(ctx, far.ID)
	require.NoError(t, err)
	assert.Equal(t, canceled.Version, again.Version)

	_, err = f.svc.CancelBooking(ctx, near.ID)
	assert.ErrorIs(t, err, domain.ErrCancelTooLate)

	_, err = f.svc.CancelBooking(ctx, snowflake.ID(12345))
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestFrontDeskTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	_, err = f.svc.CheckIn(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.MarkPaid(ctx, b.ID)
	require.NoError(t, err)
	in, err := f.svc.CheckIn(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCheckedIn, in.Status)
	out, err := f.svc.CheckOut(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCheckedOut, out.Status)
}

func TestResolveExpiredMovesOnlyUntouchedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)
	b, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-12", "2026-03-14"))
	require.NoError(t, err)
	_, err = f.svc.MarkPayURLReady(ctx, b.ID, "https://pay.example/b")
	require.NoError(t, err)
	f.nextJob(t)

	pendingOnly := []domain.Status{domain.StatusPending}
	expired, err := f.svc.ListExpired(ctx, pendingOnly, 10)
	require.NoError(t, err)
	assert.Empty(t, expired, "grace period has not elapsed")

	f.clock.Advance(11 * time.Minute)
	sweepable := []domain.Status{domain.StatusPending, domain.StatusPaymentURL}
	expired, err = f.svc.ListExpired(ctx, sweepable, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)

	// b is paid between the listing and the grouped write.
	_, err = f.svc.MarkPaid(ctx, b.ID)
	require.NoError(t, err)
	f.nextJob(t)

	changes, err := f.svc.ResolveExpired(ctx, expired, domain.StatusFailed, sweepable)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, a.ID, changes[0].BookingID)

	got, err := f.svc.GetBooking(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, int64(2), got.Version)

	got, err = f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
}

func TestListUserBookingsIsInvalidatedOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	list, err := f.svc.ListUserBookings(ctx, " GUEST@example.com ")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, f.redis.Exists("bookings:user:guest@example.com"))

	_, err = f.svc.MarkFailed(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, f.redis.Exists("bookings:user:guest@example.com"))

	list, err = f.svc.ListUserBookings(ctx, "guest@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusFailed, list[0].Status)

	_, err = f.svc.ListUserBookings(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)
}

func TestSearchAvailableRoomsExcludesOverlappingStays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rooms := roomrepo.Provide()
	for _, room := range []roomdomain.Room{
		{ID: 102, Code: "S-201", RoomType: "Suite", Capacity: 4, PriceByDay: 2_500_000},
		{ID: 103, Code: "T-301", RoomType: "standard", Capacity: 2, PriceByDay: 600_000},
	} {
		room.Currency = "VND"
		room.CreatedAt, room.UpdatedAt = f.clock.Now(), f.clock.Now()
		require.NoError(t, rooms.Insert(ctx, f.db, &room))
	}

	_, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	ids := func(items []roomdomain.Room) []snowflake.ID {
		out := make([]snowflake.ID, 0, len(items))
		for _, item := range items {
			out = append(out, item.ID)
		}
		return out
	}
	search := func(q domain.AvailabilityQuery) []snowflake.ID {
		t.Helper()
		items, err := f.svc.SearchAvailableRooms(ctx, q)
		require.NoError(t, err)
		return ids(items)
	}

	overlapping := domain.AvailabilityQuery{CheckIn: localDate(t, "2026-03-11"), CheckOut: localDate(t, "2026-03-13"), Guests: 2}
	assert.Equal(t, []snowflake.ID{103, 102}, search(overlapping))

	touching := domain.AvailabilityQuery{CheckIn: localDate(t, "2026-03-12"), CheckOut: localDate(t, "2026-03-14")}
	assert.Equal(t, []snowflake.ID{103, testRoomID, 102}, search(touching))

	q := touching
	q.Guests = 3
	assert.Equal(t, []snowflake.ID{102}, search(q))

	q = touching
	q.MaxPrice = 1_000_000
	assert.Equal(t, []snowflake.ID{103, testRoomID}, search(q))

	q = touching
	q.RoomType = " SUITE "
	assert.Equal(t, []snowflake.ID{102}, search(q))

	q = touching
	q.Page, q.Limit = 2, 1
	assert.Equal(t, []snowflake.ID{testRoomID}, search(q))

	q = touching
	q.Page = 5
	assert.Empty(t, search(q))
}

func TestSearchAvailableRoomsIgnoresResolvedBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(t, "2026-03-10", "2026-03-12"))
	require.NoError(t, err)

	q := domain.AvailabilityQuery{CheckIn: localDate(t, "2026-03-10"), CheckOut: localDate(t, "2026-03-12")}
	items, err := f.svc.SearchAvailableRooms(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.svc.MarkFailed(ctx, b.ID)
	require.NoError(t, err)

	items, err = f.svc.SearchAvailableRooms(ctx, q)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, testRoomID, items[0].ID)
}

func TestSearchAvailableRoomsRejectsInvertedStay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SearchAvailableRooms(ctx, domain.AvailabilityQuery{
		CheckIn:  localDate(t, "2026-03-12"),
		CheckOut: localDate(t, "2026-03-12"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDates)

	_, err = f.svc.SearchAvailableRooms(ctx, domain.AvailabilityQuery{CheckIn: localDate(t, "2026-03-12")})
	assert.ErrorIs(t, err, domain.ErrInvalidDates)
}
