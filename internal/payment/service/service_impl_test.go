package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"github.com/smallbiznis/staybook/internal/payment/paymenttest"
	"github.com/smallbiznis/staybook/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bookingID = snowflake.ID(42)

type fixture struct {
	svc      paymentdomain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	adapter  *paymenttest.Adapter
	bookings *paymenttest.Bookings
	repo     paymentdomain.Repository
}

func newFixture(t *testing.T, status bookingdomain.Status) *fixture {
	t.Helper()
	db := paymenttest.SetupDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	adapter := &paymenttest.Adapter{Name: paymentdomain.ProviderZaloPay}
	bookings := paymenttest.NewBookings(bookingdomain.Booking{
		ID:         bookingID,
		ExternalID: "booking__01",
		GuestEmail: "an@example.com",
		TotalPrice: 2_000_000,
		Currency:   "VND",
		PayMethod:  paymentdomain.ProviderZaloPay,
		Status:     status,
	})
	repo := repository.Provide()

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repo,
		Adapters: adapters.NewRegistry(adapter),
		Bookings: bookings,
	})
	return &fixture{svc: svc, db: db, clock: clk, adapter: adapter, bookings: bookings, repo: repo}
}

func TestCreatePaymentLinkStoresTransactionAndMarksReady(t *testing.T) {
	f := newFixture(t, bookingdomain.StatusPending)
	ctx := context.Background()

	require.NoError(t, f.svc.CreatePaymentLink(ctx, bookingID))

	tx, err := f.repo.FindByBookingID(ctx, f.db, bookingID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, "booking__01", tx.ProviderTransactionID)
	assert.Equal(t, paymentdomain.TransactionPending, tx.Status)
	assert.Equal(t, int64(2_000_000), tx.Amount)
	require.NotNil(t, tx.PayURL)
	assert.Equal(t, "https://pay.example/booking__01", *tx.PayURL)
	assert.Equal(t, bookingdomain.StatusPaymentURL, f.bookings.Status(bookingID))
}

func TestCreatePaymentLinkIsIdempotent(t *testing.T) {
	f := newFixture(t, bookingdomain.StatusPending)
	ctx := context.Background()

	require.NoError(t, f.svc.CreatePaymentLink(ctx, bookingID))
	require.NoError(t, f.svc.CreatePaymentLink(ctx, bookingID))

	assert.Equal(t, 1, f.adapter.Calls)
	assert.Equal(t, []snowflake.ID{bookingID}, f.bookings.Republish)

	var count int64
	require.NoError(t, f.db.Raw("SELECT COUNT(1) FROM transactions").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreatePaymentLinkSkipsResolvedBooking(t *testing.T) {
	f := newFixture(t, bookingdomain.StatusCanceled)

	require.NoError(t, f.svc.CreatePaymentLink(context.Background(), bookingID))
	assert.Equal(t, 0, f.adapter.Calls)
}

func TestCreatePaymentLinkWrapsProviderFailure(t *testing.T) {
	f := newFixture(t, bookingdomain.StatusPending)
	f.adapter.LinkErr = errors.New("connection reset")

	err := f.svc.CreatePaymentLink(context.Background(), bookingID)
	require.ErrorIs(t, err, paymentdomain.ErrPaymentLinkCreationFailed)
	assert.Equal(t, bookingdomain.StatusPending, f.bookings.Status(bookingID))

	tx, err := f.repo.FindByBookingID(context.Background(), f.db, bookingID)
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestCreatePaymentLinkResumesStoredTransaction(t *testing.T) {
	f := newFixture(t, bookingdomain.StatusPending)
	ctx := context.Background()

	// A previous attempt stored the transaction but stopped before the status write.
	payURL := "https://pay.example/stored"
	ok, err := f.repo.Insert(ctx, f.db, &paymentdomain.Transaction{
		ID: 7, BookingID: bookingID, Provider: paymentdomain.ProviderZaloPay,
		ProviderTransactionID: "booking__01", Amount: 2_000_000, Currency: "VND",
		Status: paymentdomain.TransactionPending, PayURL: &payURL,
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.svc.CreatePaymentLink(ctx, bookingID))
	assert.Equal(t, 0, f.adapter.Calls)
	assert.Equal(t, bookingdomain.StatusPaymentURL, f.bookings.Status(bookingID))

	booking, err := f.bookings.GetBooking(ctx, bookingID)
	require.NoError(t, err)
	require.NotNil(t, booking.PayURL)
	assert.Equal(t, payURL, *booking.PayURL)
}

func TestCancelTransactionOnlyMovesPending(t *testing.T) {
	f := newFixture(t, bookingdomain.StatusPending)
	ctx := context.Background()
	require.NoError(t, f.svc.CreatePaymentLink(ctx, bookingID))

	require.NoError(t, f.svc.CancelTransaction(ctx, "booking__01"))
	tx, err := f.repo.FindByProviderTransactionID(ctx, f.db, "booking__01")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.TransactionCancelled, tx.Status)

	require.NoError(t, f.svc.CancelTransaction(ctx, "booking__01"))
	require.NoError(t, f.svc.CancelTransaction(ctx, "booking__missing"))
}

func TestRevenueSumsSucceeded(t *testing.T) {
	f := newFixture(t, bookingdomain.StatusPending)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	insert := func(id snowflake.ID, status paymentdomain.TransactionStatus, amount int64, at time.Time) {
		t.Helper()
		ok, err := f.repo.Insert(ctx, f.db, &paymentdomain.Transaction{
			ID: id, BookingID: id, Provider: paymentdomain.ProviderMoMo,
			ProviderTransactionID: "booking__" + id.String(), Amount: amount, Currency: "VND",
			Status: status, CreatedAt: at, UpdatedAt: at,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
	insert(1, paymentdomain.TransactionSuccess, 1_000_000, day.Add(2*time.Hour))
	insert(2, paymentdomain.TransactionSuccess, 500_000, day.Add(20*time.Hour))
	insert(3, paymentdomain.TransactionFailed, 700_000, day.Add(3*time.Hour))
	insert(4, paymentdomain.TransactionSuccess, 900_000, day.Add(25*time.Hour))

	rows, err := f.svc.Revenue(ctx, paymentdomain.RevenueQuery{From: day, To: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "VND", rows[0].Currency)
	assert.Equal(t, int64(2), rows[0].Count)
	assert.Equal(t, int64(1_500_000), rows[0].Total)

	rows, err = f.svc.Revenue(ctx, paymentdomain.RevenueQuery{From: day, To: day})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = f.svc.Revenue(ctx, paymentdomain.RevenueQuery{From: day, To: day.Add(24 * time.Hour), Provider: "ZaloPay"})
	require.NoError(t, err)
	assert.Empty(t, rows, "only momo transactions were settled")

	rows, err = f.svc.Revenue(ctx, paymentdomain.RevenueQuery{From: day, To: day.Add(48 * time.Hour), Provider: paymentdomain.ProviderMoMo})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2_400_000), rows[0].Total)
}
