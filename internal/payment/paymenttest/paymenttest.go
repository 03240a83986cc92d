// Package paymenttest holds fixtures shared by the payment package tests.
package paymenttest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE transactions (
		id INTEGER PRIMARY KEY,
		booking_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		provider_transaction_id TEXT NOT NULL UNIQUE,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		pay_url TEXT,
		raw_callback TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error)
	return db
}

// Bookings is an in-memory booking service that enforces the payment
// transitions the payment package relies on.
type Bookings struct {
	bookingdomain.Service

	mu        sync.Mutex
	items     map[snowflake.ID]*bookingdomain.Booking
	Republish []snowflake.ID
}

func NewBookings(items ...bookingdomain.Booking) *Bookings {
	b := &Bookings{items: map[snowflake.ID]*bookingdomain.Booking{}}
	for i := range items {
		item := items[i]
		b.items[item.ID] = &item
	}
	return b
}

func (b *Bookings) Status(id snowflake.ID) bookingdomain.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items[id].Status
}

func (b *Bookings) GetBooking(_ context.Context, id snowflake.ID) (*bookingdomain.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[id]
	if !ok {
		return nil, bookingdomain.ErrBookingNotFound
	}
	cp := *item
	return &cp, nil
}

func (b *Bookings) move(id snowflake.ID, to bookingdomain.Status, from ...bookingdomain.Status) (*bookingdomain.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[id]
	if !ok {
		return nil, bookingdomain.ErrBookingNotFound
	}
	if item.Status == to {
		cp := *item
		return &cp, nil
	}
	for _, s := range from {
		if item.Status == s {
			item.Status = to
			item.Version++
			cp := *item
			return &cp, nil
		}
	}
	return nil, bookingdomain.ErrTransitionConflict
}

func (b *Bookings) MarkPayURLReady(_ context.Context, id snowflake.ID, payURL string) (*bookingdomain.Booking, error) {
	item, err := b.move(id, bookingdomain.StatusPaymentURL, bookingdomain.StatusPending)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.items[id].PayURL = &payURL
	b.mu.Unlock()
	item.PayURL = &payURL
	return item, nil
}

func (b *Bookings) MarkPaid(_ context.Context, id snowflake.ID) (*bookingdomain.Booking, error) {
	return b.move(id, bookingdomain.StatusConfirmed, bookingdomain.StatusPending, bookingdomain.StatusPaymentURL)
}

func (b *Bookings) MarkFailed(_ context.Context, id snowflake.ID) (*bookingdomain.Booking, error) {
	return b.move(id, bookingdomain.StatusFailed, bookingdomain.StatusPending, bookingdomain.StatusPaymentURL)
}

func (b *Bookings) RepublishStatus(_ context.Context, id snowflake.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Republish = append(b.Republish, id)
	return nil
}

// ListExpired returns every booking in statuses; expiry is the caller's setup.
func (b *Bookings) ListExpired(_ context.Context, statuses []bookingdomain.Status, limit int) ([]bookingdomain.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bookingdomain.Booking
	for _, item := range b.items {
		for _, s := range statuses {
			if item.Status == s && len(out) < limit {
				out = append(out, *item)
				break
			}
		}
	}
	return out, nil
}

func (b *Bookings) ResolveExpired(_ context.Context, list []bookingdomain.Booking, to bookingdomain.Status, from []bookingdomain.Status) ([]bookingdomain.StatusChange, error) {
	var changes []bookingdomain.StatusChange
	for _, item := range list {
		moved, err := b.move(item.ID, to, from...)
		if errors.Is(err, bookingdomain.ErrTransitionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		changes = append(changes, bookingdomain.StatusChange{
			BookingID:  moved.ID,
			ExternalID: moved.ExternalID,
			Status:     moved.Status,
		})
	}
	return changes, nil
}

// Adapter is a scripted payment provider.
type Adapter struct {
	Name string

	mu       sync.Mutex
	Calls    int
	LinkErr  error
	Callback *paymentdomain.CallbackResult
}

func (a *Adapter) Provider() string { return a.Name }

func (a *Adapter) CreatePaymentLink(_ context.Context, req paymentdomain.PaymentLinkRequest) (*paymentdomain.PaymentLink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls++
	if a.LinkErr != nil {
		return nil, a.LinkErr
	}
	return &paymentdomain.PaymentLink{
		ProviderTransactionID: req.ExternalID,
		PayURL:                "https://pay.example/" + req.ExternalID,
	}, nil
}

func (a *Adapter) ParseCallback(context.Context, []byte, http.Header) (*paymentdomain.CallbackResult, error) {
	if a.Callback == nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	cp := *a.Callback
	cp.Provider = a.Name
	return &cp, nil
}

func (a *Adapter) Ack(*paymentdomain.CallbackResult) paymentdomain.CallbackAck {
	return paymentdomain.CallbackAck{StatusCode: http.StatusNoContent}
}
