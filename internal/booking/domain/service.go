package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	roomdomain "github.com/smallbiznis/staybook/internal/room/domain"
)

type Service interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*Booking, error)
	GetBooking(ctx context.Context, id snowflake.ID) (*Booking, error)
	GetBookingByExternalID(ctx context.Context, externalID string) (*Booking, error)
	GetPaymentView(ctx context.Context, id snowflake.ID) (*PaymentView, error)
	ListUserBookings(ctx context.Context, email string) ([]Booking, error)
	SearchAvailableRooms(ctx context.Context, q AvailabilityQuery) ([]roomdomain.Room, error)

	CancelBooking(ctx context.Context, id snowflake.ID) (*Booking, error)
	MarkPayURLReady(ctx context.Context, id snowflake.ID, payURL string) (*Booking, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (*Booking, error)
	MarkFailed(ctx context.Context, id snowflake.ID) (*Booking, error)
	CheckIn(ctx context.Context, id snowflake.ID) (*Booking, error)
	CheckOut(ctx context.Context, id snowflake.ID) (*Booking, error)

	// RepublishStatus re-emits the current payment view without writing.
	RepublishStatus(ctx context.Context, id snowflake.ID) error

	// ListExpired and ResolveExpired back the payment expiry sweep.
	ListExpired(ctx context.Context, statuses []Status, limit int) ([]Booking, error)
	ResolveExpired(ctx context.Context, bookings []Booking, to Status, from []Status) ([]StatusChange, error)
}

// StatusPublisher receives every status change. Implementations must not block.
type StatusPublisher interface {
	PublishStatus(change StatusChange)
}
