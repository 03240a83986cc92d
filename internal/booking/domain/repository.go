package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	roomdomain "github.com/smallbiznis/staybook/internal/room/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Booking, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Booking, error)
	CountOverlapping(ctx context.Context, db *gorm.DB, roomID snowflake.ID, checkIn, checkOut time.Time, statuses []Status) (int64, error)
	// ListAvailableRooms returns rooms with no booking in statuses overlapping
	// the query window, cheapest first.
	ListAvailableRooms(ctx context.Context, db *gorm.DB, q AvailabilityQuery, statuses []Status) ([]roomdomain.Room, error)
	ListByEmail(ctx context.Context, db *gorm.DB, email string, limit int) ([]Booking, error)
	ListExpired(ctx context.Context, db *gorm.DB, now time.Time, statuses []Status, limit int) ([]Booking, error)

	// ApplyTransition reports false when the guard did not match.
	ApplyTransition(ctx context.Context, db *gorm.DB, t Transition) (bool, error)
	// ApplyResolution returns the ids it actually moved.
	ApplyResolution(ctx context.Context, db *gorm.DB, r Resolution) ([]snowflake.ID, error)
}
