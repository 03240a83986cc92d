package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrRoomNotFound = errors.New("room_not_found")

// Room is read-only from the booking core's point of view.
type Room struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	Code       string       `json:"code"`
	RoomType   string       `json:"room_type"`
	Capacity   int          `json:"capacity"`
	PriceByDay int64        `json:"price_by_day"`
	Currency   string       `json:"currency"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (Room) TableName() string { return "rooms" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Room, error)
	Insert(ctx context.Context, db *gorm.DB, room *Room) error
}

type Service interface {
	// GetRoom returns ErrRoomNotFound when id does not exist.
	GetRoom(ctx context.Context, id snowflake.ID) (*Room, error)
}
