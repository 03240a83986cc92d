package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/room/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Room, error) {
	var item domain.Room
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, room_type, capacity, price_by_day, currency, created_at, updated_at
		 FROM rooms
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, room *domain.Room) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO rooms (id, code, room_type, capacity, price_by_day, currency, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		room.ID,
		room.Code,
		room.RoomType,
		room.Capacity,
		room.PriceByDay,
		room.Currency,
		room.CreatedAt,
		room.UpdatedAt,
	).Error
}
