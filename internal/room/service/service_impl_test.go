package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/room/domain"
	"github.com/smallbiznis/staybook/internal/room/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:room_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE rooms (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL,
		room_type TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		price_by_day INTEGER NOT NULL,
		currency TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error)
	return db
}

func TestGetRoomCachesLookups(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.Provide()
	now := time.Now().UTC()
	require.NoError(t, repo.Insert(context.Background(), db, &domain.Room{
		ID: 7, Code: "R7", RoomType: "deluxe", Capacity: 2, PriceByDay: 1_000_000,
		Currency: "VND", CreatedAt: now, UpdatedAt: now,
	}))

	cfg := config.Config{}
	cfg.Booking.RoomCacheTTL = time.Minute
	svc := New(Params{DB: db, Log: zap.NewNop(), Config: cfg, Repo: repo})

	room, err := svc.GetRoom(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), room.PriceByDay)

	require.NoError(t, db.Exec(`UPDATE rooms SET price_by_day = 5 WHERE id = 7`).Error)
	room, err = svc.GetRoom(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), room.PriceByDay, "second read should come from the cache")

	_, err = svc.GetRoom(context.Background(), snowflake.ID(99))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
