package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/cache"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/room/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Repo   domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	cache cache.Cache[snowflake.ID, domain.Room]
	ttl   time.Duration
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("room.service"),
		repo:  p.Repo,
		cache: cache.NewTTLCache[snowflake.ID, domain.Room](),
		ttl:   p.Config.Booking.RoomCacheTTL,
	}
}

func (s *Service) GetRoom(ctx context.Context, id snowflake.ID) (*domain.Room, error) {
	if room, ok := s.cache.Get(id); ok {
		return &room, nil
	}

	room, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, domain.ErrRoomNotFound
	}
	s.cache.Set(id, *room, s.ttl)
	return room, nil
}
