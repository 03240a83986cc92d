package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/cache"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/jobqueue"
	"github.com/smallbiznis/staybook/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/staybook/internal/outbox/domain"
	roomdomain "github.com/smallbiznis/staybook/internal/room/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "time/tzdata"
)

const (
	userListPrefix = "bookings:user:"
	userListLimit  = 100

	searchDefaultLimit = 10
	searchMaxLimit     = 50
)

// RoomLocker serializes work on one room across processes.
type RoomLocker interface {
	WithLock(ctx context.Context, key string, ttl, maxWait time.Duration, fn func(ctx context.Context) error) error
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Config    config.Config
	Clock     clock.Clock
	Repo      domain.Repository
	Outbox    outboxdomain.Repository
	Rooms     roomdomain.Service
	Locker    RoomLocker
	Jobs      jobqueue.Enqueuer
	Publisher domain.StatusPublisher
	Redis     redis.UniversalClient
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	outbox    outboxdomain.Repository
	rooms     roomdomain.Service
	locker    RoomLocker
	jobs      jobqueue.Enqueuer
	publisher domain.StatusPublisher
	lists     *cache.RedisJSON[[]domain.Booking]
	metrics   *metrics.Metrics

	cfg      config.BookingConfig
	location *time.Location
}

func New(p Params) (domain.Service, error) {
	loc, err := time.LoadLocation(p.Config.Booking.Timezone)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("booking.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		outbox:    p.Outbox,
		rooms:     p.Rooms,
		locker:    p.Locker,
		jobs:      p.Jobs,
		publisher: p.Publisher,
		lists:     cache.NewRedisJSON[[]domain.Booking](p.Redis, userListPrefix, p.Config.Booking.ListCacheTTL),
		metrics:   p.Metrics,
		cfg:       p.Config.Booking,
		location:  loc,
	}, nil
}

func (s *Service) GetBooking(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrBookingNotFound
	}
	return item, nil
}

func (s *Service) GetBookingByExternalID(ctx context.Context, externalID string) (*domain.Booking, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, domain.ErrBookingNotFound
	}
	item, err := s.repo.FindByExternalID(ctx, s.db, externalID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrBookingNotFound
	}
	return item, nil
}

func (s *Service) GetPaymentView(ctx context.Context, id snowflake.ID) (*domain.PaymentView, error) {
	item, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	view := item.PaymentView()
	return &view, nil
}

// ListUserBookings serves from the shared Redis list cache; every status
// change of the guest's bookings drops the entry.
func (s *Service) ListUserBookings(ctx context.Context, email string) ([]domain.Booking, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, domain.ErrInvalidGuest
	}

	cached, ok, err := s.lists.Get(ctx, email)
	if err != nil {
		s.log.Warn("booking.list_cache.read_failed", zap.Error(err))
	}
	if ok {
		return cached, nil
	}

	items, err := s.repo.ListByEmail(ctx, s.db, email, userListLimit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Booking{}
	}
	if err := s.lists.Set(ctx, email, items); err != nil {
		s.log.Warn("booking.list_cache.write_failed", zap.Error(err))
	}
	return items, nil
}

// SearchAvailableRooms uses the same boundary hours and active statuses as
// CreateBooking, so a listed room can be booked for the same dates.
func (s *Service) SearchAvailableRooms(ctx context.Context, q domain.AvailabilityQuery) ([]roomdomain.Room, error) {
	if q.CheckIn.IsZero() || q.CheckOut.IsZero() {
		return nil, domain.ErrInvalidDates
	}
	q.CheckIn, q.CheckOut = s.normalizeStay(q.CheckIn, q.CheckOut)
	if !q.CheckOut.After(q.CheckIn) {
		return nil, domain.ErrInvalidDates
	}
	if q.Guests < 1 {
		q.Guests = 1
	}
	if q.MaxPrice < 0 {
		q.MaxPrice = 0
	}
	q.RoomType = strings.ToLower(strings.TrimSpace(q.RoomType))
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.Limit < 1:
		q.Limit = searchDefaultLimit
	case q.Limit > searchMaxLimit:
		q.Limit = searchMaxLimit
	}

	rooms, err := s.repo.ListAvailableRooms(ctx, s.db, q, domain.ActiveStatuses())
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []roomdomain.Room{}
	}
	return rooms, nil
}

func (s *Service) invalidateLists(ctx context.Context, emails ...string) {
	if len(emails) == 0 {
		return
	}
	if err := s.lists.Delete(ctx, emails...); err != nil {
		s.log.Warn("booking.list_cache.invalidate_failed", zap.Strings("emails", emails), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
