package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/lock"
	"github.com/smallbiznis/staybook/internal/observability/logger"
	outboxdomain "github.com/smallbiznis/staybook/internal/outbox/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const roomLockPrefix = "room_mutex:"

func (s *Service) CreateBooking(ctx context.Context, req domain.CreateBookingRequest) (*domain.Booking, error) {
	booking, err := s.createBooking(ctx, req)
	s.metrics.RecordBookingCreate(ctx, createResult(err))
	return booking, err
}

func (s *Service) createBooking(ctx context.Context, req domain.CreateBookingRequest) (*domain.Booking, error) {
	checkIn, checkOut := s.normalizeStay(req.CheckIn, req.CheckOut)
	if req.CheckIn.IsZero() || req.CheckOut.IsZero() || !checkOut.After(checkIn) {
		return nil, domain.ErrInvalidDates
	}
	if req.GuestCount < 1 {
		return nil, domain.ErrInvalidGuestCount
	}

	guest := domain.Guest{
		Name:  strings.TrimSpace(req.Guest.Name),
		Email: normalizeEmail(req.Guest.Email),
		Phone: strings.TrimSpace(req.Guest.Phone),
	}
	if guest.Name == "" || !strings.Contains(guest.Email, "@") {
		return nil, domain.ErrInvalidGuest
	}

	method := strings.ToLower(strings.TrimSpace(req.PayMethod))
	if method == "" {
		method = s.cfg.DefaultPayMethod
	}
	if !domain.IsSupportedPayMethod(method) {
		return nil, domain.ErrInvalidPayMethod
	}

	room, err := s.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if req.GuestCount > room.Capacity {
		return nil, domain.ErrInvalidGuestCount
	}

	booking := &domain.Booking{
		RoomID:     room.ID,
		GuestName:  guest.Name,
		GuestEmail: guest.Email,
		GuestPhone: guest.Phone,
		GuestCount: req.GuestCount,
		Note:       strings.TrimSpace(req.Note),
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		TotalPrice: room.PriceByDay * s.nights(checkIn, checkOut),
		Currency:   room.Currency,
		PayMethod:  method,
		Status:     domain.StatusPending,
		Version:    1,
	}

	key := roomLockPrefix + strconv.FormatInt(room.ID.Int64(), 10)
	err = s.locker.WithLock(ctx, key, s.cfg.LockTTL, s.cfg.LockMaxWait, func(ctx context.Context) error {
		overlapping, err := s.repo.CountOverlapping(ctx, s.db, room.ID, checkIn, checkOut, domain.ActiveStatuses())
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return domain.ErrRoomAlreadyBooked
		}
		return s.insertWithEvent(ctx, booking)
	})
	if errors.Is(err, lock.ErrBusy) {
		return nil, domain.ErrRoomBusy
	}
	if err != nil {
		return nil, err
	}

	logger.WithBooking(s.log, booking.ID.Int64(), room.ID.Int64()).Info("booking.created",
		zap.String("external_id", booking.ExternalID),
		zap.Int64("total_price", booking.TotalPrice),
	)
	s.invalidateLists(ctx, booking.GuestEmail)
	return booking, nil
}

// insertWithEvent writes the booking and its BookingCreated event atomically;
// the relay picks the event up after commit.
func (s *Service) insertWithEvent(ctx context.Context, booking *domain.Booking) error {
	now := s.clock.Now()
	booking.ID = s.genID.Generate()
	booking.ExternalID = domain.ExternalIDPrefix + ulid.Make().String()
	booking.ExpiredAt = now.Add(s.cfg.PaymentGrace)
	booking.CreatedAt = now
	booking.UpdatedAt = now

	event, err := outboxdomain.NewEvent(s.genID.Generate(), outboxdomain.EventTypeBookingCreated, booking.ID,
		outboxdomain.BookingCreatedPayload{
			BookingID:  booking.ID,
			ExternalID: booking.ExternalID,
			Amount:     booking.TotalPrice,
			Currency:   booking.Currency,
			Method:     booking.PayMethod,
		}, now)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, booking); err != nil {
			return err
		}
		return s.outbox.Insert(ctx, tx, event)
	})
}

// normalizeStay pins both dates to the hotel's boundary hours in its local
// timezone and returns them in UTC.
func (s *Service) normalizeStay(checkIn, checkOut time.Time) (time.Time, time.Time) {
	at := func(t time.Time, hour int) time.Time {
		y, m, d := t.In(s.location).Date()
		return time.Date(y, m, d, hour, 0, 0, 0, s.location).UTC()
	}
	return at(checkIn, s.cfg.CheckInHour), at(checkOut, s.cfg.CheckOutHour)
}

// nights counts local calendar days between arrival and departure.
func (s *Service) nights(checkIn, checkOut time.Time) int64 {
	day := func(t time.Time) time.Time {
		y, m, d := t.In(s.location).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	n := int64(day(checkOut).Sub(day(checkIn)).Hours() / 24)
	if n < 1 {
		n = 1
	}
	return n
}

func createResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrRoomAlreadyBooked):
		return "already_booked"
	case errors.Is(err, domain.ErrRoomBusy):
		return "busy"
	case errors.Is(err, domain.ErrInvalidDates), errors.Is(err, domain.ErrInvalidGuestCount),
		errors.Is(err, domain.ErrInvalidGuest), errors.Is(err, domain.ErrInvalidPayMethod):
		return "invalid"
	default:
		return "error"
	}
}
