package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/booking/domain"
	roomdomain "github.com/smallbiznis/staybook/internal/room/domain"
	"gorm.io/gorm"
)

const bookingColumns = `id, external_id, room_id, guest_name, guest_email, guest_phone, guest_count,
	note, check_in, check_out, total_price, currency, pay_method, status, pay_url,
	expired_at, version, created_at, updated_at`

// overlapPredicate matches bookings whose [check_in, check_out) intersects a
// window. Args: statuses, window end, window start.
const overlapPredicate = `status IN ? AND check_in < ? AND check_out > ?`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.ExternalID,
		b.RoomID,
		b.GuestName,
		b.GuestEmail,
		b.GuestPhone,
		b.GuestCount,
		b.Note,
		b.CheckIn,
		b.CheckOut,
		b.TotalPrice,
		b.Currency,
		b.PayMethod,
		b.Status,
		b.PayURL,
		b.ExpiredAt,
		b.Version,
		b.CreatedAt,
		b.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
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

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE external_id = ?
		 LIMIT 1`,
		externalID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Booking, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE id IN ?
		 ORDER BY id`,
		ids,
	).Scan(&items).Error
	return items, err
}

// CountOverlapping counts bookings whose [check_in, check_out) intersects the
// requested window. Touching boundaries do not overlap.
func (r *repo) CountOverlapping(ctx context.Context, db *gorm.DB, roomID snowflake.ID, checkIn, checkOut time.Time, statuses []domain.Status) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM bookings
		 WHERE room_id = ? AND `+overlapPredicate,
		roomID,
		statuses,
		checkOut,
		checkIn,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListAvailableRooms(ctx context.Context, db *gorm.DB, q domain.AvailabilityQuery, statuses []domain.Status) ([]roomdomain.Room, error) {
	var items []roomdomain.Room
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, room_type, capacity, price_by_day, currency, created_at, updated_at
		 FROM rooms
		 WHERE capacity >= ?
		   AND (? = 0 OR price_by_day <= ?)
		   AND (? = '' OR LOWER(room_type) = ?)
		   AND NOT EXISTS (
		     SELECT 1 FROM bookings
		     WHERE bookings.room_id = rooms.id AND `+overlapPredicate+`
		   )
		 ORDER BY price_by_day ASC, id ASC
		 LIMIT ? OFFSET ?`,
		q.Guests,
		q.MaxPrice, q.MaxPrice,
		q.RoomType, q.RoomType,
		statuses,
		q.CheckOut,
		q.CheckIn,
		q.Limit,
		(q.Page-1)*q.Limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListByEmail(ctx context.Context, db *gorm.DB, email string, limit int) ([]domain.Booking, error) {
	var items []domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE guest_email = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		email,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, now time.Time, statuses []domain.Status, limit int) ([]domain.Booking, error) {
	var items []domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE status IN ?
		   AND expired_at <= ?
		 ORDER BY expired_at, id
		 LIMIT ?`,
		statuses,
		now,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ApplyTransition(ctx context.Context, db *gorm.DB, t domain.Transition) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, pay_url = COALESCE(?, pay_url), version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND version = ?`,
		t.ToStatus,
		t.PayURL,
		t.UpdatedAt,
		t.ID,
		t.FromStatus,
		t.FromVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ApplyResolution(ctx context.Context, db *gorm.DB, res domain.Resolution) ([]snowflake.ID, error) {
	if len(res.IDs) == 0 {
		return nil, nil
	}
	var rows []int64
	err := db.WithContext(ctx).Raw(
		`UPDATE bookings
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id IN ? AND status IN ?
		 RETURNING id`,
		res.ToStatus,
		res.UpdatedAt,
		res.IDs,
		res.FromStatuses,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	moved := make([]snowflake.ID, 0, len(rows))
	for _, id := range rows {
		moved = append(moved, snowflake.ID(id))
	}
	return moved, nil
}
