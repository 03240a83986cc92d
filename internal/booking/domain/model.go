package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaymentURL Status = "PAYMENT_URL"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusCheckedOut Status = "CHECKED_OUT"
)

// ExternalIDPrefix prefixes the opaque booking id shared with guests and
// payment providers.
const ExternalIDPrefix = "booking__"

// Booking is owned by the lifecycle service; status only changes through
// version-guarded transitions.
type Booking struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	ExternalID string       `json:"external_id"`
	RoomID     snowflake.ID `json:"room_id"`
	GuestName  string       `json:"guest_name"`
	GuestEmail string       `json:"guest_email"`
	GuestPhone string       `json:"guest_phone"`
	GuestCount int          `json:"guest_count"`
	Note       string       `json:"note"`
	CheckIn    time.Time    `json:"check_in"`
	CheckOut   time.Time    `json:"check_out"`
	TotalPrice int64        `json:"total_price"`
	Currency   string       `json:"currency"`
	PayMethod  string       `json:"pay_method"`
	Status     Status       `json:"status"`
	PayURL     *string      `json:"pay_url,omitempty"`
	ExpiredAt  time.Time    `json:"expired_at"`
	Version    int64        `json:"version"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

type Guest struct {
	Name  string
	Email string
	Phone string
}

type CreateBookingRequest struct {
	RoomID     snowflake.ID
	CheckIn    time.Time
	CheckOut   time.Time
	GuestCount int
	Guest      Guest
	Note       string
	PayMethod  string
}

// PaymentView is what a guest polls or streams while paying.
type PaymentView struct {
	BookingID  snowflake.ID `json:"booking_id"`
	ExternalID string       `json:"external_id"`
	Status     Status       `json:"status"`
	PayURL     string       `json:"pay_url,omitempty"`
	TotalPrice int64        `json:"total_price"`
	Currency   string       `json:"currency"`
	ExpiredAt  time.Time    `json:"expired_at"`
}

func (b *Booking) PaymentView() PaymentView {
	view := PaymentView{
		BookingID:  b.ID,
		ExternalID: b.ExternalID,
		Status:     b.Status,
		TotalPrice: b.TotalPrice,
		Currency:   b.Currency,
		ExpiredAt:  b.ExpiredAt,
	}
	if b.PayURL != nil {
		view.PayURL = *b.PayURL
	}
	return view
}

// StatusChange is published on every successful transition.
type StatusChange struct {
	BookingID  snowflake.ID `json:"booking_id"`
	ExternalID string       `json:"external_id"`
	GuestEmail string       `json:"-"`
	Status     Status       `json:"status"`
	PayURL     string       `json:"pay_url,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Transition is a conditional status write: it only applies while the row
// still has FromStatus and FromVersion.
type Transition struct {
	ID          snowflake.ID
	FromStatus  Status
	FromVersion int64
	ToStatus    Status
	PayURL      *string
	UpdatedAt   time.Time
}

// Resolution is a grouped write used by the expiry sweep.
type Resolution struct {
	IDs          []snowflake.ID
	FromStatuses []Status
	ToStatus     Status
	UpdatedAt    time.Time
}

// AvailabilityQuery searches rooms free for a whole stay. Zero MaxPrice and
// empty RoomType do not filter.
type AvailabilityQuery struct {
	CheckIn  time.Time
	CheckOut time.Time
	Guests   int
	MaxPrice int64
	RoomType string
	Page     int
	Limit    int
}

// ActiveStatuses occupy the room for their [check_in, check_out) window.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusPaymentURL, StatusConfirmed, StatusCheckedIn}
}

const (
	PayMethodZaloPay = "zalopay"
	PayMethodMoMo    = "momo"
)

func IsSupportedPayMethod(method string) bool {
	return method == PayMethodZaloPay || method == PayMethodMoMo
}
