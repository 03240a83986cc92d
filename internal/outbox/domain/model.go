package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusNew       Status = "NEW"
	StatusPublished Status = "PUBLISHED"
	// StatusFailed is terminal: the event can never be published.
	StatusFailed Status = "FAILED"
)

// ErrUnprocessable marks events no retry can publish, such as an unknown
// type or a payload that does not decode.
var ErrUnprocessable = errors.New("outbox_event_unprocessable")

const EventTypeBookingCreated = "BookingCreated"

// Event is written in the same transaction as the aggregate it describes.
// A relay claims it with a lease before running the side effect.
type Event struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventType    string         `json:"event_type"`
	AggregateID  snowflake.ID   `json:"aggregate_id"`
	Payload      datatypes.JSON `json:"payload"`
	Status       Status         `json:"status"`
	ClaimToken   *string        `json:"-"`
	ClaimedUntil *time.Time     `json:"claimed_until,omitempty"`
	Attempts     int            `json:"attempts"`
	LastError    *string        `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
}

func (Event) TableName() string { return "outbox_events" }

type BookingCreatedPayload struct {
	BookingID  snowflake.ID `json:"booking_id"`
	ExternalID string       `json:"external_id"`
	Amount     int64        `json:"amount"`
	Currency   string       `json:"currency"`
	Method     string       `json:"method"`
}

func NewEvent(id snowflake.ID, eventType string, aggregateID snowflake.ID, payload any, now time.Time) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:          id,
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     datatypes.JSON(raw),
		Status:      StatusNew,
		CreatedAt:   now,
	}, nil
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	// ListPublishable returns NEW events whose claim lease is absent or lapsed,
	// oldest first.
	ListPublishable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Event, error)
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now, until time.Time) (bool, error)
	MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) (bool, error)
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, reason string) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, reason string) (bool, error)
}

// Processor runs the side effect for one event. It must be idempotent; a
// crash between the side effect and MarkPublished replays it.
type Processor interface {
	Process(ctx context.Context, event Event) error
}
