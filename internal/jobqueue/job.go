package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindCreatePaymentLink Kind = "CreatePaymentLink"
	KindCancelTransaction Kind = "CancelTransaction"
	KindSendOTPEmail      Kind = "SendOTPEmail"
	KindSendBookingEmail  Kind = "SendBookingEmail"
)

var ErrUnknownKind = errors.New("unknown_job_kind")

// Job is the closed set of work items. Only types in this package implement it.
type Job interface {
	Kind() Kind
	sealed()
}

type CreatePaymentLink struct {
	BookingID snowflake.ID `json:"booking_id"`
	Amount    int64        `json:"amount"`
	Method    string       `json:"method"`
}

type CancelTransaction struct {
	BookingExternalID string `json:"booking_external_id"`
}

type SendOTPEmail struct {
	Action    string    `json:"action"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

const (
	BookingEmailPaymentLink = "payment_link"
	BookingEmailConfirmed   = "confirmed"
)

type SendBookingEmail struct {
	BookingID snowflake.ID `json:"booking_id"`
	Template  string       `json:"template"`
}

func (CreatePaymentLink) Kind() Kind { return KindCreatePaymentLink }
func (CancelTransaction) Kind() Kind { return KindCancelTransaction }
func (SendOTPEmail) Kind() Kind      { return KindSendOTPEmail }
func (SendBookingEmail) Kind() Kind  { return KindSendBookingEmail }

func (CreatePaymentLink) sealed() {}
func (CancelTransaction) sealed() {}
func (SendOTPEmail) sealed()      {}
func (SendBookingEmail) sealed()  {}

// Envelope is the wire form stored in Redis.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`

	// raw is the exact list entry this envelope was dequeued as.
	raw string
}

// Decode returns the typed job carried by the envelope.
func (e Envelope) Decode() (Job, error) {
	switch e.Kind {
	case KindCreatePaymentLink:
		return decodeAs[CreatePaymentLink](e.Payload)
	case KindCancelTransaction:
		return decodeAs[CancelTransaction](e.Payload)
	case KindSendOTPEmail:
		return decodeAs[SendOTPEmail](e.Payload)
	case KindSendBookingEmail:
		return decodeAs[SendBookingEmail](e.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

func decodeAs[T Job](raw json.RawMessage) (Job, error) {
	var job T
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return job, nil
}
