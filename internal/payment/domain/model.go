package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ProviderZaloPay = "zalopay"
	ProviderMoMo    = "momo"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionSuccess   TransactionStatus = "SUCCESS"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionCancelled TransactionStatus = "CANCELLED"
)

// Transaction is the provider-side record of one booking payment. Its
// ProviderTransactionID is the booking external id, one per booking.
type Transaction struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	BookingID             snowflake.ID      `json:"booking_id"`
	Provider              string            `json:"provider"`
	ProviderTransactionID string            `json:"provider_transaction_id"`
	Amount                int64             `json:"amount"`
	Currency              string            `json:"currency"`
	Status                TransactionStatus `json:"status"`
	PayURL                *string           `json:"pay_url,omitempty"`
	RawCallback           datatypes.JSON    `json:"raw_callback,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

type PaymentLinkRequest struct {
	BookingID  snowflake.ID
	ExternalID string
	Amount     int64
	Currency   string
	GuestEmail string
}

type PaymentLink struct {
	ProviderTransactionID string
	PayURL                string
}

// CallbackResult is a provider notification after signature checking.
// Unverified results carry whatever ids could be read and count as failures.
type CallbackResult struct {
	Provider              string
	Verified              bool
	Success               bool
	ProviderTransactionID string
	Amount                int64
	Message               string
	Raw                   []byte
}

// CallbackAck is the provider-specific response to a notification.
type CallbackAck struct {
	StatusCode int
	Body       any
}

type PaymentAdapter interface {
	Provider() string
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLink, error)
	ParseCallback(ctx context.Context, payload []byte, headers http.Header) (*CallbackResult, error)
	Ack(result *CallbackResult) CallbackAck
}

// RevenueQuery selects settled transactions updated in [From, To). An empty
// Provider means every provider.
type RevenueQuery struct {
	From     time.Time
	To       time.Time
	Provider string
}

// RevenueSummary aggregates settled transactions over a window.
type RevenueSummary struct {
	Currency string `json:"currency"`
	Count    int64  `json:"count"`
	Total    int64  `json:"total"`
}

type Repository interface {
	// Insert reports false when a transaction already exists for the
	// provider transaction id.
	Insert(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	FindByProviderTransactionID(ctx context.Context, db *gorm.DB, providerTransactionID string) (*Transaction, error)
	FindByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*Transaction, error)
	FindByBookingIDs(ctx context.Context, db *gorm.DB, bookingIDs []snowflake.ID) ([]Transaction, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []TransactionStatus, to TransactionStatus, raw datatypes.JSON, now time.Time) (bool, error)
	// MarkFailed moves every listed transaction not yet FAILED in one write.
	MarkFailed(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error)
	SumSucceeded(ctx context.Context, db *gorm.DB, q RevenueQuery) ([]RevenueSummary, error)
}

type Service interface {
	CreatePaymentLink(ctx context.Context, bookingID snowflake.ID) error
	CancelTransaction(ctx context.Context, bookingExternalID string) error
	Revenue(ctx context.Context, q RevenueQuery) ([]RevenueSummary, error)
}

type WebhookService interface {
	HandleCallback(ctx context.Context, provider string, payload []byte, headers http.Header) (CallbackAck, error)
}
