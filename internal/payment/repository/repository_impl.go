package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const transactionColumns = `id, booking_id, provider, provider_transaction_id, amount, currency,
	status, pay_url, raw_callback, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider_transaction_id) DO NOTHING`,
		tx.ID,
		tx.BookingID,
		tx.Provider,
		tx.ProviderTransactionID,
		tx.Amount,
		tx.Currency,
		tx.Status,
		tx.PayURL,
		tx.RawCallback,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByProviderTransactionID(ctx context.Context, db *gorm.DB, providerTransactionID string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE provider_transaction_id = ?
		 LIMIT 1`,
		providerTransactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE booking_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		bookingID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByBookingIDs(ctx context.Context, db *gorm.DB, bookingIDs []snowflake.ID) ([]domain.Transaction, error) {
	if len(bookingIDs) == 0 {
		return nil, nil
	}
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE booking_id IN ?`,
		bookingIDs,
	).Scan(&items).Error
	return items, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.TransactionStatus, to domain.TransactionStatus, raw datatypes.JSON, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, raw_callback = COALESCE(?, raw_callback), updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		raw,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, updated_at = ?
		 WHERE id IN ? AND status IN ?`,
		domain.TransactionFailed,
		now,
		ids,
		[]domain.TransactionStatus{domain.TransactionPending, domain.TransactionCancelled},
	)
	return res.RowsAffected, res.Error
}

// SumSucceeded groups settled transactions by currency over [q.From, q.To).
func (r *repo) SumSucceeded(ctx context.Context, db *gorm.DB, q domain.RevenueQuery) ([]domain.RevenueSummary, error) {
	var rows []domain.RevenueSummary
	err := db.WithContext(ctx).Raw(
		`SELECT currency, COUNT(1) AS count, COALESCE(SUM(amount), 0) AS total
		 FROM transactions
		 WHERE status = ?
		   AND updated_at >= ?
		   AND updated_at < ?
		   AND (? = '' OR provider = ?)
		 GROUP BY currency
		 ORDER BY currency`,
		domain.TransactionSuccess,
		q.From,
		q.To,
		q.Provider,
		q.Provider,
	).Scan(&rows).Error
	return rows, err
}
