package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/outbox/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, event_type, aggregate_id, payload, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		e.ID,
		e.EventType,
		e.AggregateID,
		e.Payload,
		e.Status,
		e.CreatedAt,
	).Error
}

func (r *repo) ListPublishable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Event, error) {
	var items []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_type, aggregate_id, payload, status, claim_token, claimed_until,
			attempts, last_error, created_at, published_at
		 FROM outbox_events
		 WHERE status = ?
		   AND (claimed_until IS NULL OR claimed_until < ?)
		 ORDER BY created_at, id
		 LIMIT ?`,
		domain.StatusNew,
		now,
		limit,
	).Scan(&items).Error
	return items, err
}

// Claim takes the lease only if no other relay holds a live one.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now, until time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET claim_token = ?, claimed_until = ?, attempts = attempts + 1
		 WHERE id = ?
		   AND status = ?
		   AND (claimed_until IS NULL OR claimed_until < ?)`,
		token,
		until,
		id,
		domain.StatusNew,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?, published_at = ?, last_error = NULL
		 WHERE id = ? AND status = ? AND claim_token = ?`,
		domain.StatusPublished,
		now,
		id,
		domain.StatusNew,
		token,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecordFailure keeps the lease so the event is retried once it lapses.
func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, reason string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET last_error = ?
		 WHERE id = ? AND claim_token = ?`,
		reason,
		id,
		token,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, reason string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?, last_error = ?
		 WHERE id = ? AND status = ? AND claim_token = ?`,
		domain.StatusFailed,
		reason,
		id,
		domain.StatusNew,
		token,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
