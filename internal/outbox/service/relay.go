package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/observability/metrics"
	"github.com/smallbiznis/staybook/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultBatchSize   = 100
	DefaultLease       = 30 * time.Second
	DefaultMaxAttempts = 20
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	Processor domain.Processor
	Metrics   *metrics.Metrics `optional:"true"`
}

// Relay publishes NEW outbox events. Concurrent relays are safe: each event
// is claimed with a lease before its side effect runs.
type Relay struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        domain.Repository
	processor   domain.Processor
	metrics     *metrics.Metrics
	batchSize   int
	lease       time.Duration
	maxAttempts int
	newToken    func() string
}

func New(p Params) *Relay {
	return &Relay{
		db:          p.DB,
		log:         p.Log.Named("outbox.relay"),
		clock:       p.Clock,
		repo:        p.Repo,
		processor:   p.Processor,
		metrics:     p.Metrics,
		batchSize:   DefaultBatchSize,
		lease:       DefaultLease,
		maxAttempts: DefaultMaxAttempts,
		newToken:    uuid.NewString,
	}
}

// PublishNew processes one batch and returns how many events it published.
// A failing event is logged and left for a later run.
func (r *Relay) PublishNew(ctx context.Context) (int, error) {
	events, err := r.repo.ListPublishable(ctx, r.db, r.clock.Now(), r.batchSize)
	if err != nil {
		return 0, err
	}

	published := make(map[string]int)
	total := 0
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ok, err := r.publishOne(ctx, event)
		if err != nil {
			r.log.Warn("outbox.publish.failed",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
			continue
		}
		if ok {
			published[event.EventType]++
			total++
		}
	}

	for eventType, n := range published {
		r.metrics.RecordOutboxPublished(ctx, eventType, n)
	}
	return total, nil
}

func (r *Relay) publishOne(ctx context.Context, event domain.Event) (bool, error) {
	token := r.newToken()
	now := r.clock.Now()
	claimed, err := r.repo.Claim(ctx, r.db, event.ID, token, now, now.Add(r.lease))
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return false, nil
	}

	if err := r.processor.Process(ctx, event); err != nil {
		// Claim has already counted this attempt.
		if errors.Is(err, domain.ErrUnprocessable) || event.Attempts+1 >= r.maxAttempts {
			if _, failErr := r.repo.MarkFailed(ctx, r.db, event.ID, token, err.Error()); failErr != nil {
				r.log.Warn("outbox.mark_failed.failed", zap.String("event_id", event.ID.String()), zap.Error(failErr))
				return false, err
			}
			r.log.Error("outbox.event.failed",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err),
			)
			return false, nil
		}
		if recErr := r.repo.RecordFailure(ctx, r.db, event.ID, token, err.Error()); recErr != nil {
			r.log.Warn("outbox.record_failure.failed", zap.String("event_id", event.ID.String()), zap.Error(recErr))
		}
		return false, err
	}

	marked, err := r.repo.MarkPublished(ctx, r.db, event.ID, token, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("mark published: %w", err)
	}
	if !marked {
		// The lease lapsed mid-flight and another relay took over.
		r.log.Warn("outbox.lease.lost", zap.String("event_id", event.ID.String()))
	}
	return marked, nil
}

// Pending reports the NEW events a relay would pick up now.
func (r *Relay) Pending(ctx context.Context) ([]snowflake.ID, error) {
	events, err := r.repo.ListPublishable(ctx, r.db, r.clock.Now(), r.batchSize)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids, nil
}
