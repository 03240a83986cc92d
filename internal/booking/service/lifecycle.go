package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/booking/guard"
	"github.com/smallbiznis/staybook/internal/jobqueue"
	"github.com/smallbiznis/staybook/internal/observability/logger"
	"go.uber.org/zap"
)

// maxTransitionAttempts bounds reload-and-retry after losing a version race.
const maxTransitionAttempts = 3

type transitionStep struct {
	to     domain.Status
	payURL *string
	// check runs against every freshly loaded row before writing.
	check func(current *domain.Booking) error
}

func (s *Service) MarkPayURLReady(ctx context.Context, id snowflake.ID, payURL string) (*domain.Booking, error) {
	return s.transition(ctx, id, transitionStep{to: domain.StatusPaymentURL, payURL: &payURL})
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	return s.transition(ctx, id, transitionStep{to: domain.StatusConfirmed})
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	return s.transition(ctx, id, transitionStep{to: domain.StatusFailed})
}

func (s *Service) CheckIn(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	return s.transition(ctx, id, transitionStep{to: domain.StatusCheckedIn})
}

func (s *Service) CheckOut(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	return s.transition(ctx, id, transitionStep{to: domain.StatusCheckedOut})
}

func (s *Service) CancelBooking(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	return s.transition(ctx, id, transitionStep{
		to: domain.StatusCanceled,
		check: func(current *domain.Booking) error {
			return guard.EnsureCanCancel(current.Status, current.CheckIn, s.clock.Now(), s.cfg.CancelCutoff)
		},
	})
}

// transition applies a version-guarded status write. Losing the race reloads
// the row: reaching the target already is a no-op, a different resolution
// wins and the caller gets ErrTransitionConflict.
func (s *Service) transition(ctx context.Context, id snowflake.ID, step transitionStep) (*domain.Booking, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := s.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == step.to {
			return current, nil
		}
		if step.check != nil {
			if err := step.check(current); err != nil {
				return current, err
			}
		}
		if err := guard.EnsureCanTransition(current.Status, step.to); err != nil {
			return current, err
		}

		now := s.clock.Now()
		applied, err := s.repo.ApplyTransition(ctx, s.db, domain.Transition{
			ID:          current.ID,
			FromStatus:  current.Status,
			FromVersion: current.Version,
			ToStatus:    step.to,
			PayURL:      step.payURL,
			UpdatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		if !applied {
			s.log.Debug("booking.transition.lost_race",
				zap.String("booking_id", id.String()),
				zap.String("to", string(step.to)),
				zap.Int("attempt", attempt+1),
			)
			continue
		}

		from := current.Status
		updated := *current
		updated.Status = step.to
		updated.Version++
		updated.UpdatedAt = now
		if step.payURL != nil {
			updated.PayURL = step.payURL
		}
		s.afterTransition(ctx, &updated, from)
		return &updated, nil
	}
	return nil, domain.ErrTransitionConflict
}

// afterTransition runs the side effects of one committed status change.
func (s *Service) afterTransition(ctx context.Context, b *domain.Booking, from domain.Status) {
	log := logger.WithBooking(s.log, b.ID.Int64(), b.RoomID.Int64())
	log.Info("booking.transition",
		zap.String("from", string(from)),
		zap.String("to", string(b.Status)),
		zap.Int64("version", b.Version),
	)
	s.metrics.RecordBookingTransition(ctx, string(from), string(b.Status))
	s.publish(b)
	s.invalidateLists(ctx, b.GuestEmail)

	var job jobqueue.Job
	switch b.Status {
	case domain.StatusPaymentURL:
		job = jobqueue.SendBookingEmail{BookingID: b.ID, Template: jobqueue.BookingEmailPaymentLink}
	case domain.StatusConfirmed:
		job = jobqueue.SendBookingEmail{BookingID: b.ID, Template: jobqueue.BookingEmailConfirmed}
	case domain.StatusCanceled:
		job = jobqueue.CancelTransaction{BookingExternalID: b.ExternalID}
	}
	if job == nil {
		return
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		log.Error("booking.job.enqueue_failed", zap.String("kind", string(job.Kind())), zap.Error(err))
	}
}

func (s *Service) publish(b *domain.Booking) {
	if s.publisher == nil {
		return
	}
	change := domain.StatusChange{
		BookingID:  b.ID,
		ExternalID: b.ExternalID,
		GuestEmail: b.GuestEmail,
		Status:     b.Status,
		OccurredAt: b.UpdatedAt,
	}
	if b.PayURL != nil {
		change.PayURL = *b.PayURL
	}
	s.publisher.PublishStatus(change)
}

func (s *Service) RepublishStatus(ctx context.Context, id snowflake.ID) error {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	s.publish(b)
	return nil
}

func (s *Service) ListExpired(ctx context.Context, statuses []domain.Status, limit int) ([]domain.Booking, error) {
	if len(statuses) == 0 || limit <= 0 {
		return nil, nil
	}
	return s.repo.ListExpired(ctx, s.db, s.clock.Now(), statuses, limit)
}

// ResolveExpired moves a group of bookings to one terminal status with a
// single guarded write. Rows that changed meanwhile are left alone.
func (s *Service) ResolveExpired(ctx context.Context, bookings []domain.Booking, to domain.Status, from []domain.Status) ([]domain.StatusChange, error) {
	if len(bookings) == 0 {
		return nil, nil
	}
	byID := make(map[snowflake.ID]domain.Booking, len(bookings))
	ids := make([]snowflake.ID, 0, len(bookings))
	for _, b := range bookings {
		if !guard.CanTransition(b.Status, to) {
			continue
		}
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	moved, err := s.repo.ApplyResolution(ctx, s.db, domain.Resolution{
		IDs:          ids,
		FromStatuses: from,
		ToStatus:     to,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	changes := make([]domain.StatusChange, 0, len(moved))
	for _, id := range moved {
		b, ok := byID[id]
		if !ok {
			continue
		}
		prev := b.Status
		b.Status = to
		b.Version++
		b.UpdatedAt = now
		s.afterTransition(ctx, &b, prev)
		change := domain.StatusChange{
			BookingID:  b.ID,
			ExternalID: b.ExternalID,
			GuestEmail: b.GuestEmail,
			Status:     to,
			OccurredAt: now,
		}
		if b.PayURL != nil {
			change.PayURL = *b.PayURL
		}
		changes = append(changes, change)
	}
	return changes, nil
}
