package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smallbiznis/staybook/internal/jobqueue"
	"github.com/smallbiznis/staybook/internal/outbox/domain"
)

// JobProcessor turns outbox events into queued jobs.
type JobProcessor struct {
	jobs jobqueue.Enqueuer
}

func NewJobProcessor(jobs jobqueue.Enqueuer) domain.Processor {
	return &JobProcessor{jobs: jobs}
}

func (p *JobProcessor) Process(ctx context.Context, event domain.Event) error {
	switch event.EventType {
	case domain.EventTypeBookingCreated:
		var payload domain.BookingCreatedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode %s payload: %v", domain.ErrUnprocessable, event.EventType, err)
		}
		return p.jobs.Enqueue(ctx, jobqueue.CreatePaymentLink{
			BookingID: payload.BookingID,
			Amount:    payload.Amount,
			Method:    payload.Method,
		})
	default:
		return fmt.Errorf("%w: unsupported event type %q", domain.ErrUnprocessable, event.EventType)
	}
}
