package guard

import (
	"time"

	"github.com/smallbiznis/staybook/internal/booking/domain"
)

var transitions = map[domain.Status][]domain.Status{
	domain.StatusPending:    {domain.StatusPaymentURL, domain.StatusConfirmed, domain.StatusFailed, domain.StatusCanceled},
	domain.StatusPaymentURL: {domain.StatusConfirmed, domain.StatusFailed, domain.StatusCanceled},
	domain.StatusConfirmed:  {domain.StatusCheckedIn},
	domain.StatusCheckedIn:  {domain.StatusCheckedOut},
}

// CanTransition reports whether from may move to to. Staying in place is
// handled by callers as a no-op, not as a transition.
func CanTransition(from, to domain.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsResolved reports whether payment resolution is over for status.
func IsResolved(status domain.Status) bool {
	switch status {
	case domain.StatusConfirmed, domain.StatusFailed, domain.StatusCanceled,
		domain.StatusCheckedIn, domain.StatusCheckedOut:
		return true
	}
	return false
}

// EnsureCanTransition returns nil when current already equals to.
func EnsureCanTransition(current, to domain.Status) error {
	if current == to {
		return nil
	}
	if CanTransition(current, to) {
		return nil
	}
	if IsResolved(current) {
		return domain.ErrTransitionConflict
	}
	return domain.ErrInvalidTransition
}

// EnsureCanCancel enforces the cancellation cutoff before check-in.
func EnsureCanCancel(status domain.Status, checkIn, now time.Time, cutoff time.Duration) error {
	if status == domain.StatusCanceled {
		return nil
	}
	if !CanTransition(status, domain.StatusCanceled) {
		return EnsureCanTransition(status, domain.StatusCanceled)
	}
	if !checkIn.After(now.Add(cutoff)) {
		return domain.ErrCancelTooLate
	}
	return nil
}
