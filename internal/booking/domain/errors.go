package domain

import "errors"

var (
	ErrInvalidDates       = errors.New("invalid_dates")
	ErrInvalidGuestCount  = errors.New("invalid_guest_count")
	ErrInvalidGuest       = errors.New("invalid_guest")
	ErrInvalidPayMethod   = errors.New("invalid_pay_method")
	ErrRoomAlreadyBooked  = errors.New("room_already_booked")
	ErrRoomBusy           = errors.New("room_busy")
	ErrBookingNotFound    = errors.New("booking_not_found")
	ErrCancelTooLate      = errors.New("cancel_too_late")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrTransitionConflict = errors.New("transition_conflict")
)
