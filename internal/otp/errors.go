package otp

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidAction     = errors.New("invalid_otp_action")
	ErrInvalidSubject    = errors.New("invalid_otp_subject")
	ErrInvalidCode       = errors.New("invalid_otp")
	ErrInvalidResetToken = errors.New("invalid_reset_token")
	ErrResendBlocked     = errors.New("email_resend_blocked")
	ErrBlocked           = errors.New("otp_blocked")
)

// RateLimitError tells the caller how long to wait before trying again.
type RateLimitError struct {
	Code       error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", e.Code, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Code }

// RetryAfterSeconds rounds up so clients never retry early.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}
