package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/jellydator/validation"
	"github.com/smallbiznis/staybook/internal/auth/local"
	"github.com/smallbiznis/staybook/internal/auth/session"
	"github.com/smallbiznis/staybook/internal/authorization"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/booking/statushub"
	"github.com/smallbiznis/staybook/internal/otp"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"github.com/smallbiznis/staybook/internal/report"
	roomdomain "github.com/smallbiznis/staybook/internal/room/domain"
	userdomain "github.com/smallbiznis/staybook/internal/user/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type       string            `json:"type"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	RetryAfter int               `json:"retry_after,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// Retry-After seconds sent with room_busy.
const roomBusyRetryAfter = 1

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if payload.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(payload.RetryAfter))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  fromFieldErrors(fieldErrs),
		}
	}

	var limited *otp.RateLimitError
	if errors.As(err, &limited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:       "rate_limited",
			Code:       limited.Code.Error(),
			Message:    "too many attempts",
			RetryAfter: limited.RetryAfterSeconds(),
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, local.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    local.ErrInvalidCredentials.Error(),
			Message: "email or password is incorrect",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, session.ErrInvalidSession):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, bookingdomain.ErrRoomBusy):
		return http.StatusConflict, errorPayload{
			Type:       "conflict",
			Code:       bookingdomain.ErrRoomBusy.Error(),
			Message:    "room is being booked, retry shortly",
			RetryAfter: roomBusyRetryAfter,
		}
	case errors.Is(err, bookingdomain.ErrRoomAlreadyBooked),
		errors.Is(err, bookingdomain.ErrTransitionConflict),
		errors.Is(err, bookingdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    errorCode(err, bookingdomain.ErrRoomAlreadyBooked, bookingdomain.ErrTransitionConflict, bookingdomain.ErrInvalidTransition),
			Message: "conflict",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, bookingdomain.ErrCancelTooLate):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Code:    bookingdomain.ErrCancelTooLate.Error(),
			Message: "booking can no longer be canceled",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, paymentdomain.ErrPaymentLinkCreationFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "bad_gateway",
			Code:    paymentdomain.ErrPaymentLinkCreationFailed.Error(),
			Message: "payment provider unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, statushub.ErrHubUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func errorCode(err error, candidates ...error) string {
	for _, candidate := range candidates {
		if errors.Is(err, candidate) {
			return candidate.Error()
		}
	}
	return ""
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func fromFieldErrors(errs validation.Errors) []ValidationError {
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]ValidationError, 0, len(fields))
	for _, field := range fields {
		fieldErr := errs[field]
		code := "invalid"
		var vErr validation.Error
		if errors.As(fieldErr, &vErr) {
			code = vErr.Code()
		}
		out = append(out, ValidationError{
			Field:   field,
			Code:    code,
			Message: fieldErr.Error(),
		})
	}
	return out
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, bookingdomain.ErrInvalidDates),
		errors.Is(err, bookingdomain.ErrInvalidGuestCount),
		errors.Is(err, bookingdomain.ErrInvalidGuest),
		errors.Is(err, bookingdomain.ErrInvalidPayMethod),
		errors.Is(err, otp.ErrInvalidAction),
		errors.Is(err, otp.ErrInvalidSubject),
		errors.Is(err, otp.ErrInvalidCode),
		errors.Is(err, otp.ErrInvalidResetToken),
		errors.Is(err, userdomain.ErrWeakPassword),
		errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, userdomain.ErrInvalidRole),
		errors.Is(err, report.ErrInvalidYear),
		errors.Is(err, report.ErrInvalidProvider),
		errors.Is(err, statushub.ErrInvalidExternalID),
		errors.Is(err, paymentdomain.ErrInvalidPayload):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, roomdomain.ErrRoomNotFound),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		bookingdomain.ErrInvalidDates,
		bookingdomain.ErrInvalidGuestCount,
		bookingdomain.ErrInvalidGuest,
		bookingdomain.ErrInvalidPayMethod,
		otp.ErrInvalidAction,
		otp.ErrInvalidSubject,
		otp.ErrInvalidCode,
		otp.ErrInvalidResetToken,
		userdomain.ErrWeakPassword,
		userdomain.ErrInvalidEmail,
		userdomain.ErrInvalidRole,
		report.ErrInvalidYear,
		report.ErrInvalidProvider,
		statushub.ErrInvalidExternalID,
		paymentdomain.ErrInvalidPayload,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_otp":
		return "verification code is wrong or expired"
	case "weak_password":
		return "password is too short"
	default:
		return "invalid value"
	}
}
