package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	validation "github.com/jellydator/validation"
	"github.com/smallbiznis/staybook/internal/authorization"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
)

func (s *Server) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}
	domainReq, err := req.ToDomain(s.location)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	booking, err := s.bookings.CreateBooking(c.Request.Context(), domainReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": booking})
}

// ListUserBookings lists the caller's bookings. Staff with booking.view_any
// may pass ?email= to look up a guest.
func (s *Server) ListUserBookings(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	email := sess.Email
	if raw := strings.TrimSpace(c.Query("email")); raw != "" {
		if err := validation.Validate(raw, emailRule); err != nil {
			AbortWithError(c, newValidationError("email", "invalid_email", err.Error()))
			return
		}
		if !strings.EqualFold(raw, sess.Email) {
			allowed, err := s.hasPermission(c, authorization.ObjectBooking, authorization.ActionBookingViewAny)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			if !allowed {
				AbortWithError(c, ErrForbidden)
				return
			}
		}
		email = raw
	}

	items, err := s.bookings.ListUserBookings(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []bookingdomain.Booking{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetPaymentView(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := s.resolveBookingID(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.bookings.GetPaymentView(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// CancelBooking is open to the guest who made the booking and to staff
// holding booking.cancel_any.
func (s *Server) CancelBooking(c *gin.Context) {
	ctx := c.Request.Context()
	sess, ok := sessionFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	booking, err := s.loadBooking(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !strings.EqualFold(booking.GuestEmail, sess.Email) {
		allowed, err := s.hasPermission(c, authorization.ObjectBooking, authorization.ActionBookingCancelAny)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !allowed {
			AbortWithError(c, ErrForbidden)
			return
		}
	}

	canceled, err := s.bookings.CancelBooking(ctx, booking.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": canceled})
}

func (s *Server) CheckIn(c *gin.Context) {
	s.transition(c, s.bookings.CheckIn)
}

func (s *Server) CheckOut(c *gin.Context) {
	s.transition(c, s.bookings.CheckOut)
}

func (s *Server) transition(c *gin.Context, apply func(ctx context.Context, id snowflake.ID) (*bookingdomain.Booking, error)) {
	ctx := c.Request.Context()
	id, err := s.resolveBookingID(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := apply(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": booking})
}

func (s *Server) loadBooking(ctx context.Context, raw string) (*bookingdomain.Booking, error) {
	id, err := s.resolveBookingID(ctx, raw)
	if err != nil {
		return nil, err
	}
	return s.bookings.GetBooking(ctx, id)
}

// resolveBookingID accepts either the internal id or the public external id.
func (s *Server) resolveBookingID(ctx context.Context, raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, bookingdomain.ExternalIDPrefix) {
		booking, err := s.bookings.GetBookingByExternalID(ctx, raw)
		if err != nil {
			return 0, err
		}
		return booking.ID, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, bookingdomain.ErrBookingNotFound
	}
	return id, nil
}
