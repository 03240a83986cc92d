package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/jobqueue"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"github.com/smallbiznis/staybook/internal/providers/email"
	roomdomain "github.com/smallbiznis/staybook/internal/room/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const dateLayout = "02/01/2006 15:04"

var Module = fx.Module("jobqueue.handlers",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Payments paymentdomain.Service
	Bookings bookingdomain.Service
	Rooms    roomdomain.Service
	Email    email.Provider
}

// Dispatcher routes each job kind to the service that owns it.
type Dispatcher struct {
	log      *zap.Logger
	payments paymentdomain.Service
	bookings bookingdomain.Service
	rooms    roomdomain.Service
	email    email.Provider
	location *time.Location
}

func New(p Params) (jobqueue.Dispatcher, error) {
	loc, err := time.LoadLocation(p.Config.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load booking timezone: %w", err)
	}
	return &Dispatcher{
		log:      p.Log.Named("jobqueue.handlers"),
		payments: p.Payments,
		bookings: p.Bookings,
		rooms:    p.Rooms,
		email:    p.Email,
		location: loc,
	}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, job jobqueue.Job) error {
	var err error
	switch j := job.(type) {
	case jobqueue.CreatePaymentLink:
		err = d.payments.CreatePaymentLink(ctx, j.BookingID)
	case jobqueue.CancelTransaction:
		err = d.payments.CancelTransaction(ctx, j.BookingExternalID)
	case jobqueue.SendOTPEmail:
		err = d.sendOTP(ctx, j)
	case jobqueue.SendBookingEmail:
		err = d.sendBookingEmail(ctx, j)
	default:
		return fmt.Errorf("%w: %T", jobqueue.ErrUnknownKind, job)
	}
	return classify(err)
}

func (d *Dispatcher) sendOTP(ctx context.Context, j jobqueue.SendOTPEmail) error {
	if strings.TrimSpace(j.Email) == "" {
		return fmt.Errorf("%w: otp email without recipient", jobqueue.ErrPermanent)
	}
	return d.email.SendTemplate(ctx, []string{j.Email}, email.TemplateOTPCode, map[string]any{
		"code":       j.Code,
		"action":     j.Action,
		"expires_at": j.ExpiresAt.In(d.location).Format(dateLayout),
	})
}

func (d *Dispatcher) sendBookingEmail(ctx context.Context, j jobqueue.SendBookingEmail) error {
	var template string
	switch j.Template {
	case jobqueue.BookingEmailPaymentLink:
		template = email.TemplateBookingPaymentLink
	case jobqueue.BookingEmailConfirmed:
		template = email.TemplateBookingConfirmed
	default:
		return fmt.Errorf("%w: booking email template %q", jobqueue.ErrPermanent, j.Template)
	}

	booking, err := d.bookings.GetBooking(ctx, j.BookingID)
	if err != nil {
		return err
	}
	if template == email.TemplateBookingPaymentLink && booking.Status != bookingdomain.StatusPaymentURL {
		// Paid or expired before the mail went out.
		d.log.Info("jobqueue.email.stale", zap.String("booking_id", booking.ID.String()), zap.String("status", string(booking.Status)))
		return nil
	}

	data := map[string]any{
		"guest_name":  booking.GuestName,
		"external_id": booking.ExternalID,
		"check_in":    booking.CheckIn.In(d.location).Format(dateLayout),
		"check_out":   booking.CheckOut.In(d.location).Format(dateLayout),
		"expired_at":  booking.ExpiredAt.In(d.location).Format(dateLayout),
		"total_price": booking.TotalPrice,
		"currency":    booking.Currency,
		"room_code":   "",
		"pay_url":     "",
	}
	if booking.PayURL != nil {
		data["pay_url"] = *booking.PayURL
	}
	if room, err := d.rooms.GetRoom(ctx, booking.RoomID); err == nil {
		data["room_code"] = room.Code
	}
	return d.email.SendTemplate(ctx, []string{booking.GuestEmail}, template, data)
}

// classify marks errors that no retry can fix.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrInvalidConfig):
		return errors.Join(jobqueue.ErrPermanent, err)
	}
	return err
}
