package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
)

const sseHeartbeatInterval = 15 * time.Second

// StreamBookingEvents streams status changes of one booking as server-sent
// events. The stream opens with the current status so a client that
// subscribes after the last change still sees it.
func (s *Server) StreamBookingEvents(c *gin.Context) {
	if s.statuses == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	raw := strings.TrimSpace(c.Param("id"))
	var (
		booking *bookingdomain.Booking
		err     error
	)
	if strings.HasPrefix(raw, bookingdomain.ExternalIDPrefix) {
		booking, err = s.bookings.GetBookingByExternalID(ctx, raw)
	} else {
		id, idErr := s.resolveBookingID(ctx, raw)
		if idErr != nil {
			AbortWithError(c, idErr)
			return
		}
		booking, err = s.bookings.GetBooking(ctx, id)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscription, backlog, err := s.statuses.Subscribe(booking.ExternalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	current := bookingdomain.StatusChange{
		BookingID:  booking.ID,
		ExternalID: booking.ExternalID,
		Status:     booking.Status,
		OccurredAt: booking.UpdatedAt,
	}
	if booking.PayURL != nil {
		current.PayURL = *booking.PayURL
	}
	if err := writeStatusEvent(writer, current); err != nil {
		return
	}
	for _, change := range backlog {
		if !change.OccurredAt.After(current.OccurredAt) {
			continue
		}
		if err := writeStatusEvent(writer, change); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-subscription.Events():
			if !ok {
				return
			}
			if err := writeStatusEvent(writer, change); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStatusEvent(w io.Writer, change bookingdomain.StatusChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	return err
}
