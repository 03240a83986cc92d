package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxCallbackBytes = 64 << 10

// HandlePaymentCallback answers with the provider's own ack format so the
// provider stops retrying once the notification is stored.
func (s *Server) HandlePaymentCallback(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ack, err := s.webhooks.HandleCallback(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := ack.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if ack.Body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, ack.Body)
}
