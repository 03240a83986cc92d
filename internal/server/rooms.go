package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SearchAvailableRooms lists rooms free for the whole requested stay.
func (s *Server) SearchAvailableRooms(c *gin.Context) {
	var req SearchRoomsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}
	query, err := req.ToDomain(s.location)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rooms, err := s.bookings.SearchAvailableRooms(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": rooms,
		"page": query.Page,
	})
}
