package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/staybook/internal/report"
)

type monthlyRevenue interface {
	Year(ctx context.Context, year int, provider string) (report.YearRevenue, error)
}

func (s *Server) MonthlyRevenue(c *gin.Context) {
	var req MonthlyRevenueRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	out, err := s.monthly.Year(c.Request.Context(), req.Year, req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}
