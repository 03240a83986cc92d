package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/staybook/internal/otp"
)

// ResetPassword trades a verified reset_password code for a reset token.
func (s *Server) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.verifyCode(c, otp.ActionResetPassword, req.Email, req.Code); err != nil {
		AbortWithError(c, err)
		return
	}

	token, err := s.otp.IssueResetToken(c.Request.Context(), req.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset_token": token})
}

func (s *Server) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.users.ChangePassword(c.Request.Context(), req.ResetToken, req.NewPassword); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
