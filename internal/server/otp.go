package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/staybook/internal/observability/logger"
	"github.com/smallbiznis/staybook/internal/otp"
	"go.uber.org/zap"
)

func (s *Server) IssueOTP(c *gin.Context) {
	var req IssueOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if s.otpLimiter != nil {
		res, err := s.otpLimiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("otp.issue.rate_limit_check_failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, normalizeRateLimitEndpoint(c))
			AbortWithError(c, &otp.RateLimitError{Code: ErrRateLimited, RetryAfter: res.RetryAfter})
			return
		}
	}

	if err := s.otp.Issue(ctx, req.Action, req.Email); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// VerifyOTP checks a code. A verified register challenge creates the account.
func (s *Server) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := s.verifyCode(c, req.Action, req.Email, req.Code); err != nil {
		AbortWithError(c, err)
		return
	}

	if req.Action == otp.ActionRegister {
		user, err := s.users.EnsureUser(ctx, req.Email, req.DisplayName, req.Password)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "verified", "data": user})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

// verifyCode maps an unsuccessful verification onto an error: a block
// becomes otp_blocked with its retry hint, a plain mismatch invalid_otp.
func (s *Server) verifyCode(c *gin.Context, action, email, code string) error {
	res, err := s.otp.Verify(c.Request.Context(), action, email, code)
	if err != nil {
		return err
	}
	if res.Success {
		return nil
	}
	if res.RetryAfter > 0 {
		return &otp.RateLimitError{Code: otp.ErrBlocked, RetryAfter: res.RetryAfter}
	}
	return otp.ErrInvalidCode
}
