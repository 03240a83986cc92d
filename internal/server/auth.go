package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/staybook/internal/auth/local"
	"github.com/smallbiznis/staybook/internal/auth/session"
	"github.com/smallbiznis/staybook/internal/authorization"
)

const contextSessionKey = "staybook.session"

type sessionLookup interface {
	Lookup(ctx context.Context, raw string) (*session.Session, error)
}

type loginService interface {
	Login(ctx context.Context, email, secret string) (*local.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.logins.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, res.Token, res.Session.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{
		"token":      res.Token,
		"expires_at": res.Session.ExpiresAt,
		"data":       res.User,
	})
}

func (s *Server) Logout(c *gin.Context) {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if err := s.logins.Logout(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
	sess, _ := sessionFromContext(c)
	c.JSON(http.StatusOK, gin.H{"data": sess})
}

// AuthRequired resolves the session token and stores the session on the
// gin context for the handlers behind it.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		sess, err := s.sessionStore.Lookup(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(contextSessionKey, sess)
		c.Next()
	}
}

// authorize must run after AuthRequired.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.checkPermission(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) checkPermission(c *gin.Context, object, action string) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authz == nil {
		return ErrForbidden
	}
	return s.authz.Authorize(c.Request.Context(), sess.UserID, object, action)
}

// hasPermission turns a denial into false and keeps other errors.
func (s *Server) hasPermission(c *gin.Context, object, action string) (bool, error) {
	err := s.checkPermission(c, object, action)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, authorization.ErrForbidden), errors.Is(err, ErrForbidden):
		return false, nil
	default:
		return false, err
	}
}

func sessionFromContext(c *gin.Context) (*session.Session, bool) {
	value, ok := c.Get(contextSessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := value.(*session.Session)
	return sess, ok && sess != nil
}
