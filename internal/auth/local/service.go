package local

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/auth/session"
	"github.com/smallbiznis/staybook/internal/observability/masking"
	userdomain "github.com/smallbiznis/staybook/internal/user/domain"
	"github.com/smallbiznis/staybook/internal/user/password"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidCredentials = errors.New("invalid_credentials")

// Sessions issues and revokes login sessions.
type Sessions interface {
	Create(ctx context.Context, userID snowflake.ID, email string) (string, session.Session, error)
	Revoke(ctx context.Context, raw string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Users    userdomain.Repository
	Sessions *session.Store
}

// Service checks email and password against the stored Argon2id hash.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	users    userdomain.Repository
	sessions Sessions
	verify   func(password, encoded string) bool
}

type LoginResult struct {
	Token   string
	Session session.Session
	User    *userdomain.User
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("auth.local"),
		users:    p.Users,
		sessions: p.Sessions,
		verify:   password.Verify,
	}
}

// Login answers ErrInvalidCredentials for an unknown email, an account
// without a password and a wrong password alike.
func (s *Service) Login(ctx context.Context, email, secret string) (*LoginResult, error) {
	email, err := normalizeEmail(email)
	if err != nil || secret == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == nil || !s.verify(secret, *user.PasswordHash) {
		s.log.Info("auth.login.rejected", zap.String("email", masking.MaskEmail(email)))
		return nil, ErrInvalidCredentials
	}

	token, sess, err := s.sessions.Create(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	s.log.Info("auth.login.succeeded", zap.String("user_id", user.ID.String()))
	return &LoginResult{Token: token, Session: sess, User: user}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}
