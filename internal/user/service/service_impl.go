package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/observability/masking"
	"github.com/smallbiznis/staybook/internal/user/domain"
	"github.com/smallbiznis/staybook/internal/user/password"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResetTokens redeems password reset tokens.
type ResetTokens interface {
	ConsumeResetToken(ctx context.Context, token string) (string, error)
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Tokens ResetTokens
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	tokens ResetTokens

	hash func(string) (string, error)
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("user.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		tokens: p.Tokens,
		hash:   password.Hash,
	}
}

func (s *Service) EnsureUser(ctx context.Context, email, displayName, newPassword string) (*domain.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:          s.genID.Generate(),
		Email:       email,
		DisplayName: strings.TrimSpace(displayName),
		Role:        domain.RoleGuest,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if newPassword != "" {
		if utf8.RuneCountInString(newPassword) < domain.MinPasswordLength {
			return nil, domain.ErrWeakPassword
		}
		hash, err := s.hash(newPassword)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = &hash
		user.PasswordChangedAt = &now
	}

	inserted, err := s.repo.Insert(ctx, s.db, user)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.log.Info("user.registered", zap.String("email", masking.MaskEmail(email)))
	}
	return s.repo.FindByEmail(ctx, s.db, email)
}

func (s *Service) ChangePassword(ctx context.Context, resetToken, newPassword string) error {
	if utf8.RuneCountInString(newPassword) < domain.MinPasswordLength {
		return domain.ErrWeakPassword
	}

	email, err := s.tokens.ConsumeResetToken(ctx, resetToken)
	if err != nil {
		return err
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}

	updated, err := s.repo.UpdatePassword(ctx, s.db, email, hash, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrUserNotFound
	}
	s.log.Info("user.password.changed", zap.String("email", masking.MaskEmail(email)))
	return nil
}

func (s *Service) SetRole(ctx context.Context, email, role string) (*domain.User, error) {
	email = normalizeEmail(email)
	role = strings.ToLower(strings.TrimSpace(role))
	if !domain.IsValidRole(role) {
		return nil, domain.ErrInvalidRole
	}

	updated, err := s.repo.UpdateRole(ctx, s.db, email, role, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrUserNotFound
	}
	s.log.Info("user.role.changed", zap.String("email", masking.MaskEmail(email)), zap.String("role", role))
	return s.repo.FindByEmail(ctx, s.db, email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
