package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	userdomain "github.com/smallbiznis/staybook/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectBooking       = "booking"
	ObjectRevenueReport = "revenue_report"
)

const (
	ActionBookingViewAny   = "booking.view_any"
	ActionBookingCancelAny = "booking.cancel_any"
	ActionBookingCheckIn   = "booking.check_in"
	ActionBookingCheckOut  = "booking.check_out"

	ActionRevenueReportView = "revenue_report.view"
)

// Service decides whether a user may perform an action.
type Service interface {
	Authorize(ctx context.Context, userID snowflake.ID, object, action string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer persists policies in casbin_rule through the gorm adapter and
// seeds the built-in role grants on every start.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize resolves the user's current role from the users table, so a
// role change applies to live sessions on their next request.
func (s *ServiceImpl) Authorize(ctx context.Context, userID snowflake.ID, object, action string) error {
	if userID <= 0 {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	role, err := s.roleForUser(ctx, userID)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("user:%s", userID)
	if err := s.ensureGrouping(subject, roleSubject(role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization.denied",
			zap.String("subject", subject),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) roleForUser(ctx context.Context, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.ToLower(strings.TrimSpace(row.Role))
	if !userdomain.IsValidRole(role) {
		return "", ErrForbidden
	}
	return role, nil
}

// ensureGrouping keeps exactly one role link per user subject.
func (s *ServiceImpl) ensureGrouping(subject, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func roleSubject(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Front desk works the arrivals and departures board.
		{roleSubject(userdomain.RoleFrontDesk), ObjectBooking, ActionBookingViewAny},
		{roleSubject(userdomain.RoleFrontDesk), ObjectBooking, ActionBookingCheckIn},
		{roleSubject(userdomain.RoleFrontDesk), ObjectBooking, ActionBookingCheckOut},

		{roleSubject(userdomain.RoleAdmin), ObjectBooking, ActionBookingCancelAny},
		{roleSubject(userdomain.RoleAdmin), ObjectRevenueReport, ActionRevenueReportView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// Admins inherit every front desk grant.
	has, err := enforcer.HasGroupingPolicy(roleSubject(userdomain.RoleAdmin), roleSubject(userdomain.RoleFrontDesk))
	if err != nil {
		return err
	}
	if !has {
		if _, err := enforcer.AddGroupingPolicy(roleSubject(userdomain.RoleAdmin), roleSubject(userdomain.RoleFrontDesk)); err != nil {
			return err
		}
	}
	return nil
}
