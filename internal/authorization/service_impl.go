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
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPromoCode  = "promo_code"
	ObjectAttemptLog = "attempt_log"
	ObjectRateLimit  = "rate_limit"
	ObjectVirtualLab = "virtual_lab"
)

const (
	ActionPromoCodeRedeem     = "promo_code.redeem"
	ActionPromoCodeView       = "promo_code.view"
	ActionPromoCodeCreate     = "promo_code.create"
	ActionPromoCodeUpdate     = "promo_code.update"
	ActionPromoCodeDeactivate = "promo_code.deactivate"

	ActionAttemptLogView   = "attempt_log.view"
	ActionRateLimitReset   = "rate_limit.reset"
	ActionVirtualLabView   = "virtual_lab.view"
	ActionVirtualLabManage = "virtual_lab.manage"
)

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
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, labID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	labID = strings.TrimSpace(labID)
	if labID == "" {
		return ErrInvalidVirtualLab
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, labID)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("lab:%s", labID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("lab_id", labID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, labID string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "api_key:") {
		apiKeyID, err := snowflake.ParseString(strings.TrimPrefix(actor, "api_key:"))
		if err != nil || apiKeyID == 0 {
			return "", "", ErrInvalidActor
		}
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedLabID, err := snowflake.ParseString(labID)
		if err != nil || parsedLabID == 0 {
			return actor, "", ErrInvalidVirtualLab
		}
		role, err := s.roleForMember(ctx, parsedLabID, userID)
		if err != nil {
			return actor, "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM lab_members
		 WHERE virtual_lab_id = ? AND user_id = ?
		 LIMIT 1`,
		labID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Members redeem and see their own lab.
		{"role:member", ObjectPromoCode, ActionPromoCodeRedeem},
		{"role:member", ObjectVirtualLab, ActionVirtualLabView},

		// Admins manage codes and read the attempt log.
		{"role:admin", ObjectPromoCode, ActionPromoCodeRedeem},
		{"role:admin", ObjectPromoCode, ActionPromoCodeView},
		{"role:admin", ObjectPromoCode, ActionPromoCodeCreate},
		{"role:admin", ObjectPromoCode, ActionPromoCodeUpdate},
		{"role:admin", ObjectPromoCode, ActionPromoCodeDeactivate},
		{"role:admin", ObjectAttemptLog, ActionAttemptLogView},
		{"role:admin", ObjectRateLimit, ActionRateLimitReset},
		{"role:admin", ObjectVirtualLab, ActionVirtualLabView},
		{"role:admin", ObjectVirtualLab, ActionVirtualLabManage},

		// Owners get everything admins do.
		{"role:owner", ObjectPromoCode, ActionPromoCodeRedeem},
		{"role:owner", ObjectPromoCode, ActionPromoCodeView},
		{"role:owner", ObjectPromoCode, ActionPromoCodeCreate},
		{"role:owner", ObjectPromoCode, ActionPromoCodeUpdate},
		{"role:owner", ObjectPromoCode, ActionPromoCodeDeactivate},
		{"role:owner", ObjectAttemptLog, ActionAttemptLogView},
		{"role:owner", ObjectRateLimit, ActionRateLimitReset},
		{"role:owner", ObjectVirtualLab, ActionVirtualLabView},
		{"role:owner", ObjectVirtualLab, ActionVirtualLabManage},

		// Automated processes and API keys.
		{"role:system", ObjectPromoCode, ActionPromoCodeRedeem},
		{"role:system", ObjectPromoCode, ActionPromoCodeView},
		{"role:system", ObjectPromoCode, ActionPromoCodeCreate},
		{"role:system", ObjectPromoCode, ActionPromoCodeUpdate},
		{"role:system", ObjectPromoCode, ActionPromoCodeDeactivate},
		{"role:system", ObjectAttemptLog, ActionAttemptLogView},
		{"role:system", ObjectRateLimit, ActionRateLimitReset},
		{"role:system", ObjectVirtualLab, ActionVirtualLabView},
		{"role:system", ObjectVirtualLab, ActionVirtualLabManage},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
