package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	ObjectInvoice       = "invoice"
	ObjectOTAProvider   = "ota_provider"
	ObjectOTACredential = "ota_credential"
	ObjectOTAMapping    = "ota_mapping"
	ObjectOTAARI        = "ota_ari"
	ObjectAuditLog      = "audit_log"
	ObjectSigningKey    = "signing_key"
)

const (
	ActionInvoiceView   = "invoice.view"
	ActionInvoiceCreate = "invoice.create"

	ActionOTAProviderView     = "ota_provider.view"
	ActionOTACredentialView   = "ota_credential.view"
	ActionOTACredentialManage = "ota_credential.manage"
	ActionOTAMappingView      = "ota_mapping.view"
	ActionOTAMappingManage    = "ota_mapping.manage"
	ActionOTAARIPush          = "ota_ari.push"

	ActionAuditLogView   = "audit_log.view"
	ActionSigningKeyView = "signing_key.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
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
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, object string, action string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return ErrInvalidOrganization
	}
	actor, ok := orgcontext.ActorFromContext(ctx)
	if !ok || actor.UserID == "" || actor.Role == "" {
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

	subject := "user:" + actor.UserID
	domain := fmt.Sprintf("org:%s", orgID.String())
	roleName := "role:" + actor.Role
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps one role link per subject and tenant; the token's
// role claim wins over whatever was stored before.
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

func (s *ServiceImpl) auditDenied(ctx context.Context, actor orgcontext.Actor, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	if err := s.auditSvc.AuditLog(ctx, nil, "", nil, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   actor.Role,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	staff := [][]string{
		{ObjectInvoice, ActionInvoiceView},
		{ObjectInvoice, ActionInvoiceCreate},
		{ObjectOTAProvider, ActionOTAProviderView},
		{ObjectOTACredential, ActionOTACredentialView},
		{ObjectOTAMapping, ActionOTAMappingView},
		{ObjectOTAARI, ActionOTAARIPush},
	}
	admin := append([][]string{
		{ObjectOTACredential, ActionOTACredentialManage},
		{ObjectOTAMapping, ActionOTAMappingManage},
		{ObjectAuditLog, ActionAuditLogView},
		{ObjectSigningKey, ActionSigningKeyView},
	}, staff...)

	policies := make([][]string, 0, len(staff)+len(admin))
	for _, rule := range staff {
		policies = append(policies, []string{"role:" + RoleStaff, rule[0], rule[1]})
	}
	for _, rule := range admin {
		policies = append(policies, []string{"role:" + RoleAdmin, rule[0], rule[1]})
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
