package authorization

import (
	"crypto/subtle"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/billingops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvoice = "invoice"
	ObjectBatch   = "batch"
	ObjectJob     = "job"
)

const (
	ActionInvoiceView      = "invoice.view"
	ActionInvoiceEnrich    = "invoice.enrich"
	ActionInvoiceExport    = "invoice.export"
	ActionInvoicePay       = "invoice.pay"
	ActionInvoiceCancel    = "invoice.cancel"
	ActionInvoiceSend      = "invoice.send"
	ActionInvoiceReconcile = "invoice.reconcile"

	ActionBatchView = "batch.view"
	ActionBatchRun  = "batch.run"

	ActionJobSync = "job.sync"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Config config.Config
	Log    *zap.Logger
}

// Service authenticates API keys and checks role permissions. It is a no-op
// when no keys are configured.
type Service struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	keys     map[string]Key
	encoded  []Key
}

func Provide(p Params) (*Service, error) {
	keys, err := ParseAPIKeys(p.Config.APIKeys)
	if err != nil {
		return nil, err
	}
	log := p.Log.Named("authorization.service")
	if len(keys) == 0 {
		log.Warn("API_KEYS not set, API authorization disabled")
		return &Service{log: log}, nil
	}
	enforcer, err := NewEnforcer(p.DB)
	if err != nil {
		return nil, err
	}
	return New(enforcer, keys, log)
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

func New(enforcer *casbin.SyncedEnforcer, keys []Key, log *zap.Logger) (*Service, error) {
	s := &Service{log: log, enforcer: enforcer, keys: make(map[string]Key, len(keys))}
	for _, key := range keys {
		if err := s.ensureGrouping(key.Subject(), roleName(key.Role)); err != nil {
			return nil, err
		}
		if key.encoded != nil {
			s.encoded = append(s.encoded, key)
			continue
		}
		s.keys[key.Hash] = key
	}
	log.Info("API authorization enabled", zap.Int("keys", len(keys)), zap.Int("argon2id_keys", len(s.encoded)))
	return s, nil
}

func (s *Service) Enabled() bool {
	return s != nil && len(s.keys)+len(s.encoded) > 0
}

// Authenticate resolves a presented secret to its configured key.
func (s *Service) Authenticate(secret string) (Key, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Key{}, ErrUnauthorized
	}
	hash := HashAPIKey(secret)
	if key, ok := s.keys[hash]; ok && subtle.ConstantTimeCompare([]byte(key.Hash), []byte(hash)) == 1 {
		return key, nil
	}
	for _, key := range s.encoded {
		if key.encoded.matches(secret) {
			return key, nil
		}
	}
	return Key{}, ErrUnauthorized
}

func (s *Service) Authorize(key Key, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(key.Subject(), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("key", key.Name),
			zap.String("role", key.Role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject so a role change in
// API_KEYS replaces the persisted one.
func (s *Service) ensureGrouping(subject, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func roleName(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	viewer := roleName(RoleViewer)
	operator := roleName(RoleOperator)
	policies := [][]string{
		{viewer, ObjectInvoice, ActionInvoiceView},
		{viewer, ObjectInvoice, ActionInvoiceEnrich},
		{viewer, ObjectInvoice, ActionInvoiceExport},
		{viewer, ObjectBatch, ActionBatchView},

		{operator, ObjectInvoice, ActionInvoicePay},
		{operator, ObjectInvoice, ActionInvoiceCancel},
		{operator, ObjectInvoice, ActionInvoiceSend},
		{operator, ObjectInvoice, ActionInvoiceReconcile},
		{operator, ObjectBatch, ActionBatchRun},
		{operator, ObjectJob, ActionJobSync},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// operators inherit every viewer permission
	has, err := enforcer.HasGroupingPolicy(operator, viewer)
	if err != nil {
		return err
	}
	if !has {
		if _, err := enforcer.AddGroupingPolicy(operator, viewer); err != nil {
			return err
		}
	}
	return nil
}
