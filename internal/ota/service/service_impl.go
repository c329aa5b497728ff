package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	"github.com/smallbiznis/folio/internal/orgcontext"
	otadomain "github.com/smallbiznis/folio/internal/ota/domain"
	"github.com/smallbiznis/folio/internal/vault"
	"github.com/smallbiznis/folio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     otadomain.Repository
	Vault    *vault.Vault
	Catalog  *config.OTACatalogHolder
	Clock    clock.Clock         `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     otadomain.Repository
	vault    *vault.Vault
	catalog  *config.OTACatalogHolder
	clock    clock.Clock
	metrics  *obsmetrics.Metrics
	auditSvc auditdomain.Service
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ota.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		vault:    p.Vault,
		catalog:  p.Catalog,
		clock:    clk,
		metrics:  p.Metrics,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) ListProviders(ctx context.Context) []config.OTAProvider {
	providers := s.catalog.Get().Providers
	out := make([]config.OTAProvider, len(providers))
	copy(out, providers)
	return out
}

func (s *Service) ListCredentials(ctx context.Context) ([]otadomain.CredentialView, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListCredentials(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	catalog := s.catalog.Get()
	views := make([]otadomain.CredentialView, 0, len(items))
	for i := range items {
		views = append(views, toView(catalog, &items[i]))
	}
	return views, nil
}

func (s *Service) UpsertCredential(ctx context.Context, req otadomain.UpsertCredentialRequest) (otadomain.CredentialView, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return otadomain.CredentialView{}, err
	}

	providerID := strings.TrimSpace(req.ProviderID)
	propertyCode := strings.TrimSpace(req.PropertyCode)
	if providerID == "" || propertyCode == "" || req.Secret == "" {
		return otadomain.CredentialView{}, otadomain.ErrMissingFields
	}
	catalog := s.catalog.Get()
	if _, ok := catalog.Lookup(providerID); !ok {
		return otadomain.CredentialView{}, otadomain.ErrUnknownProvider
	}

	var existingID snowflake.ID
	if raw := strings.TrimSpace(req.ID); raw != "" {
		existingID, err = snowflake.ParseString(raw)
		if err != nil || existingID == 0 {
			return otadomain.CredentialView{}, otadomain.ErrCredentialNotFound
		}
	}

	sealed, err := s.vault.Encrypt([]byte(req.Secret))
	if err != nil {
		s.log.Error("failed to encrypt ota credential", zap.String("provider_id", providerID), zap.Error(err))
		s.metrics.RecordVaultFailure(ctx, providerID)
		return otadomain.CredentialView{}, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := s.clock.Now().UTC()
	credential := otadomain.Credential{
		OrgID:        orgID,
		ProviderID:   providerID,
		PropertyCode: propertyCode,
		Username:     trimmedOrNil(req.Username),
		SecretEnc:    sealed,
		Enabled:      enabled,
		UpdatedAt:    now,
	}

	created := existingID == 0
	if created {
		credential.ID = s.genID.Generate()
		credential.CreatedAt = now
		err = s.repo.InsertCredential(ctx, s.db, &credential)
	} else {
		credential.ID = existingID
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			prior, err := s.repo.FindCredential(ctx, tx, orgID, existingID)
			if err != nil {
				return err
			}
			if prior == nil {
				return otadomain.ErrCredentialNotFound
			}
			credential.CreatedAt = prior.CreatedAt
			ok, err := s.repo.UpdateCredential(ctx, tx, &credential)
			if err != nil {
				return err
			}
			if !ok {
				return otadomain.ErrCredentialNotFound
			}
			return nil
		})
	}
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return otadomain.CredentialView{}, otadomain.ErrCredentialExists
		}
		return otadomain.CredentialView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionOTACredentialUpsert, &credential, map[string]any{
		"created":       created,
		"provider_id":   credential.ProviderID,
		"property_code": credential.PropertyCode,
		"username":      maskValue(credential.Username),
		"secret":        maskedSecret,
		"enabled":       credential.Enabled,
	})

	return toView(catalog, &credential), nil
}

func (s *Service) DeleteCredential(ctx context.Context, id string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	credentialID, err := parseID(id)
	if err != nil {
		return otadomain.ErrCredentialNotFound
	}

	var deleted *otadomain.Credential
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindCredential(ctx, tx, orgID, credentialID)
		if err != nil {
			return err
		}
		if existing == nil {
			return otadomain.ErrCredentialNotFound
		}
		if err := s.repo.DeleteMappingsByCredential(ctx, tx, orgID, credentialID); err != nil {
			return err
		}
		if _, err := s.repo.DeleteCredential(ctx, tx, orgID, credentialID); err != nil {
			return err
		}
		deleted = existing
		return nil
	})
	if err != nil {
		return err
	}

	s.emitAudit(ctx, auditdomain.ActionOTACredentialDelete, deleted, map[string]any{
		"provider_id":   deleted.ProviderID,
		"property_code": deleted.PropertyCode,
	})
	return nil
}

func (s *Service) ListMappings(ctx context.Context, req otadomain.ListMappingRequest) ([]otadomain.Mapping, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.CredentialID) == "" {
		return nil, otadomain.ErrCredentialIDRequired
	}
	credentialID, err := parseID(req.CredentialID)
	if err != nil {
		return nil, otadomain.ErrCredentialNotFound
	}

	filter := otadomain.MappingFilter{OrgID: orgID, CredentialID: credentialID}
	if raw := strings.TrimSpace(req.Kind); raw != "" {
		kind, err := parseKind(raw)
		if err != nil {
			return nil, err
		}
		filter.Kind = &kind
	}

	items, err := s.repo.ListMappings(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []otadomain.Mapping{}
	}
	return items, nil
}

func (s *Service) UpsertMapping(ctx context.Context, req otadomain.UpsertMappingRequest) (otadomain.Mapping, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return otadomain.Mapping{}, err
	}

	internalID := strings.TrimSpace(req.InternalID)
	providerCode := strings.TrimSpace(req.ProviderCode)
	if strings.TrimSpace(req.CredentialID) == "" || internalID == "" || providerCode == "" {
		return otadomain.Mapping{}, otadomain.ErrMissingFields
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		return otadomain.Mapping{}, err
	}
	credentialID, err := parseID(req.CredentialID)
	if err != nil {
		return otadomain.Mapping{}, otadomain.ErrCredentialNotFound
	}

	var existingID snowflake.ID
	if raw := strings.TrimSpace(req.ID); raw != "" {
		existingID, err = parseID(raw)
		if err != nil {
			return otadomain.Mapping{}, otadomain.ErrMappingNotFound
		}
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now().UTC()
	mapping := otadomain.Mapping{
		ID:           existingID,
		OrgID:        orgID,
		CredentialID: credentialID,
		Kind:         kind,
		InternalID:   internalID,
		ProviderCode: providerCode,
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credential, err := s.repo.FindCredential(ctx, tx, orgID, credentialID)
		if err != nil {
			return err
		}
		if credential == nil {
			return otadomain.ErrCredentialNotFound
		}

		if mapping.ID == 0 {
			mapping.ID = s.genID.Generate()
			return s.repo.InsertMapping(ctx, tx, &mapping)
		}

		prior, err := s.repo.FindMapping(ctx, tx, orgID, mapping.ID)
		if err != nil {
			return err
		}
		if prior == nil {
			return otadomain.ErrMappingNotFound
		}
		mapping.CreatedAt = prior.CreatedAt
		if _, err := s.repo.UpdateMapping(ctx, tx, &mapping); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return otadomain.Mapping{}, otadomain.ErrMappingExists
		}
		return otadomain.Mapping{}, err
	}
	return mapping, nil
}

func (s *Service) DeleteMapping(ctx context.Context, id string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	mappingID, err := parseID(id)
	if err != nil {
		return otadomain.ErrMappingNotFound
	}
	ok, err := s.repo.DeleteMapping(ctx, s.db, orgID, mappingID)
	if err != nil {
		return err
	}
	if !ok {
		return otadomain.ErrMappingNotFound
	}
	return nil
}

// ResolveARI translates internal room and rate plan ids through the active
// mappings of one credential. Unmapped ids are dropped.
func (s *Service) ResolveARI(ctx context.Context, req otadomain.ResolveARIRequest) (otadomain.ARIResolution, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return otadomain.ARIResolution{}, err
	}
	if strings.TrimSpace(req.CredentialID) == "" {
		return otadomain.ARIResolution{}, otadomain.ErrCredentialIDRequired
	}
	credentialID, err := parseID(req.CredentialID)
	if err != nil {
		return otadomain.ARIResolution{}, otadomain.ErrCredentialNotFound
	}

	mappings, err := s.repo.ListMappings(ctx, s.db, otadomain.MappingFilter{
		OrgID:        orgID,
		CredentialID: credentialID,
		ActiveOnly:   true,
	})
	if err != nil {
		return otadomain.ARIResolution{}, err
	}

	rooms := make(map[string]string)
	rates := make(map[string]string)
	for _, m := range mappings {
		switch m.Kind {
		case otadomain.MappingKindRoom:
			rooms[m.InternalID] = m.ProviderCode
		case otadomain.MappingKindRate:
			rates[m.InternalID] = m.ProviderCode
		}
	}

	resolved := otadomain.ARIResolution{
		Rooms: translate(req.Rooms, rooms),
		Rates: translate(req.RatePlans, rates),
	}
	if len(resolved.Rooms) == 0 || len(resolved.Rates) == 0 {
		return otadomain.ARIResolution{}, otadomain.ErrMissingMappings
	}
	return resolved, nil
}

// ResolveSecret decrypts a credential secret for the sync job. Disabled
// credentials are not resolvable.
func (s *Service) ResolveSecret(ctx context.Context, orgID, credentialID snowflake.ID) ([]byte, error) {
	if orgID == 0 {
		return nil, otadomain.ErrInvalidOrganization
	}
	credential, err := s.repo.FindCredential(ctx, s.db, orgID, credentialID)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, otadomain.ErrCredentialNotFound
	}
	if !credential.Enabled {
		return nil, otadomain.ErrSecretUnavailable
	}

	plaintext, err := s.vault.Decrypt(credential.SecretEnc)
	if err != nil {
		s.metrics.RecordVaultFailure(ctx, credential.ProviderID)
		s.log.Error("failed to decrypt ota credential",
			zap.String("org_id", orgID.String()),
			zap.String("credential_id", credentialID.String()),
			zap.String("provider_id", credential.ProviderID),
			zap.Error(err),
		)
		if errors.Is(err, vault.ErrAuthenticationFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", otadomain.ErrSecretUnavailable, err)
	}
	return plaintext, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, credential *otadomain.Credential, metadata map[string]any) {
	if s.auditSvc == nil || credential == nil {
		return
	}
	targetID := credential.ID.String()
	orgID := credential.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "ota_credential", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.String("credential_id", targetID), zap.Error(err))
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, otadomain.ErrInvalidOrganization
	}
	return orgID, nil
}
