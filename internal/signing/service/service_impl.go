package service

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/config"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	"github.com/smallbiznis/folio/internal/signing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	keyIDPrefix    = "ed25519-"
	devKeyIDPrefix = "dev-ed25519-"

	devSeedSecret = "folio development signing seed"
	devSeedInfo   = "folio/signing/ed25519/v1"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	Secrets  config.Secrets
	Cfg      config.Config
	Metrics  *obsmetrics.Metrics `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type signer struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	metrics  *obsmetrics.Metrics
	auditSvc auditdomain.Service

	current *signer
	keys    sync.Map // key id -> ed25519.PublicKey
	lookups singleflight.Group
}

func NewService(p Params) (domain.Service, error) {
	return newService(p)
}

func newService(p Params) (*Service, error) {
	log := p.Log.Named("signing.service")

	seed := p.Secrets.SigningSeed
	keyID := p.Secrets.SigningKeyID
	if !p.Secrets.HasSigningSeed() {
		if p.Cfg.IsProduction() {
			return nil, config.ErrSigningSeedRequired
		}
		seed = DevSeed()
		keyID = ""
		log.Warn("SIGNING_SEED_HEX not set, using development signing key; signatures are not trustworthy")
	}

	cur, err := newSigner(seed, keyID, !p.Secrets.HasSigningSeed())
	if err != nil {
		return nil, err
	}

	return &Service{
		db:       p.DB,
		log:      log,
		repo:     p.Repo,
		metrics:  p.Metrics,
		auditSvc: p.AuditSvc,
		current:  cur,
	}, nil
}

// DevSeed derives the fixed development seed. Key ids minted from it carry
// the dev- prefix so they can never pass for production keys.
func DevSeed() []byte {
	r := hkdf.New(sha256.New, []byte(devSeedSecret), nil, []byte(devSeedInfo))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		panic(fmt.Sprintf("derive dev seed: %v", err))
	}
	return seed
}

// KeyIDFor returns the registry id for pub.
func KeyIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return keyIDPrefix + hex.EncodeToString(sum[:])[:16]
}

func newSigner(seed []byte, keyID string, dev bool) (*signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: got %d bytes", domain.ErrInvalidSeed, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = KeyIDFor(pub)
	}
	if dev {
		keyID = devKeyIDPrefix + strings.TrimPrefix(keyID, keyIDPrefix)
	} else if strings.HasPrefix(keyID, "dev-") {
		return nil, fmt.Errorf("%w: %q is reserved for development keys", domain.ErrInvalidKeyID, keyID)
	}

	return &signer{keyID: keyID, priv: priv, pub: pub}, nil
}

func (s *Service) Sign(payload []byte) domain.Signature {
	cur := s.current
	return domain.Signature{
		Value: ed25519.Sign(cur.priv, payload),
		KeyID: cur.keyID,
	}
}

func (s *Service) CurrentKeyID() string {
	return s.current.keyID
}

func (s *Service) CurrentPublicKey() (string, ed25519.PublicKey) {
	cur := s.current
	return cur.keyID, cur.pub
}

func (s *Service) PublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, domain.ErrKeyUnavailable
	}
	if cached, ok := s.keys.Load(keyID); ok {
		return cached.(ed25519.PublicKey), nil
	}

	// concurrent misses for one id share a single registry read
	v, err, _ := s.lookups.Do(keyID, func() (any, error) {
		key, err := s.repo.FindByKeyID(ctx, s.db, keyID)
		if err != nil {
			return nil, fmt.Errorf("load signing key %s: %w", keyID, err)
		}
		if key == nil || len(key.PublicKey) != ed25519.PublicKeySize {
			return nil, domain.ErrKeyUnavailable
		}
		pub := ed25519.PublicKey(bytes.Clone(key.PublicKey))
		s.keys.Store(keyID, pub)
		return pub, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrKeyUnavailable) {
			s.metrics.RecordKeyUnavailable(ctx, keyID)
		}
		return nil, err
	}
	return v.(ed25519.PublicKey), nil
}

func (s *Service) Register(ctx context.Context) error {
	return s.register(ctx, s.current)
}

func (s *Service) ListKeys(ctx context.Context) ([]domain.SigningKey, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) register(ctx context.Context, sg *signer) error {
	inserted, err := s.repo.Insert(ctx, s.db, &domain.SigningKey{
		KeyID:     sg.keyID,
		Algorithm: domain.AlgorithmEd25519,
		PublicKey: sg.pub,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("register signing key %s: %w", sg.keyID, err)
	}

	stored, err := s.repo.FindByKeyID(ctx, s.db, sg.keyID)
	if err != nil {
		return fmt.Errorf("load signing key %s: %w", sg.keyID, err)
	}
	if stored == nil {
		return domain.ErrKeyUnavailable
	}
	// an id can never be re-pointed at different key material
	if !bytes.Equal(stored.PublicKey, sg.pub) {
		s.log.Error("signing key id already bound to a different public key", zap.String("key_id", sg.keyID))
		return fmt.Errorf("%w: %s", domain.ErrKeyConflict, sg.keyID)
	}
	s.keys.Store(sg.keyID, sg.pub)

	if inserted {
		s.log.Info("signing key registered", zap.String("key_id", sg.keyID))
		s.emitAudit(ctx, sg.keyID)
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, keyID string) {
	if s.auditSvc == nil {
		return
	}
	targetID := keyID
	if err := s.auditSvc.AuditLog(ctx, nil, "system", nil, "signing_key.registered", "signing_key", &targetID, map[string]any{
		"algorithm": domain.AlgorithmEd25519,
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.String("key_id", keyID), zap.Error(err))
	}
}
