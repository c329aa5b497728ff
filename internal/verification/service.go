// Package verification checks detached invoice signatures. It never writes
// and never re-serializes an invoice: the frozen payload is the source of truth.
package verification

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	signingdomain "github.com/smallbiznis/folio/internal/signing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	EndpointByID = "by_id"
	EndpointRaw  = "raw"
)

// Result is everything a public caller may learn about an invoice.
type Result struct {
	Valid     bool   `json:"ok"`
	PubKeyID  string `json:"pubKeyId"`
	InvoiceID string `json:"invoiceId,omitempty"`
	Number    int64  `json:"number,omitempty"`
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Invoices invoicedomain.Service
	Signer   signingdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	invoices invoicedomain.Service
	signer   signingdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("verification.service"),
		invoices: p.Invoices,
		signer:   p.Signer,
		metrics:  p.Metrics,
	}
}

// VerifyByID checks a stored invoice against the key recorded at creation.
// Unknown and malformed ids both yield ErrInvoiceNotFound.
func (s *Service) VerifyByID(ctx context.Context, id string) (Result, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return Result{}, invoicedomain.ErrInvoiceNotFound
	}

	record, err := s.invoices.FindForVerification(ctx, invoiceID)
	if err != nil {
		return Result{}, err
	}

	pub, err := s.signer.PublicKey(ctx, record.PubKeyID)
	if err != nil {
		if errors.Is(err, signingdomain.ErrKeyUnavailable) {
			s.log.Error("signing key missing from registry",
				zap.Bool("alert", true),
				zap.String("invoice_id", record.ID.String()),
				zap.String("pub_key_id", record.PubKeyID),
			)
		}
		return Result{}, err
	}

	valid := verify(pub, record.SignedPayload, record.Signature)
	s.metrics.RecordVerification(ctx, EndpointByID, valid)
	return Result{
		Valid:     valid,
		PubKeyID:  record.PubKeyID,
		InvoiceID: record.ID.String(),
		Number:    record.Number,
	}, nil
}

// VerifyRaw checks an arbitrary pair against the current key. A malformed
// signature is reported as invalid, not as an error.
func (s *Service) VerifyRaw(ctx context.Context, payload, signature []byte) Result {
	keyID, pub := s.signer.CurrentPublicKey()
	valid := verify(pub, payload, signature)
	s.metrics.RecordVerification(ctx, EndpointRaw, valid)
	return Result{Valid: valid, PubKeyID: keyID}
}

func verify(pub ed25519.PublicKey, payload, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, payload, signature)
}
