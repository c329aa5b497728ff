package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/invoice/canonical"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	obslogger "github.com/smallbiznis/folio/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	"github.com/smallbiznis/folio/internal/orgcontext"
	"github.com/smallbiznis/folio/internal/ratelimit"
	signingdomain "github.com/smallbiznis/folio/internal/signing/domain"
	"github.com/smallbiznis/folio/pkg/db"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxAllocationAttempts = 5

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       invoicedomain.Repository
	Signer     signingdomain.Service
	TenantLock *ratelimit.TenantLock
	Clock      clock.Clock         `optional:"true"`
	Metrics    *obsmetrics.Metrics `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	repo       invoicedomain.Repository
	signer     signingdomain.Service
	tenantLock *ratelimit.TenantLock
	clock      clock.Clock
	metrics    *obsmetrics.Metrics
	auditSvc   auditdomain.Service
}

func NewService(p ServiceParam) invoicedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		signer:     p.Signer,
		tenantLock: p.TenantLock,
		clock:      clk,
		metrics:    p.Metrics,
		auditSvc:   p.AuditSvc,
	}
}

// draft is a validated request with totals computed, ready for numbering.
type draft struct {
	customerID        *snowflake.ID
	currency          string
	reportingCurrency *string
	fxRate            *string
	subtotal          int64
	taxTotal          int64
	lines             []invoicedomain.InvoiceLine
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	d, err := buildDraft(req)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	log := obslogger.WithContext(ctx, s.log)
	unlock, err := s.tenantLock.Lock(ctx, orgID)
	if err != nil {
		log.Error("failed to acquire tenant numbering lock", zap.Error(err))
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceCreationFailed
	}
	defer unlock()

	var created invoicedomain.Invoice
	for attempt := 1; ; attempt++ {
		created, err = s.createOnce(ctx, orgID, d)
		if err == nil {
			break
		}
		if !errors.Is(err, invoicedomain.ErrNumberAllocationConflict) || attempt >= maxAllocationAttempts {
			log.Error("invoice creation failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceCreationFailed
		}

		s.metrics.RecordAllocationRetry(ctx, orgID.String())
		log.Warn("invoice number conflict, resyncing sequence", zap.Int("attempt", attempt))
		if err := s.repo.SyncSequence(ctx, s.db, orgID); err != nil {
			log.Error("failed to resync invoice sequence", zap.Error(err))
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceCreationFailed
		}
	}

	s.metrics.RecordInvoiceCreated(ctx, orgID.String())
	s.emitAudit(ctx, &created)
	return created, nil
}

// createOnce runs numbering, signing and persistence in one transaction.
func (s *Service) createOnce(ctx context.Context, orgID snowflake.ID, d draft) (invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.repo.AllocateNumber(ctx, tx, orgID)
		if err != nil {
			return fmt.Errorf("allocate number: %w", err)
		}

		invoice = invoicedomain.Invoice{
			ID:                s.genID.Generate(),
			OrgID:             orgID,
			CustomerID:        d.customerID,
			Number:            number,
			Currency:          d.currency,
			ReportingCurrency: d.reportingCurrency,
			FXRate:            d.fxRate,
			SubtotalMinor:     d.subtotal,
			TaxTotalMinor:     d.taxTotal,
			GrandTotalMinor:   d.subtotal + d.taxTotal,
			CreatedAt:         s.clock.Now().UTC().Truncate(time.Millisecond),
		}

		lines := make([]invoicedomain.InvoiceLine, len(d.lines))
		canonicalLines := make([]canonical.Line, len(d.lines))
		for i, line := range d.lines {
			line.ID = s.genID.Generate()
			line.OrgID = orgID
			line.InvoiceID = invoice.ID
			line.CreatedAt = invoice.CreatedAt
			lines[i] = line
			canonicalLines[i] = canonical.Line{
				Description:    line.Description,
				Qty:            line.Qty,
				RateMinor:      line.RateMinor,
				TaxPct:         line.TaxPct,
				TaxMinor:       line.TaxMinor,
				LineTotalMinor: line.LineTotalMinor,
				HsnSac:         line.HsnSac,
			}
		}

		payload, err := canonical.Serialize(canonical.Header{
			ID:                invoice.ID,
			Number:            invoice.Number,
			CreatedAt:         invoice.CreatedAt,
			Currency:          invoice.Currency,
			ReportingCurrency: invoice.ReportingCurrency,
			FXRate:            invoice.FXRate,
			SubtotalMinor:     invoice.SubtotalMinor,
			TaxTotalMinor:     invoice.TaxTotalMinor,
			GrandTotalMinor:   invoice.GrandTotalMinor,
		}, canonicalLines)
		if err != nil {
			return fmt.Errorf("serialize invoice: %w", err)
		}

		sig := s.signer.Sign(payload)
		invoice.SignedPayload = payload
		invoice.Signature = sig.Value
		invoice.PubKeyID = sig.KeyID

		if err := s.repo.InsertInvoice(ctx, tx, &invoice); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrNumberAllocationConflict
			}
			return fmt.Errorf("insert invoice: %w", err)
		}
		if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
			return fmt.Errorf("insert invoice lines: %w", err)
		}

		invoice.Lines = lines
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	// malformed ids are indistinguishable from unknown ones
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	lines, err := s.repo.ListLines(ctx, s.db, orgID, []snowflake.ID{item.ID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	item.Lines = lines
	return *item, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	var before int64
	if token := strings.TrimSpace(req.PageToken); token != "" {
		rawNumber, _, err := pagination.DecodeCursor(token)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		before, err = strconv.ParseInt(rawNumber, 10, 64)
		if err != nil || before <= 0 {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, invoicedomain.ListFilter{
		OrgID:        orgID,
		BeforeNumber: before,
		Limit:        limit,
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	items, pageInfo := pagination.Page(items, limit, func(item *invoicedomain.Invoice) string {
		return pagination.EncodeCursor(strconv.FormatInt(item.Number, 10), item.CreatedAt)
	})

	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	lines, err := s.repo.ListLines(ctx, s.db, orgID, ids)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	byInvoice := make(map[snowflake.ID][]invoicedomain.InvoiceLine, len(items))
	for _, line := range lines {
		byInvoice[line.InvoiceID] = append(byInvoice[line.InvoiceID], line)
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		item.Lines = byInvoice[item.ID]
		invoices = append(invoices, *item)
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

func (s *Service) FindForVerification(ctx context.Context, id snowflake.ID) (*invoicedomain.VerificationRecord, error) {
	if id == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	record, err := s.repo.FindVerificationRecord(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return record, nil
}

func (s *Service) emitAudit(ctx context.Context, invoice *invoicedomain.Invoice) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"number":            invoice.Number,
		"currency":          invoice.Currency,
		"grand_total_minor": invoice.GrandTotalMinor,
		"line_count":        len(invoice.Lines),
		"pub_key_id":        invoice.PubKeyID,
	}
	if invoice.CustomerID != nil {
		metadata["customer_id"] = invoice.CustomerID.String()
	}

	targetID := invoice.ID.String()
	orgID := invoice.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionInvoiceCreated, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("invoice_id", targetID), zap.Error(err))
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}
