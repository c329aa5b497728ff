package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// AllocateNumber increments the tenant counter in a single statement. The
// row lock taken by the upsert holds until tx ends.
func (r *repo) AllocateNumber(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO invoice_sequences (org_id, last_number, updated_at)
		 VALUES (?, 1, ?)
		 ON CONFLICT (org_id) DO UPDATE
		 SET last_number = invoice_sequences.last_number + 1,
		     updated_at = excluded.updated_at
		 RETURNING last_number`,
		orgID,
		time.Now().UTC(),
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) SyncSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error {
	var maxNumber int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(number), 0) FROM invoices WHERE org_id = ?`,
		orgID,
	).Scan(&maxNumber).Error; err != nil {
		return err
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_sequences (org_id, last_number, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (org_id) DO UPDATE
		 SET last_number = CASE
		       WHEN invoice_sequences.last_number < excluded.last_number THEN excluded.last_number
		       ELSE invoice_sequences.last_number
		     END,
		     updated_at = excluded.updated_at`,
		orgID,
		maxNumber,
		time.Now().UTC(),
	).Error
}

func (r *repo) InsertInvoice(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, customer_id, number, currency, reporting_currency, fx_rate,
			subtotal_minor, tax_total_minor, grand_total_minor,
			signed_payload, signature, pub_key_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrgID,
		invoice.CustomerID,
		invoice.Number,
		invoice.Currency,
		invoice.ReportingCurrency,
		invoice.FXRate,
		invoice.SubtotalMinor,
		invoice.TaxTotalMinor,
		invoice.GrandTotalMinor,
		invoice.SignedPayload,
		invoice.Signature,
		invoice.PubKeyID,
		invoice.CreatedAt,
	).Error
}

func (r *repo) InsertLines(ctx context.Context, tx *gorm.DB, lines []domain.InvoiceLine) error {
	for _, line := range lines {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO invoice_lines (
				id, org_id, invoice_id, position, description, qty, rate_minor,
				tax_pct, tax_minor, line_total_minor, tax_code, hsn_sac, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID,
			line.OrgID,
			line.InvoiceID,
			line.Position,
			line.Description,
			line.Qty,
			line.RateMinor,
			line.TaxPct,
			line.TaxMinor,
			line.LineTotalMinor,
			line.TaxCode,
			line.HsnSac,
			line.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

const invoiceColumns = `id, org_id, customer_id, number, currency, reporting_currency, fx_rate,
	subtotal_minor, tax_total_minor, grand_total_minor,
	signed_payload, signature, pub_key_id, created_at`

// FindByID matches on both tenant and id; a foreign id reads as missing.
func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, orgID snowflake.ID, invoiceIDs []snowflake.ID) ([]domain.InvoiceLine, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	var lines []domain.InvoiceLine
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, position, description, qty, rate_minor,
		        tax_pct, tax_minor, line_total_minor, tax_code, hsn_sac, created_at
		 FROM invoice_lines
		 WHERE org_id = ? AND invoice_id IN ?
		 ORDER BY invoice_id ASC, position ASC`,
		orgID,
		invoiceIDs,
	).Scan(&lines).Error
	return lines, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE org_id = ?`
	args := []any{filter.OrgID}
	if filter.BeforeNumber > 0 {
		query += ` AND number < ?`
		args = append(args, filter.BeforeNumber)
	}
	query += ` ORDER BY number DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit+1)
	}

	var invoices []*domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) FindVerificationRecord(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.VerificationRecord, error) {
	var record domain.VerificationRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, number, signed_payload, signature, pub_key_id
		 FROM invoices
		 WHERE id = ?`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
