package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateInvoiceLineRequest struct {
	Description    string  `json:"description"`
	Qty            int64   `json:"qty"`
	RateMinor      int64   `json:"rateMinor"`
	TaxPct         *int64  `json:"taxPct"`
	TaxMinor       int64   `json:"taxMinor"`
	LineTotalMinor *int64  `json:"lineTotalMinor"`
	TaxCode        *string `json:"taxCode"`
	HsnSac         *string `json:"hsnSac"`
}

type CreateInvoiceRequest struct {
	CustomerID        string                     `json:"customerId"`
	Currency          string                     `json:"currency"`
	ReportingCurrency *string                    `json:"reportingCurrency"`
	FXRate            *string                    `json:"fxRate"`
	Lines             []CreateInvoiceLineRequest `json:"lines"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)

	// FindForVerification loads signature material by id without tenant
	// scope. It is only for the public verification path.
	FindForVerification(ctx context.Context, id snowflake.ID) (*VerificationRecord, error)
}

type Repository interface {
	AllocateNumber(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int64, error)
	// SyncSequence moves the tenant counter past the highest stored number.
	SyncSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error
	InsertInvoice(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	InsertLines(ctx context.Context, tx *gorm.DB, lines []InvoiceLine) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, orgID snowflake.ID, invoiceIDs []snowflake.ID) ([]InvoiceLine, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	FindVerificationRecord(ctx context.Context, db *gorm.DB, id snowflake.ID) (*VerificationRecord, error)
}

type ListFilter struct {
	OrgID        snowflake.ID
	BeforeNumber int64
	Limit        int
}

var (
	ErrInvalidOrganization      = errors.New("invalid_organization")
	ErrMissingFields            = errors.New("missing_fields")
	ErrInvalidLine              = errors.New("invalid_line")
	ErrInvalidFXRate            = errors.New("invalid_fx_rate")
	ErrInvalidCustomer          = errors.New("invalid_customer")
	ErrAmountOverflow           = errors.New("amount_overflow")
	ErrInvalidPageToken         = errors.New("invalid_page_token")
	ErrInvoiceNotFound          = errors.New("invoice_not_found")
	ErrNumberAllocationConflict = errors.New("number_allocation_conflict")
	ErrInvoiceCreationFailed    = errors.New("invoice_creation_failed")
)
