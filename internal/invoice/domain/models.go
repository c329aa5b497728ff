// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Invoice is an issued, signed invoice. Rows are written once together
// with their lines and never updated.
type Invoice struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	OrgID             snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_org_number,priority:1"`
	CustomerID        *snowflake.ID `gorm:""`
	Number            int64         `gorm:"not null;uniqueIndex:ux_invoices_org_number,priority:2"`
	Currency          string        `gorm:"type:text;not null"`
	ReportingCurrency *string       `gorm:"type:text"`
	FXRate            *string       `gorm:"column:fx_rate;type:text"`
	SubtotalMinor     int64         `gorm:"not null"`
	TaxTotalMinor     int64         `gorm:"not null"`
	GrandTotalMinor   int64         `gorm:"not null"`
	SignedPayload     []byte        `gorm:"not null"`
	Signature         []byte        `gorm:"not null"`
	PubKeyID          string        `gorm:"type:text;not null"`
	CreatedAt         time.Time     `gorm:"not null"`

	Lines []InvoiceLine `gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one line of an invoice, kept in insertion order by Position.
type InvoiceLine struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index"`
	InvoiceID      snowflake.ID `gorm:"not null;index"`
	Position       int          `gorm:"not null"`
	Description    string       `gorm:"type:text;not null"`
	Qty            int64        `gorm:"not null"`
	RateMinor      int64        `gorm:"not null"`
	TaxPct         *int64       `gorm:""`
	TaxMinor       int64        `gorm:"not null"`
	LineTotalMinor int64        `gorm:"not null"`
	TaxCode        *string      `gorm:"type:text"`
	HsnSac         *string      `gorm:"type:text"`
	CreatedAt      time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// InvoiceSequence holds the last number issued for a tenant.
type InvoiceSequence struct {
	OrgID      snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	LastNumber int64        `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }

// VerificationRecord is the frozen material needed to check an invoice
// signature. It carries no tenant data.
type VerificationRecord struct {
	ID            snowflake.ID
	Number        int64
	SignedPayload []byte
	Signature     []byte
	PubKeyID      string
}
