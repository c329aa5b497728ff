// Package canonical produces the signable byte form of an invoice.
//
// The output is compact JSON with this fixed member order:
//
//	id, number, createdAt, currency, reportingCurrency, fxRate,
//	subtotalMinor, taxTotalMinor, grandTotalMinor,
//	lines[ description, qty, rateMinor, taxPct, taxMinor, lineTotalMinor, hsnSac ]
//
// id is a decimal string, createdAt is UTC with millisecond precision
// (2006-01-02T15:04:05.000Z), fxRate is the caller's decimal string unchanged, and absent
// optional members are null. Bytes produced here are stored verbatim and
// must never be regenerated from stored columns.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TimeLayout is the fixed-precision UTC timestamp format.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var ErrInvalidHeader = errors.New("invalid_canonical_header")

type Header struct {
	ID                snowflake.ID
	Number            int64
	CreatedAt         time.Time
	Currency          string
	ReportingCurrency *string
	// FXRate is emitted as given; callers pass the validated request text.
	FXRate            *string
	SubtotalMinor     int64
	TaxTotalMinor     int64
	GrandTotalMinor   int64
}

type Line struct {
	Description    string
	Qty            int64
	RateMinor      int64
	TaxPct         *int64
	TaxMinor       int64
	LineTotalMinor int64
	HsnSac         *string
}

// Field order of these structs is the wire order.
type document struct {
	ID                string     `json:"id"`
	Number            int64      `json:"number"`
	CreatedAt         string     `json:"createdAt"`
	Currency          string     `json:"currency"`
	ReportingCurrency *string    `json:"reportingCurrency"`
	FXRate            *string    `json:"fxRate"`
	SubtotalMinor     int64      `json:"subtotalMinor"`
	TaxTotalMinor     int64      `json:"taxTotalMinor"`
	GrandTotalMinor   int64      `json:"grandTotalMinor"`
	Lines             []lineJSON `json:"lines"`
}

type lineJSON struct {
	Description    string  `json:"description"`
	Qty            int64   `json:"qty"`
	RateMinor      int64   `json:"rateMinor"`
	TaxPct         *int64  `json:"taxPct"`
	TaxMinor       int64   `json:"taxMinor"`
	LineTotalMinor int64   `json:"lineTotalMinor"`
	HsnSac         *string `json:"hsnSac"`
}

// FormatTime renders t in the canonical timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Serialize returns the canonical bytes for header and lines.
func Serialize(h Header, lines []Line) ([]byte, error) {
	if h.ID == 0 || h.Number <= 0 || h.CreatedAt.IsZero() {
		return nil, ErrInvalidHeader
	}

	doc := document{
		ID:                h.ID.String(),
		Number:            h.Number,
		CreatedAt:         FormatTime(h.CreatedAt),
		Currency:          h.Currency,
		ReportingCurrency: h.ReportingCurrency,
		SubtotalMinor:     h.SubtotalMinor,
		TaxTotalMinor:     h.TaxTotalMinor,
		GrandTotalMinor:   h.GrandTotalMinor,
		Lines:             make([]lineJSON, 0, len(lines)),
	}
	if h.FXRate != nil {
		rate := *h.FXRate
		doc.FXRate = &rate
	}
	for _, l := range lines {
		doc.Lines = append(doc.Lines, lineJSON{
			Description:    l.Description,
			Qty:            l.Qty,
			RateMinor:      l.RateMinor,
			TaxPct:         l.TaxPct,
			TaxMinor:       l.TaxMinor,
			LineTotalMinor: l.LineTotalMinor,
			HsnSac:         l.HsnSac,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
