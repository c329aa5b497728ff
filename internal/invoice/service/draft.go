package service

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
)

// buildDraft validates req and computes totals in int64 minor units.
func buildDraft(req invoicedomain.CreateInvoiceRequest) (draft, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" || len(req.Lines) == 0 {
		return draft{}, invoicedomain.ErrMissingFields
	}

	d := draft{
		currency:          currency,
		reportingCurrency: normalizeCurrency(req.ReportingCurrency),
		lines:             make([]invoicedomain.InvoiceLine, 0, len(req.Lines)),
	}

	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return draft{}, invoicedomain.ErrInvalidCustomer
		}
		d.customerID = &id
	}

	// the rate is signed and stored exactly as sent once it parses as a
	// positive plain decimal
	if req.FXRate != nil && strings.TrimSpace(*req.FXRate) != "" {
		text := strings.TrimSpace(*req.FXRate)
		rate, err := decimal.NewFromString(text)
		if err != nil || !rate.IsPositive() || strings.ContainsAny(text, "eE") {
			return draft{}, invoicedomain.ErrInvalidFXRate
		}
		d.fxRate = &text
	}

	for i, in := range req.Lines {
		if in.Qty < 0 {
			return draft{}, fmt.Errorf("%w: line %d has negative qty", invoicedomain.ErrInvalidLine, i)
		}
		if in.TaxPct != nil && *in.TaxPct < 0 {
			return draft{}, fmt.Errorf("%w: line %d has negative taxPct", invoicedomain.ErrInvalidLine, i)
		}
		if !validText(in.Description) || !validOptionalText(in.TaxCode) || !validOptionalText(in.HsnSac) {
			return draft{}, fmt.Errorf("%w: line %d is not valid UTF-8", invoicedomain.ErrInvalidLine, i)
		}

		amount, ok := mulInt64(in.Qty, in.RateMinor)
		if !ok {
			return draft{}, invoicedomain.ErrAmountOverflow
		}
		lineTotal, ok := addInt64(amount, in.TaxMinor)
		if !ok {
			return draft{}, invoicedomain.ErrAmountOverflow
		}
		if in.LineTotalMinor != nil {
			lineTotal = *in.LineTotalMinor
		}

		if d.subtotal, ok = addInt64(d.subtotal, amount); !ok {
			return draft{}, invoicedomain.ErrAmountOverflow
		}
		if d.taxTotal, ok = addInt64(d.taxTotal, in.TaxMinor); !ok {
			return draft{}, invoicedomain.ErrAmountOverflow
		}

		d.lines = append(d.lines, invoicedomain.InvoiceLine{
			Position:       i,
			Description:    strings.TrimSpace(in.Description),
			Qty:            in.Qty,
			RateMinor:      in.RateMinor,
			TaxPct:         in.TaxPct,
			TaxMinor:       in.TaxMinor,
			LineTotalMinor: lineTotal,
			TaxCode:        trimmedOrNil(in.TaxCode),
			HsnSac:         trimmedOrNil(in.HsnSac),
		})
	}

	if _, ok := addInt64(d.subtotal, d.taxTotal); !ok {
		return draft{}, invoicedomain.ErrAmountOverflow
	}
	return d, nil
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

func validText(v string) bool { return utf8.ValidString(v) }

func validOptionalText(v *string) bool { return v == nil || utf8.ValidString(*v) }

func normalizeCurrency(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.ToUpper(strings.TrimSpace(*v))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
