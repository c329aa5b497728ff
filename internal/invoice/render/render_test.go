package render

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQRPNG(t *testing.T) {
	out, err := QRPNG("https://folio.example/verify/123", 200)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())

	_, err = QRPNG("  ", 200)
	assert.ErrorIs(t, err, ErrEmptyQRContent)
}

func TestRenderPDF(t *testing.T) {
	pct := int64(18)
	hsn := "996311"
	invoice := invoicedomain.Invoice{
		ID:              snowflake.ID(1),
		Number:          3,
		Currency:        "INR",
		SubtotalMinor:   500000,
		TaxTotalMinor:   90000,
		GrandTotalMinor: 590000,
		PubKeyID:        "ed25519-0123456789abcdef",
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Lines: []invoicedomain.InvoiceLine{
			{Description: "Deluxe room", Qty: 1, RateMinor: 500000, TaxPct: &pct, TaxMinor: 90000, LineTotalMinor: 590000, HsnSac: &hsn},
		},
	}

	out, err := NewRenderer().RenderPDF(invoice, "https://folio.example/verify/1")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
