package render

import (
	"fmt"
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/folio/internal/invoice/canonical"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/format"
)

type Renderer interface {
	RenderPDF(invoice invoicedomain.Invoice, verifyURL string) ([]byte, error)
}

type PDFRenderer struct {
	numberTemplate string
}

func NewRenderer() Renderer {
	return &PDFRenderer{numberTemplate: format.DefaultInvoiceNumberTemplate}
}

// RenderPDF lays out the invoice and embeds verifyURL as a QR code so a
// printed copy can be checked against its signature.
func (r *PDFRenderer) RenderPDF(invoice invoicedomain.Invoice, verifyURL string) ([]byte, error) {
	displayNumber, err := format.FormatInvoiceNumber(r.numberTemplate, invoice.CreatedAt, invoice.Number)
	if err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Tax Invoice", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, displayNumber, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right, Top: 3}),
	)

	m.AddRow(40,
		col.New(8).Add(
			text.New("Invoice number: "+displayNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+canonical.FormatTime(invoice.CreatedAt), props.Text{Top: 5}),
			text.New("Currency: "+invoice.Currency, props.Text{Top: 10}),
			text.New(fxLine(invoice), props.Text{Top: 15}),
			text.New("Signing key: "+invoice.PubKeyID, props.Text{Top: 25, Size: 7}),
			text.New("Verify: "+verifyURL, props.Text{Top: 30, Size: 7}),
		),
		code.NewQrCol(4, verifyURL, props.Rect{Center: true, Percent: 90}),
	)

	m.AddRow(10,
		text.NewCol(5, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Rate", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Tax", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range invoice.Lines {
		description := line.Description
		if line.HsnSac != nil {
			description = fmt.Sprintf("%s (HSN/SAC %s)", description, *line.HsnSac)
		}
		tax := format.FormatMoney(line.TaxMinor, "")
		if line.TaxPct != nil {
			tax = fmt.Sprintf("%s (%d%%)", tax, *line.TaxPct)
		}
		m.AddRow(8,
			text.NewCol(5, description, props.Text{Size: 9}),
			text.NewCol(1, strconv.FormatInt(line.Qty, 10), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, format.FormatMoney(line.RateMinor, ""), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, tax, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, format.FormatMoney(line.LineTotalMinor, ""), props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := []struct {
		label  string
		amount int64
		style  fontstyle.Type
	}{
		{"Subtotal", invoice.SubtotalMinor, fontstyle.Normal},
		{"Tax", invoice.TaxTotalMinor, fontstyle.Normal},
		{"Total", invoice.GrandTotalMinor, fontstyle.Bold},
	}
	for _, row := range totals {
		m.AddRow(8,
			col.New(7),
			text.NewCol(2, row.label, props.Text{Size: 9, Style: row.style}),
			text.NewCol(3, format.FormatMoney(row.amount, invoice.Currency), props.Text{Size: 9, Style: row.style, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func fxLine(invoice invoicedomain.Invoice) string {
	if invoice.ReportingCurrency == nil || invoice.FXRate == nil {
		return ""
	}
	return fmt.Sprintf("Reporting: %s at %s", *invoice.ReportingCurrency, *invoice.FXRate)
}
