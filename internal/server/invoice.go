package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/format"
	"github.com/smallbiznis/folio/internal/invoice/render"
	"github.com/smallbiznis/folio/pkg/db/pagination"
)

type invoiceLineResponse struct {
	Position       int     `json:"position"`
	Description    string  `json:"description"`
	Qty            int64   `json:"qty"`
	RateMinor      int64   `json:"rateMinor"`
	TaxPct         *int64  `json:"taxPct"`
	TaxMinor       int64   `json:"taxMinor"`
	LineTotalMinor int64   `json:"lineTotalMinor"`
	TaxCode        *string `json:"taxCode"`
	HsnSac         *string `json:"hsnSac"`
}

type invoiceResponse struct {
	ID                string                `json:"id"`
	Number            int64                 `json:"number"`
	DisplayNumber     string                `json:"displayNumber"`
	CustomerID        *string               `json:"customerId"`
	Currency          string                `json:"currency"`
	ReportingCurrency *string               `json:"reportingCurrency"`
	FXRate            *string               `json:"fxRate"`
	SubtotalMinor     int64                 `json:"subtotalMinor"`
	TaxTotalMinor     int64                 `json:"taxTotalMinor"`
	GrandTotalMinor   int64                 `json:"grandTotalMinor"`
	GrandTotal        string                `json:"grandTotal"`
	PubKeyID          string                `json:"pubKeyId"`
	SignedPayload     string                `json:"signedPayload"`
	Signature         string                `json:"signature"`
	VerifyURL         string                `json:"verifyUrl"`
	CreatedAt         time.Time             `json:"createdAt"`
	Lines             []invoiceLineResponse `json:"lines"`
}

func (s *Server) toInvoiceResponse(invoice invoicedomain.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:                invoice.ID.String(),
		Number:            invoice.Number,
		DisplayNumber:     format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, invoice.CreatedAt, invoice.Number),
		Currency:          invoice.Currency,
		ReportingCurrency: invoice.ReportingCurrency,
		FXRate:            invoice.FXRate,
		SubtotalMinor:     invoice.SubtotalMinor,
		TaxTotalMinor:     invoice.TaxTotalMinor,
		GrandTotalMinor:   invoice.GrandTotalMinor,
		GrandTotal:        format.FormatMoney(invoice.GrandTotalMinor, invoice.Currency),
		PubKeyID:          invoice.PubKeyID,
		SignedPayload:     string(invoice.SignedPayload),
		Signature:         base64.StdEncoding.EncodeToString(invoice.Signature),
		VerifyURL:         s.verifyURL(invoice.ID.String()),
		CreatedAt:         invoice.CreatedAt,
		Lines:             make([]invoiceLineResponse, 0, len(invoice.Lines)),
	}
	if invoice.CustomerID != nil {
		customerID := invoice.CustomerID.String()
		resp.CustomerID = &customerID
	}
	for _, line := range invoice.Lines {
		resp.Lines = append(resp.Lines, invoiceLineResponse{
			Position:       line.Position,
			Description:    line.Description,
			Qty:            line.Qty,
			RateMinor:      line.RateMinor,
			TaxPct:         line.TaxPct,
			TaxMinor:       line.TaxMinor,
			LineTotalMinor: line.LineTotalMinor,
			TaxCode:        line.TaxCode,
			HsnSac:         line.HsnSac,
		})
	}
	return resp
}

func (s *Server) verifyURL(invoiceID string) string {
	return fmt.Sprintf("%s/verify/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), invoiceID)
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.toInvoiceResponse(invoice)})
}

type listInvoicesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]invoiceResponse, 0, len(resp.Invoices))
	for _, invoice := range resp.Invoices {
		items = append(items, s.toInvoiceResponse(invoice))
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	item, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.toInvoiceResponse(item)})
}

// GetInvoiceQR renders the public verification link as a PNG.
func (s *Server) GetInvoiceQR(c *gin.Context) {
	item, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	size := render.DefaultQRSize
	if raw := strings.TrimSpace(c.Query("size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 64 || parsed > 1024 {
			AbortWithError(c, newValidationError("size", "invalid_size", "size must be between 64 and 1024"))
			return
		}
		size = parsed
	}

	png, err := render.QRPNG(s.verifyURL(item.ID.String()), size)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) GetInvoicePDF(c *gin.Context) {
	item, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.renderer.RenderPDF(item, s.verifyURL(item.ID.String()))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filename := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, item.CreatedAt, item.Number)
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, filename))
	c.Data(http.StatusOK, "application/pdf", doc)
}
