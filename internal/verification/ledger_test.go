package verification

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/folio/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/folio/internal/invoice/service"
	"github.com/smallbiznis/folio/internal/orgcontext"
	"github.com/smallbiznis/folio/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerifyByIDAgainstIssuedInvoice(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.InvoiceSequence{},
	))
	signer := newSigner(t, db, seedOf(3))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	invoices := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       invoicerepository.Provide(),
		Signer:     signer,
		TenantLock: ratelimit.NewTenantLock(nil, zap.NewNop()),
	})
	svc := NewService(Params{Log: zap.NewNop(), Invoices: invoices, Signer: signer})

	pct := int64(18)
	ctx := orgcontext.WithOrgID(context.Background(), snowflake.ID(1))
	inv, err := invoices.Create(ctx, invoicedomain.CreateInvoiceRequest{
		Currency: "INR",
		Lines: []invoicedomain.CreateInvoiceLineRequest{
			{Description: "Room Night", Qty: 1, RateMinor: 500000, TaxPct: &pct, TaxMinor: 90000},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(590000), inv.GrandTotalMinor)

	result, err := svc.VerifyByID(context.Background(), inv.ID.String())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, inv.ID.String(), result.InvoiceID)
	assert.Equal(t, int64(1), result.Number)
	assert.Equal(t, signer.CurrentKeyID(), result.PubKeyID)

	raw := svc.VerifyRaw(context.Background(), inv.SignedPayload, inv.Signature)
	assert.True(t, raw.Valid)

	// a later deploy with a new key still verifies the earlier invoice
	next := newSigner(t, db, seedOf(4))
	svc = NewService(Params{Log: zap.NewNop(), Invoices: invoices, Signer: next})
	result, err = svc.VerifyByID(context.Background(), inv.ID.String())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, inv.PubKeyID, result.PubKeyID)

	// edits to the stored payload are caught
	require.NoError(t, db.Exec(
		`UPDATE invoices SET signed_payload = ? WHERE id = ?`,
		[]byte(string(inv.SignedPayload)+" "), inv.ID,
	).Error)
	result, err = svc.VerifyByID(context.Background(), inv.ID.String())
	require.NoError(t, err)
	assert.False(t, result.Valid)
}
