package service

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/invoice/canonical"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/repository"
	"github.com/smallbiznis/folio/internal/orgcontext"
	"github.com/smallbiznis/folio/internal/ratelimit"
	signingdomain "github.com/smallbiznis/folio/internal/signing/domain"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubSigner struct {
	priv  ed25519.PrivateKey
	keyID string
}

func newStubSigner() *stubSigner {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 9
	return &stubSigner{priv: ed25519.NewKeyFromSeed(seed), keyID: "ed25519-test"}
}

func (s *stubSigner) Sign(payload []byte) signingdomain.Signature {
	return signingdomain.Signature{Value: ed25519.Sign(s.priv, payload), KeyID: s.keyID}
}
func (s *stubSigner) CurrentKeyID() string { return s.keyID }
func (s *stubSigner) CurrentPublicKey() (string, ed25519.PublicKey) {
	return s.keyID, s.priv.Public().(ed25519.PublicKey)
}
func (s *stubSigner) PublicKey(context.Context, string) (ed25519.PublicKey, error) {
	return s.priv.Public().(ed25519.PublicKey), nil
}
func (s *stubSigner) Register(context.Context) error { return nil }
func (s *stubSigner) ListKeys(context.Context) ([]signingdomain.SigningKey, error) {
	return nil, nil
}

type fixture struct {
	svc    invoicedomain.Service
	db     *gorm.DB
	signer *stubSigner
	clock  *clock.FakeClock
}

func newFixture(t *testing.T, repo invoicedomain.Repository) fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "invoice.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.InvoiceSequence{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	if repo == nil {
		repo = repository.Provide()
	}

	signer := newStubSigner()
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 123_456_789, time.UTC))
	svc := NewService(ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       repo,
		Signer:     signer,
		TenantLock: ratelimit.NewTenantLock(nil, zap.NewNop()),
		Clock:      clk,
	})
	return fixture{svc: svc, db: db, signer: signer, clock: clk}
}

func tenant(id int64) context.Context {
	return orgcontext.WithOrgID(context.Background(), snowflake.ID(id))
}

func roomNight() invoicedomain.CreateInvoiceRequest {
	pct := int64(18)
	return invoicedomain.CreateInvoiceRequest{
		Currency: "INR",
		Lines: []invoicedomain.CreateInvoiceLineRequest{
			{Description: "Room Night", Qty: 1, RateMinor: 500000, TaxPct: &pct, TaxMinor: 90000},
		},
	}
}

func TestCreateRoomNightScenario(t *testing.T) {
	f := newFixture(t, nil)

	inv, err := f.svc.Create(tenant(1), roomNight())
	require.NoError(t, err)

	assert.Equal(t, int64(500000), inv.SubtotalMinor)
	assert.Equal(t, int64(90000), inv.TaxTotalMinor)
	assert.Equal(t, int64(590000), inv.GrandTotalMinor)
	assert.Equal(t, int64(1), inv.Number)
	assert.Equal(t, "ed25519-test", inv.PubKeyID)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, int64(590000), inv.Lines[0].LineTotalMinor)

	_, pub := f.signer.CurrentPublicKey()
	assert.True(t, ed25519.Verify(pub, inv.SignedPayload, inv.Signature))
	assert.Contains(t, string(inv.SignedPayload), `"id":"`+inv.ID.String()+`"`)
	assert.Contains(t, string(inv.SignedPayload), `"createdAt":"2026-05-01T12:00:00.123Z"`)
}

func TestCreatePersistsFrozenPayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := tenant(1)

	created, err := f.svc.Create(ctx, roomNight())
	require.NoError(t, err)

	loaded, err := f.svc.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.SignedPayload, loaded.SignedPayload)
	assert.Equal(t, created.Signature, loaded.Signature)
	assert.Equal(t, created.Number, loaded.Number)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, "Room Night", loaded.Lines[0].Description)

	record, err := f.svc.FindForVerification(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.SignedPayload, record.SignedPayload)
	assert.Equal(t, created.PubKeyID, record.PubKeyID)
}

func TestCreateKeepsFXRateExact(t *testing.T) {
	f := newFixture(t, nil)
	req := roomNight()
	rate := "0.011987654321098765"
	usd := "usd"
	req.FXRate = &rate
	req.ReportingCurrency = &usd

	created, err := f.svc.Create(tenant(1), req)
	require.NoError(t, err)
	assert.Contains(t, string(created.SignedPayload), `"reportingCurrency":"USD","fxRate":"0.011987654321098765"`)

	loaded, err := f.svc.GetByID(tenant(1), created.ID.String())
	require.NoError(t, err)
	require.NotNil(t, loaded.FXRate)
	assert.Equal(t, rate, *loaded.FXRate)
}

func TestCreateSignsFXRateAsSent(t *testing.T) {
	f := newFixture(t, nil)
	req := roomNight()
	rate := " 1.50 "
	usd := "USD"
	req.FXRate = &rate
	req.ReportingCurrency = &usd

	created, err := f.svc.Create(tenant(1), req)
	require.NoError(t, err)
	assert.Contains(t, string(created.SignedPayload), `"fxRate":"1.50"`)

	loaded, err := f.svc.GetByID(tenant(1), created.ID.String())
	require.NoError(t, err)
	require.NotNil(t, loaded.FXRate)
	assert.Equal(t, "1.50", *loaded.FXRate)

	exp := "1.5e0"
	req.FXRate = &exp
	_, err = f.svc.Create(tenant(1), req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidFXRate)
}

func TestCreateRejectsInvalidUTF8(t *testing.T) {
	f := newFixture(t, nil)

	req := roomNight()
	req.Lines[0].Description = "Room \xff Night"
	_, err := f.svc.Create(tenant(1), req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLine)

	req = roomNight()
	code := "99\xc3"
	req.Lines[0].HsnSac = &code
	_, err = f.svc.Create(tenant(1), req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLine)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM invoices`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestGrandTotalInvariant(t *testing.T) {
	f := newFixture(t, nil)
	explicit := int64(12345)
	req := invoicedomain.CreateInvoiceRequest{
		Currency: "INR",
		Lines: []invoicedomain.CreateInvoiceLineRequest{
			{Description: "a", Qty: 3, RateMinor: 250000, TaxMinor: 135000},
			{Description: "b", Qty: 0, RateMinor: 99, TaxMinor: 0},
			{Description: "c", Qty: 2, RateMinor: -5000, TaxMinor: -900, LineTotalMinor: &explicit},
		},
	}

	inv, err := f.svc.Create(tenant(1), req)
	require.NoError(t, err)
	assert.Equal(t, int64(750000-10000), inv.SubtotalMinor)
	assert.Equal(t, int64(135000-900), inv.TaxTotalMinor)
	assert.Equal(t, inv.SubtotalMinor+inv.TaxTotalMinor, inv.GrandTotalMinor)
	assert.Equal(t, explicit, inv.Lines[2].LineTotalMinor)
	assert.Equal(t, 2, inv.Lines[2].Position)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := tenant(1)

	_, err := f.svc.Create(ctx, invoicedomain.CreateInvoiceRequest{Currency: " ", Lines: roomNight().Lines})
	assert.ErrorIs(t, err, invoicedomain.ErrMissingFields)

	_, err = f.svc.Create(ctx, invoicedomain.CreateInvoiceRequest{Currency: "INR"})
	assert.ErrorIs(t, err, invoicedomain.ErrMissingFields)

	req := roomNight()
	req.Lines[0].Qty = -1
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLine)

	req = roomNight()
	bad := "1.2.3"
	req.FXRate = &bad
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidFXRate)

	req = roomNight()
	req.Lines[0].Qty = 1 << 40
	req.Lines[0].RateMinor = 1 << 40
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, invoicedomain.ErrAmountOverflow)

	_, err = f.svc.Create(context.Background(), roomNight())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidOrganization)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestConcurrentCreateYieldsConsecutiveNumbers(t *testing.T) {
	f := newFixture(t, nil)
	const n = 25

	var wg sync.WaitGroup
	numbers := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := f.svc.Create(tenant(7), roomNight())
			if err != nil {
				errs <- err
				return
			}
			numbers <- inv.Number
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected create error: %v", err)
	}
	got := make([]int64, 0, n)
	for num := range numbers {
		got = append(got, num)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, n)
	for i, num := range got {
		assert.Equal(t, int64(i+1), num)
	}
}

func TestNumberingIsPerTenant(t *testing.T) {
	f := newFixture(t, nil)

	a1, err := f.svc.Create(tenant(1), roomNight())
	require.NoError(t, err)
	b1, err := f.svc.Create(tenant(2), roomNight())
	require.NoError(t, err)
	a2, err := f.svc.Create(tenant(1), roomNight())
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1.Number)
	assert.Equal(t, int64(1), b1.Number)
	assert.Equal(t, int64(2), a2.Number)
}

func TestCrossTenantReadLooksLikeUnknownID(t *testing.T) {
	f := newFixture(t, nil)

	owned, err := f.svc.Create(tenant(1), roomNight())
	require.NoError(t, err)

	_, crossErr := f.svc.GetByID(tenant(2), owned.ID.String())
	_, unknownErr := f.svc.GetByID(tenant(2), "987654321")
	_, malformedErr := f.svc.GetByID(tenant(2), "not-an-id")

	assert.ErrorIs(t, crossErr, invoicedomain.ErrInvoiceNotFound)
	assert.Equal(t, unknownErr, crossErr)
	assert.Equal(t, malformedErr, crossErr)
}

func TestListIsTenantScopedAndPaginated(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(tenant(1), roomNight())
		require.NoError(t, err)
	}
	_, err := f.svc.Create(tenant(2), roomNight())
	require.NoError(t, err)

	first, err := f.svc.List(tenant(1), invoicedomain.ListInvoiceRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Invoices, 2)
	assert.Equal(t, int64(3), first.Invoices[0].Number)
	assert.Equal(t, int64(2), first.Invoices[1].Number)
	assert.True(t, first.HasMore)
	assert.Len(t, first.Invoices[0].Lines, 1)

	second, err := f.svc.List(tenant(1), invoicedomain.ListInvoiceRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Invoices, 1)
	assert.Equal(t, int64(1), second.Invoices[0].Number)
	assert.False(t, second.HasMore)

	_, err = f.svc.List(tenant(1), invoicedomain.ListInvoiceRequest{Pagination: pagination.Pagination{PageToken: "garbage"}})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPageToken)
}

func TestNumberConflictIsRetriedInternally(t *testing.T) {
	f := newFixture(t, nil)
	ctx := tenant(1)

	_, err := f.svc.Create(ctx, roomNight())
	require.NoError(t, err)

	// simulate a counter that fell behind stored rows
	require.NoError(t, f.db.Exec(`UPDATE invoice_sequences SET last_number = 0 WHERE org_id = ?`, 1).Error)

	inv, err := f.svc.Create(ctx, roomNight())
	require.NoError(t, err)
	assert.Equal(t, int64(2), inv.Number)
}

type mockRepo struct {
	mock.Mock
	invoicedomain.Repository
}

func (m *mockRepo) InsertLines(ctx context.Context, tx *gorm.DB, lines []invoicedomain.InvoiceLine) error {
	args := m.Called(ctx, tx, lines)
	return args.Error(0)
}

func TestPersistenceFailureLeavesNoRows(t *testing.T) {
	repo := &mockRepo{Repository: repository.Provide()}
	repo.On("InsertLines", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))

	f := newFixture(t, repo)
	_, err := f.svc.Create(tenant(1), roomNight())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceCreationFailed)
	repo.AssertExpectations(t)

	var invoices, lines, sequences int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&invoices).Error)
	require.NoError(t, f.db.Model(&invoicedomain.InvoiceLine{}).Count(&lines).Error)
	require.NoError(t, f.db.Model(&invoicedomain.InvoiceSequence{}).Count(&sequences).Error)
	assert.Zero(t, invoices)
	assert.Zero(t, lines)
	assert.Zero(t, sequences)
}

func TestSignedPayloadMatchesCanonicalForm(t *testing.T) {
	f := newFixture(t, nil)
	inv, err := f.svc.Create(tenant(1), roomNight())
	require.NoError(t, err)

	lines := make([]canonical.Line, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, canonical.Line{
			Description: l.Description, Qty: l.Qty, RateMinor: l.RateMinor, TaxPct: l.TaxPct,
			TaxMinor: l.TaxMinor, LineTotalMinor: l.LineTotalMinor, HsnSac: l.HsnSac,
		})
	}
	want, err := canonical.Serialize(canonical.Header{
		ID: inv.ID, Number: inv.Number, CreatedAt: inv.CreatedAt, Currency: inv.Currency,
		SubtotalMinor: inv.SubtotalMinor, TaxTotalMinor: inv.TaxTotalMinor, GrandTotalMinor: inv.GrandTotalMinor,
	}, lines)
	require.NoError(t, err)
	assert.Equal(t, want, inv.SignedPayload)
}
