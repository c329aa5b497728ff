package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/authorization"
	"github.com/smallbiznis/folio/internal/config"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/render"
	"github.com/smallbiznis/folio/internal/observability"
	"github.com/smallbiznis/folio/internal/orgcontext"
	otadomain "github.com/smallbiznis/folio/internal/ota/domain"
	"github.com/smallbiznis/folio/internal/ratelimit"
	signingdomain "github.com/smallbiznis/folio/internal/signing/domain"
	"github.com/smallbiznis/folio/internal/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret  = "test-secret"
	testIssuer  = "folio-test"
	testBaseURL = "https://folio.test"
	testTenant  = snowflake.ID(42)
)

type fakeSigner struct {
	signingdomain.Service
	keyID string
	priv  ed25519.PrivateKey
}

func newFakeSigner() *fakeSigner {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{3}, ed25519.SeedSize))
	return &fakeSigner{keyID: "k-test", priv: priv}
}

func (f *fakeSigner) Sign(payload []byte) signingdomain.Signature {
	return signingdomain.Signature{KeyID: f.keyID, Value: ed25519.Sign(f.priv, payload)}
}

func (f *fakeSigner) CurrentKeyID() string { return f.keyID }

func (f *fakeSigner) CurrentPublicKey() (string, ed25519.PublicKey) {
	return f.keyID, f.priv.Public().(ed25519.PublicKey)
}

func (f *fakeSigner) PublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	if keyID != f.keyID {
		return nil, signingdomain.ErrKeyUnavailable
	}
	return f.priv.Public().(ed25519.PublicKey), nil
}

func (f *fakeSigner) ListKeys(ctx context.Context) ([]signingdomain.SigningKey, error) {
	return []signingdomain.SigningKey{{
		KeyID:     f.keyID,
		Algorithm: "ed25519",
		PublicKey: f.priv.Public().(ed25519.PublicKey),
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}, nil
}

type fakeInvoices struct {
	invoicedomain.Service
	signer  *fakeSigner
	stored  map[snowflake.ID]invoicedomain.Invoice
	lastOrg snowflake.ID
}

func (f *fakeInvoices) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidOrganization
	}
	if req.Currency == "" || len(req.Lines) == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrMissingFields
	}
	f.lastOrg = orgID

	payload := []byte(`{"id":"1001","number":1}`)
	sig := f.signer.Sign(payload)
	invoice := invoicedomain.Invoice{
		ID:              snowflake.ID(1001),
		OrgID:           orgID,
		Number:          1,
		Currency:        req.Currency,
		SubtotalMinor:   10000,
		TaxTotalMinor:   1200,
		GrandTotalMinor: 11200,
		SignedPayload:   payload,
		Signature:       sig.Value,
		PubKeyID:        sig.KeyID,
		CreatedAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Lines: []invoicedomain.InvoiceLine{
			{Position: 1, Description: "Room", Qty: 1, RateMinor: 10000, TaxMinor: 1200, LineTotalMinor: 11200},
		},
	}
	f.stored[invoice.ID] = invoice
	return invoice, nil
}

func (f *fakeInvoices) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	invoiceID, err := snowflake.ParseString(id)
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	invoice, ok := f.stored[invoiceID]
	if !ok || invoice.OrgID != orgID {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (f *fakeInvoices) FindForVerification(ctx context.Context, id snowflake.ID) (*invoicedomain.VerificationRecord, error) {
	invoice, ok := f.stored[id]
	if !ok {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return &invoicedomain.VerificationRecord{
		ID:            invoice.ID,
		Number:        invoice.Number,
		SignedPayload: invoice.SignedPayload,
		Signature:     invoice.Signature,
		PubKeyID:      invoice.PubKeyID,
	}, nil
}

// fakeAuthz denies manage actions to staff.
type fakeAuthz struct{}

func (fakeAuthz) Authorize(ctx context.Context, object, action string) error {
	actor, ok := orgcontext.ActorFromContext(ctx)
	if !ok {
		return authorization.ErrInvalidActor
	}
	if actor.Role != authorization.RoleAdmin && (action == authorization.ActionOTACredentialManage || action == authorization.ActionOTAMappingManage) {
		return authorization.ErrForbidden
	}
	return nil
}

type fakeOTA struct {
	otadomain.Service
}

func (fakeOTA) UpsertCredential(ctx context.Context, req otadomain.UpsertCredentialRequest) (otadomain.CredentialView, error) {
	return otadomain.CredentialView{}, otadomain.ErrCredentialExists
}

func (fakeOTA) ResolveARI(ctx context.Context, req otadomain.ResolveARIRequest) (otadomain.ARIResolution, error) {
	if len(req.Rooms) == 0 {
		return otadomain.ARIResolution{}, otadomain.ErrMissingMappings
	}
	return otadomain.ARIResolution{Rooms: []string{"DLX"}, Rates: []string{"BAR"}}, nil
}

type fakeAudit struct {
	auditdomain.Service
}

type testEnv struct {
	engine   *gin.Engine
	signer   *fakeSigner
	invoices *fakeInvoices
}

func newTestEnv(t *testing.T, verify config.VerifyConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		PublicBaseURL: testBaseURL,
		AuthJWTSecret: testSecret,
		AuthJWTIssuer: testIssuer,
		Verify:        verify,
	}
	signer := newFakeSigner()
	invoices := &fakeInvoices{signer: signer, stored: map[snowflake.ID]invoicedomain.Invoice{}}

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Engine:     engine,
		Cfg:        cfg,
		AuthzSvc:   fakeAuthz{},
		AuditSvc:   fakeAudit{},
		InvoiceSvc: invoices,
		Renderer:   render.NewRenderer(),
		OTASvc:     fakeOTA{},
		SigningSvc: signer,
		VerifySvc: verification.NewService(verification.Params{
			Log:      zap.NewNop(),
			Invoices: invoices,
			Signer:   signer,
		}),
		VerifyLimiter: ratelimit.NewVerifyLimiter(cfg, nil, zap.NewNop()),
	})

	return &testEnv{engine: engine, signer: signer, invoices: invoices}
}

func issueToken(t *testing.T, secret string, tenant, role string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		TenantID: tenant,
		UserID:   "user-1",
		Role:     role,
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %s", rec.Body.String())
	return payload["type"].(string)
}

func sampleInvoiceRequest() invoicedomain.CreateInvoiceRequest {
	return invoicedomain.CreateInvoiceRequest{
		Currency: "INR",
		Lines: []invoicedomain.CreateInvoiceLineRequest{
			{Description: "Room", Qty: 1, RateMinor: 10000, TaxMinor: 1200},
		},
	}
}

func TestHealthReportsCurrentKey(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "k-test", body["pubKeyId"])
}

func TestAPIRejectsMissingOrBadTokens(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})

	cases := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: issueToken(t, "other-secret", "42", "admin", time.Hour)},
		{name: "expired", token: issueToken(t, testSecret, "42", "admin", -time.Minute)},
		{name: "non numeric tenant", token: issueToken(t, testSecret, "acme", "admin", time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/invoices/1001", tc.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", errorType(t, rec))
		})
	}
}

func TestCreateInvoiceUsesTenantFromToken(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	token := issueToken(t, testSecret, "42", "staff", time.Hour)

	rec := env.do(t, http.MethodPost, "/api/invoices", token, sampleInvoiceRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, testTenant, env.invoices.lastOrg)

	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "1001", data["id"])
	assert.Equal(t, testBaseURL+"/verify/1001", data["verifyUrl"])
	assert.Equal(t, "k-test", data["pubKeyId"])

	sig, err := base64.StdEncoding.DecodeString(data["signature"].(string))
	require.NoError(t, err)
	assert.Len(t, sig, ed25519.SignatureSize)

	// another tenant cannot read it
	other := issueToken(t, testSecret, "77", "admin", time.Hour)
	rec = env.do(t, http.MethodGet, "/api/invoices/1001", other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatedInvoiceVerifiesOffline(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	token := issueToken(t, testSecret, "42", "staff", time.Hour)

	rec := env.do(t, http.MethodPost, "/api/invoices", token, sampleInvoiceRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].(map[string]any)
	payload, ok := data["signedPayload"].(string)
	require.True(t, ok, "missing signedPayload: %s", rec.Body.String())
	require.NotEmpty(t, payload)

	query := url.Values{"payload": {payload}, "sigB64": {data["signature"].(string)}}
	rec = env.do(t, http.MethodGet, "/verify?"+query.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "k-test", body["pubKeyId"])
}

func TestCreateInvoiceValidationError(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	token := issueToken(t, testSecret, "42", "staff", time.Hour)

	rec := env.do(t, http.MethodPost, "/api/invoices", token, invoicedomain.CreateInvoiceRequest{Currency: "INR"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "validation_error", payload["type"])
	errs := payload["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "missing_fields", errs[0].(map[string]any)["code"])
}

func TestInvoiceQRCode(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	token := issueToken(t, testSecret, "42", "staff", time.Hour)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/invoices", token, sampleInvoiceRequest()).Code)

	rec := env.do(t, http.MethodGet, "/api/invoices/1001/qr.png?size=128", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = env.do(t, http.MethodGet, "/api/invoices/1001/qr.png?size=10", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOTARoutesEnforceRolesAndMapErrors(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	staff := issueToken(t, testSecret, "42", "staff", time.Hour)
	admin := issueToken(t, testSecret, "42", "admin", time.Hour)

	body := otadomain.UpsertCredentialRequest{ProviderID: "booking", PropertyCode: "H1", Secret: "s"}

	rec := env.do(t, http.MethodPost, "/api/ota/credentials", staff, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorType(t, rec))

	rec = env.do(t, http.MethodPost, "/api/ota/credentials", admin, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorType(t, rec))

	rec = env.do(t, http.MethodPost, "/api/ota/push-ari", staff, otadomain.ResolveARIRequest{CredentialID: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/ota/push-ari", staff, otadomain.ResolveARIRequest{CredentialID: "1", Rooms: []string{"r1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	mapped := decodeBody(t, rec)["data"].(map[string]any)["mapped"].(map[string]any)
	assert.Equal(t, []any{"DLX"}, mapped["rooms"])
}

func TestListSigningKeys(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	token := issueToken(t, testSecret, "42", "admin", time.Hour)

	rec := env.do(t, http.MethodGet, "/api/signing-keys", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["data"].([]any)
	require.Len(t, items, 1)
	key := items[0].(map[string]any)
	assert.Equal(t, "k-test", key["keyId"])
	assert.Equal(t, true, key["current"])
}

func TestVerifyInvoiceByID(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	token := issueToken(t, testSecret, "42", "staff", time.Hour)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/invoices", token, sampleInvoiceRequest()).Code)

	rec := env.do(t, http.MethodGet, "/verify/1001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "k-test", body["pubKeyId"])
	assert.Equal(t, "1001", body["invoiceId"])

	// tamper with the stored payload
	stored := env.invoices.stored[1001]
	stored.SignedPayload = append([]byte(nil), stored.SignedPayload...)
	stored.SignedPayload[2] ^= 0x01
	env.invoices.stored[1001] = stored

	rec = env.do(t, http.MethodGet, "/verify/1001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])

	for _, id := range []string{"999", "not-an-id"} {
		rec = env.do(t, http.MethodGet, "/verify/"+id, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["ok"])
	}
}

func TestVerifyRaw(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{})
	payload := `{"hello":"world"}`
	sig := env.signer.Sign([]byte(payload)).Value

	query := url.Values{"payload": {payload}, "sigB64": {base64.RawURLEncoding.EncodeToString(sig)}}
	rec := env.do(t, http.MethodGet, "/verify?"+query.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])

	rec = env.do(t, http.MethodPost, "/verify", "", map[string]string{
		"payload": payload,
		"sigB64":  base64.StdEncoding.EncodeToString(sig),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])

	rec = env.do(t, http.MethodPost, "/verify", "", map[string]string{"payload": payload, "sigB64": "!!!"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])

	rec = env.do(t, http.MethodPost, "/verify", "", map[string]string{"payload": payload})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])
}

func TestVerifyIsRateLimited(t *testing.T) {
	env := newTestEnv(t, config.VerifyConfig{RatePerSecond: 0.01, Burst: 2})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/verify/999", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/verify/999", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", errorType(t, rec))

	// authenticated routes are not throttled by the verify limiter
	token := issueToken(t, testSecret, "42", "admin", time.Hour)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/signing-keys", token, nil).Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{err: authorization.ErrInvalidOrganization, status: http.StatusUnauthorized, typ: "unauthorized"},
		{err: authorization.ErrForbidden, status: http.StatusForbidden, typ: "forbidden"},
		{err: otadomain.ErrMappingExists, status: http.StatusConflict, typ: "conflict"},
		{err: otadomain.ErrCredentialNotFound, status: http.StatusNotFound, typ: "not_found"},
		{err: invoicedomain.ErrInvoiceCreationFailed, status: http.StatusInternalServerError, typ: "invoice_creation_failed"},
		{err: signingdomain.ErrKeyUnavailable, status: http.StatusInternalServerError, typ: "signing_key_unavailable"},
		{err: invoicedomain.ErrInvalidFXRate, status: http.StatusBadRequest, typ: "validation_error"},
		{err: context.DeadlineExceeded, status: http.StatusInternalServerError, typ: "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.typ, payload.Type, tc.err.Error())
	}

	_, payload := mapError(invoicedomain.ErrInvalidFXRate)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "fx_rate", payload.Errors[0].Field)

	kind, code := classifyErrorForLog(otadomain.ErrMissingMappings)
	assert.Equal(t, "client", kind)
	assert.Equal(t, "missing_mappings", code)
}
