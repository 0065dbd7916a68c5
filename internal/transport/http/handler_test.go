package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"examshield/internal/config"
	apierrors "examshield/internal/errors"
	"examshield/internal/license"
	"examshield/internal/middleware"
	"examshield/internal/report"
	"examshield/internal/storage"
	"examshield/internal/webhook"
	api "examshield/pkg/contracts/api/v1"
)

const (
	testWebhookSecret  = "whsec_test_secret"
	testAdminSecret    = "admin_test_secret"
	testRazorpaySecret = "rzp_test_secret"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	router   chi.Router
	registry *license.Registry
	clock    *quartz.Mock
}

type fixtureOptions struct {
	razorpaySecret string
	publicReports  bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := quartz.NewMock(t)
	clock.Set(testNow)

	backend, err := storage.NewFileBackend(filepath.Join(t.TempDir(), "license_db.json"),
		storage.WithFileClock(clock),
		storage.WithFileLogger(logger),
	)
	require.NoError(t, err)
	store, err := license.NewStore(context.Background(), backend, license.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := license.NewRegistry(store, "https://license.example.com",
		license.WithClock(clock), license.WithLogger(logger))
	binder := license.NewBinder(store, license.WithClock(clock), license.WithLogger(logger))

	errs := apierrors.NewErrorHandler(logger, false)
	common := Common{Errors: errs, Validator: middleware.NewValidator(), Logger: logger}
	payments := config.PaymentsConfig{RazorpayKeyID: "rzp_id", RazorpayKeySecret: opts.razorpaySecret}
	verifier := webhook.NewVerifier(config.SecurityConfig{WebhookSecret: testWebhookSecret}, logger)

	lh := NewLicenseHandler(registry, binder, common)
	ph := NewPaymentHandler(registry, verifier, payments, common)
	hh := NewHealthHandler(registry, config.ReportsConfig{PublicEnabled: opts.publicReports}, common)
	ah := NewAdminHandler(registry, nil, common)

	r := chi.NewRouter()
	r.Post("/register", lh.Register)
	r.Post("/check-trial-eligibility", lh.CheckTrialEligibility)
	r.Post("/verify", lh.Verify)
	r.Post("/activate-trial", lh.ActivateTrial)
	r.Get("/license-info", lh.LicenseInfo)
	r.Post("/webhook/payment", ph.Webhook)
	r.Post("/verify-payment", ph.VerifyPayment)
	r.Get("/payment-config", ph.PaymentConfig)
	r.Get("/public/reports", hh.PublicReports)
	r.Get("/health", hh.Health)
	r.Mount("/admin", ah.Routes(middleware.AdminAuth(testAdminSecret, logger, errs)))

	return &fixture{t: t, router: r, registry: registry, clock: clock}
}

func (f *fixture) do(method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postJSON(target string, v any) *httptest.ResponseRecorder {
	f.t.Helper()
	body, err := json.Marshal(v)
	require.NoError(f.t, err)
	return f.do(http.MethodPost, target, body, nil)
}

func (f *fixture) webhook(payload map[string]any) *httptest.ResponseRecorder {
	f.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(f.t, err)
	return f.do(http.MethodPost, "/webhook/payment", body, map[string]string{
		webhook.SignatureHeader: webhook.Sign([]byte(testWebhookSecret), body),
	})
}

func (f *fixture) register(email string) string {
	f.t.Helper()
	rec := f.postJSON("/register", api.RegisterRequest{Email: email, Name: "Ann", DeviceType: "individual"})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp api.RegisterResponse
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.LicenseKey
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRegister(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.postJSON("/register", api.RegisterRequest{Email: "Ann@Example.com ", Name: "Ann", DeviceType: "individual"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[api.RegisterResponse](t, rec)
	assert.Regexp(t, `^ES-[0-9A-F]{32}$`, resp.LicenseKey)
	assert.Equal(t, "https://license.example.com/payment?key="+resp.LicenseKey, resp.PaymentURL)
	assert.Equal(t, license.IndividualDeviceLimit, resp.DeviceLimit)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		rec := f.postJSON("/register", api.RegisterRequest{Email: "ann@example.com", Name: "Ann again"})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		p := decode[api.Problem](t, rec)
		assert.Equal(t, resp.LicenseKey, p.ExistingKey)
		assert.Equal(t, license.StatusPending, p.RegistrationStatus)
		assert.Equal(t, resp.PaymentURL, p.PaymentURL)
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "missing name", body: `{"email":"bob@example.com"}`},
		{name: "bad device type", body: `{"email":"bob@example.com","name":"Bob","device_type":"laptop"}`},
		{name: "bad email", body: `{"email":"bob","name":"Bob"}`},
		{name: "malformed", body: `{"email":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/register", []byte(tt.body), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestLicenseLifecycle(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	key := f.register("ann@example.com")

	verify := func(fp string) *httptest.ResponseRecorder {
		return f.postJSON("/verify", api.VerifyRequest{Key: key, DeviceFingerprint: fp})
	}

	rec := verify("fp1")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, license.ReasonInactive, decode[api.Problem](t, rec).Reason)

	rec = f.webhook(map[string]any{"status": "paid", "email": "ANN@example.com", "id": "txn_1", "amount": 99.99})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wh := decode[api.WebhookResponse](t, rec)
	assert.True(t, wh.Success)
	assert.Equal(t, key, wh.LicenseKey)

	rec = verify("fp1")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[api.VerifyResponse](t, rec)
	assert.True(t, v.Valid)
	assert.Equal(t, 1, v.DevicesRegistered)
	assert.Equal(t, "Device registered successfully", v.Message)
	require.NotNil(t, v.Expires)
	assert.True(t, testNow.Add(license.Validity).Equal(*v.Expires))

	require.Equal(t, http.StatusOK, verify("fp2").Code)

	rec = verify("fp3")
	require.Equal(t, http.StatusForbidden, rec.Code)
	p := decode[api.Problem](t, rec)
	assert.Equal(t, license.ReasonLimitReached, p.Reason)
	assert.Equal(t, 2, p.DeviceLimit)
	assert.Equal(t, 2, p.RegisteredDevices)

	rec = verify("fp1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Device verified", decode[api.VerifyResponse](t, rec).Message)

	t.Run("redelivered webhook is a no-op", func(t *testing.T) {
		rec := f.webhook(map[string]any{"status": "paid", "email": "ann@example.com", "id": "txn_1"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.WebhookResponse](t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "No pending license found for this email", resp.Message)
	})

	t.Run("expired license", func(t *testing.T) {
		f.clock.Set(testNow.Add(license.Validity + time.Hour))
		rec := verify("fp1")
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, license.ReasonExpired, decode[api.Problem](t, rec).Reason)
	})
}

func TestVerify_BadRequests(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.postJSON("/verify", map[string]string{"key": "ES-X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.postJSON("/verify", api.VerifyRequest{Key: "ES-00000000000000000000000000000000", DeviceFingerprint: "fp"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "LICENSE_NOT_FOUND", decode[api.Problem](t, rec).ErrorCode)
}

func TestWebhook(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register("ann@example.com")

	t.Run("bad signature", func(t *testing.T) {
		body := []byte(`{"status":"paid","email":"ann@example.com"}`)
		rec := f.do(http.MethodPost, "/webhook/payment", body, map[string]string{
			webhook.SignatureHeader: webhook.Sign([]byte("wrong"), body),
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/webhook/payment", []byte(`{"status":"paid"}`), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("payment not successful", func(t *testing.T) {
		rec := f.webhook(map[string]any{"status": "failed", "email": "ann@example.com"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.WebhookResponse](t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "Payment not successful", resp.Message)
		assert.Equal(t, "failed", resp.Status)
	})

	t.Run("missing email", func(t *testing.T) {
		rec := f.webhook(map[string]any{"event": "payment.captured"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		body := []byte(`not json`)
		rec := f.do(http.MethodPost, "/webhook/payment", body, map[string]string{
			webhook.SignatureHeader: webhook.Sign([]byte(testWebhookSecret), body),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("nested customer email alias", func(t *testing.T) {
		rec := f.webhook(map[string]any{"payment_status": "completed", "customer": map[string]any{"email": "ann@example.com"}, "payment_id": "pay_9"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[api.WebhookResponse](t, rec).Success)
	})
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t, fixtureOptions{razorpaySecret: testRazorpaySecret})
	key := f.register("ann@example.com")

	signed := api.RazorpayPaymentResponse{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: webhook.RazorpaySignature(testRazorpaySecret, "order_1", "pay_1"),
	}

	tests := []struct {
		name   string
		req    api.VerifyPaymentRequest
		status int
	}{
		{name: "unknown key", req: api.VerifyPaymentRequest{Provider: "razorpay", LicenseKey: "ES-00000000000000000000000000000000", PaymentResponse: signed}, status: http.StatusNotFound},
		{name: "unsupported provider", req: api.VerifyPaymentRequest{Provider: "stripe", LicenseKey: key}, status: http.StatusBadRequest},
		{name: "bad signature", req: api.VerifyPaymentRequest{Provider: "razorpay", LicenseKey: key, PaymentResponse: api.RazorpayPaymentResponse{OrderID: "order_1", PaymentID: "pay_1", Signature: "00"}}, status: http.StatusUnauthorized},
		{name: "verified", req: api.VerifyPaymentRequest{Provider: "razorpay", LicenseKey: key, PaymentResponse: signed}, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.postJSON("/verify-payment", tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec, err := f.registry.Lookup(key)
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, "pay_1", rec.TransactionID)
	assert.True(t, license.IndividualPrice.Equal(rec.PaymentAmount))
}

func TestVerifyPayment_NotConfigured(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	key := f.register("ann@example.com")

	rec := f.postJSON("/verify-payment", api.VerifyPaymentRequest{Provider: "razorpay", LicenseKey: key})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Razorpay not configured", decode[api.Problem](t, rec).Detail)

	cfg := decode[api.PaymentConfigResponse](t, f.do(http.MethodGet, "/payment-config", nil, nil))
	assert.False(t, cfg.RazorpayEnabled)
	assert.False(t, cfg.StripeEnabled)
}

func TestActivateTrial(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	key := f.register("ann@example.com")

	rec := f.postJSON("/activate-trial", api.TrialActivationRequest{LicenseKey: key})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.TrialActivationResponse](t, rec)
	assert.True(t, resp.Success)
	assert.True(t, testNow.Add(license.TrialPeriod).Equal(resp.TrialExpires))

	rec = f.postJSON("/activate-trial", api.TrialActivationRequest{LicenseKey: key})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.postJSON("/activate-trial", api.TrialActivationRequest{LicenseKey: "ES-00000000000000000000000000000000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckTrialEligibility(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register("ann@example.com")

	resp := decode[api.EligibilityResponse](t, f.postJSON("/check-trial-eligibility", api.EligibilityRequest{Email: "new@example.com"}))
	assert.True(t, resp.Eligible)

	resp = decode[api.EligibilityResponse](t, f.postJSON("/check-trial-eligibility", api.EligibilityRequest{Email: "ANN@example.com"}))
	assert.False(t, resp.Eligible)
	assert.True(t, resp.HasPending)
	assert.Equal(t, "Registration pending for this email", resp.Reason)
}

func TestLicenseInfo(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	key := f.register("ann@example.com")

	rec := f.do(http.MethodGet, "/license-info?key="+key, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[api.LicenseInfoResponse](t, rec)
	assert.Equal(t, "ann@example.com", info.Email)
	assert.Equal(t, license.PaymentPending, info.PaymentStatus)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/license-info", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/license-info?key=ES-NOPE", nil, nil).Code)
}

func TestPublicReports(t *testing.T) {
	enabled := newFixture(t, fixtureOptions{publicReports: true})
	enabled.register("ann@example.com")
	rec := enabled.do(http.MethodGet, "/public/reports", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.PublicReportsResponse](t, rec)
	assert.Equal(t, 1, resp.TotalLicenses)
	assert.Equal(t, 0, resp.ActiveLicenses)

	disabled := newFixture(t, fixtureOptions{})
	assert.Equal(t, http.StatusForbidden, disabled.do(http.MethodGet, "/public/reports", nil, nil).Code)
}

func TestAdmin(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	key := f.register("ann@example.com")
	admin := func(path string) *httptest.ResponseRecorder {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return f.do(http.MethodGet, path+sep+"secret="+testAdminSecret, nil, nil)
	}

	t.Run("unauthorized", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/reports", nil, nil).Code)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/revoke?key="+key+"&secret=nope", nil, nil).Code)
	})

	t.Run("extend", func(t *testing.T) {
		rec := admin("/admin/extend?key=" + key + "&days=30")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[api.AdminActionResponse](t, rec)
		require.NotNil(t, resp.NewExpires)
		assert.True(t, testNow.Add(30*24*time.Hour).Equal(*resp.NewExpires))

		assert.Equal(t, http.StatusBadRequest, admin("/admin/extend?key="+key+"&days=abc").Code)
		assert.Equal(t, http.StatusBadRequest, admin("/admin/extend?key="+key+"&days=0").Code)
		assert.Equal(t, http.StatusNotFound, admin("/admin/extend?key=ES-NOPE").Code)
	})

	t.Run("reports", func(t *testing.T) {
		rec := admin("/admin/reports")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.ReportsResponse](t, rec)
		require.Len(t, resp.Reports, 1)
		assert.Equal(t, key, resp.Reports[0].Key)
		assert.Equal(t, 1, resp.Stats.Pending)

		rec = admin("/admin/reports?format=xlsx")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, report.ContentTypeXLSX, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "examshield_licenses_20260301_120000.xlsx")

		wb, err := excelize.OpenReader(rec.Body)
		require.NoError(t, err)
		defer wb.Close()
		rows, err := wb.GetRows(report.LicensesSheet)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("revoke", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, admin("/admin/revoke").Code)

		rec := admin("/admin/revoke?key=" + key)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, decode[api.AdminActionResponse](t, rec).Message, key)

		stats := decode[api.ReportsResponse](t, admin("/admin/reports")).Stats
		assert.Equal(t, 1, stats.Revoked)
	})
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	rec := f.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "file", resp.Store)
}
