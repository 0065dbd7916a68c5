package http

import (
	"net/http"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"

	"examshield/internal/license"
	api "examshield/pkg/contracts/api/v1"
)

// LicenseHandler serves the client facing license endpoints
type LicenseHandler struct {
	registry *license.Registry
	binder   *license.Binder
	Common
}

// NewLicenseHandler creates a license handler
func NewLicenseHandler(registry *license.Registry, binder *license.Binder, common Common) *LicenseHandler {
	return &LicenseHandler{
		registry: registry,
		binder:   binder,
		Common:   common.withDefaults("license"),
	}
}

// Register handles POST /register
func (h *LicenseHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "license_handler.register")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.RegisterRequest
	if err := h.Validator.Decode(r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	rec, err := h.registry.Register(ctx, req.Email, req.Name, req.DeviceType)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("license.key_hash", license.HashKey(rec.Key)),
		attribute.String("license.device_type", rec.DeviceType),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.RegisterResponse{
		LicenseKey:  rec.Key,
		PaymentURL:  h.registry.PaymentURL(rec.Key),
		DeviceLimit: rec.DeviceLimit,
		Message:     "Registration successful. Redirecting to payment...",
	})
}

// CheckTrialEligibility handles POST /check-trial-eligibility
func (h *LicenseHandler) CheckTrialEligibility(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "license_handler.check_trial_eligibility")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.EligibilityRequest
	if err := h.Validator.Decode(r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	e, err := h.registry.CheckTrialEligibility(ctx, req.Email)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	span.SetAttributes(attribute.Bool("trial.eligible", e.Eligible))

	render.JSON(w, r, api.EligibilityResponse{
		Eligible:   e.Eligible,
		Reason:     e.Reason,
		HasActive:  e.HasActive,
		HasPending: e.HasPending,
	})
}

// Verify handles POST /verify
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "license_handler.verify")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.VerifyRequest
	if err := h.Validator.Decode(r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	v, err := h.binder.Verify(ctx, req.Key, req.DeviceFingerprint)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("license.key_hash", license.HashKey(req.Key)),
		attribute.String("license.verdict", string(v.Outcome)),
	)
	if err := v.Err(); err != nil {
		h.fail(w, r, span, err)
		return
	}

	render.JSON(w, r, api.VerifyResponse{
		Valid:             true,
		Active:            true,
		Message:           v.Message(),
		DevicesRegistered: v.DevicesRegistered,
		DeviceLimit:       v.DeviceLimit,
		Expires:           v.Expires,
	})
}

// ActivateTrial handles POST /activate-trial
func (h *LicenseHandler) ActivateTrial(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "license_handler.activate_trial")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.TrialActivationRequest
	if err := h.Validator.Decode(r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	rec, err := h.registry.StartTrial(ctx, req.LicenseKey)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	render.JSON(w, r, api.TrialActivationResponse{
		Success:      true,
		Message:      "Free trial activated",
		TrialExpires: rec.TrialExpires.UTC(),
	})
}

// LicenseInfo handles GET /license-info?key=
func (h *LicenseHandler) LicenseInfo(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "license_handler.license_info")
	defer span.End()
	r = r.WithContext(ctx)

	rec, err := h.registry.Lookup(r.URL.Query().Get("key"))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	render.JSON(w, r, api.LicenseInfoResponse{
		Key:           rec.Key,
		Name:          rec.Name,
		Email:         rec.Email,
		DeviceType:    rec.DeviceType,
		Active:        rec.Active,
		PaymentStatus: rec.PaymentStatus,
	})
}
