package http

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"examshield/internal/config"
	apierrors "examshield/internal/errors"
	"examshield/internal/license"
	"examshield/internal/webhook"
	api "examshield/pkg/contracts/api/v1"
)

// Webhook outcomes recorded in metrics
const (
	webhookActivated        = "activated"
	webhookNotSuccessful    = "not_successful"
	webhookNoPending        = "no_pending"
	webhookInvalidSignature = "invalid_signature"
	webhookMalformed        = "malformed"
	webhookError            = "error"
)

// PaymentHandler serves payment callbacks and the payment page helpers
type PaymentHandler struct {
	registry *license.Registry
	verifier *webhook.Verifier
	payments config.PaymentsConfig
	Common
}

// NewPaymentHandler creates a payment handler
func NewPaymentHandler(registry *license.Registry, verifier *webhook.Verifier, payments config.PaymentsConfig, common Common) *PaymentHandler {
	return &PaymentHandler{
		registry: registry,
		verifier: verifier,
		payments: payments,
		Common:   common.withDefaults("payment"),
	}
}

// Webhook handles POST /webhook/payment. The signature covers the raw body,
// so it is read in full before any parsing.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "payment_handler.webhook")
	defer span.End()
	r = r.WithContext(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Metrics.RecordWebhook(ctx, webhookMalformed)
		h.fail(w, r, span, err)
		return
	}

	if !h.verifier.Verify(ctx, body, r.Header.Get(webhook.SignatureHeader)) {
		h.Metrics.RecordWebhook(ctx, webhookInvalidSignature)
		h.Logger.WarnContext(ctx, "webhook rejected",
			slog.String("reason", "invalid signature"),
			slog.String("remote_addr", r.RemoteAddr),
		)
		h.fail(w, r, span, apierrors.ErrInvalidSignature.WithMessage(
			"Invalid signature. Make sure the webhook secret matches on both sides"))
		return
	}

	event, err := webhook.ParsePaymentEvent(body)
	if err != nil {
		h.Metrics.RecordWebhook(ctx, webhookMalformed)
		h.fail(w, r, span, apierrors.InvalidRequestWithError(err))
		return
	}
	span.SetAttributes(attribute.String("payment.status", event.Status))

	if !event.Successful() {
		h.Metrics.RecordWebhook(ctx, webhookNotSuccessful)
		render.JSON(w, r, api.WebhookResponse{
			Success: false,
			Message: "Payment not successful",
			Status:  event.Status,
		})
		return
	}

	rec, err := h.registry.Activate(ctx, event.Email, event.TransactionID, event.Amount)
	if err != nil {
		h.Metrics.RecordWebhook(ctx, webhookError)
		h.fail(w, r, span, err)
		return
	}
	if rec == nil {
		h.Metrics.RecordWebhook(ctx, webhookNoPending)
		render.JSON(w, r, api.WebhookResponse{
			Success: false,
			Message: "No pending license found for this email",
		})
		return
	}

	h.Metrics.RecordWebhook(ctx, webhookActivated)
	span.SetAttributes(attribute.String("license.key_hash", license.HashKey(rec.Key)))
	render.JSON(w, r, api.WebhookResponse{
		Success:    true,
		Message:    "License activated successfully",
		LicenseKey: rec.Key,
	})
}

// VerifyPayment handles POST /verify-payment for client side checkouts
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "payment_handler.verify_payment")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.VerifyPaymentRequest
	if err := h.Validator.Decode(r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	rec, err := h.registry.Lookup(req.LicenseKey)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	span.SetAttributes(attribute.String("payment.provider", provider))
	if provider != webhook.ProviderRazorpay {
		h.fail(w, r, span, apierrors.ErrUnsupportedPayment)
		return
	}
	if h.payments.RazorpayKeySecret == "" {
		h.fail(w, r, span, apierrors.ErrProviderNotConfigured.WithMessage("Razorpay not configured"))
		return
	}

	pr := req.PaymentResponse
	if !webhook.VerifyRazorpay(h.payments.RazorpayKeySecret, pr.OrderID, pr.PaymentID, pr.Signature) {
		h.Logger.WarnContext(ctx, "razorpay signature mismatch",
			slog.String("license_key", license.MaskKey(rec.Key)),
		)
		h.fail(w, r, span, apierrors.ErrInvalidSignature.WithMessage("Payment verification failed"))
		return
	}

	rec, err = h.registry.ActivateKey(ctx, rec.Key, pr.PaymentID, decimal.Zero)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	render.JSON(w, r, api.WebhookResponse{
		Success:    true,
		Message:    "Payment verified and license activated",
		LicenseKey: rec.Key,
	})
}

// PaymentConfig handles GET /payment-config
func (h *PaymentHandler) PaymentConfig(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.PaymentConfigResponse{
		RazorpayEnabled: h.payments.RazorpayEnabled(),
		StripeEnabled:   false,
	})
}
