package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"examshield/internal/config"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// Verifier checks webhook signatures against the shared secret
type Verifier struct {
	secret  []byte
	enabled bool
	logger  *slog.Logger
}

// NewVerifier creates a verifier from the security config. An empty or
// placeholder secret turns verification off.
func NewVerifier(cfg config.SecurityConfig, logger *slog.Logger) *Verifier {
	return &Verifier{
		secret:  []byte(cfg.WebhookSecret),
		enabled: cfg.WebhookVerificationEnabled(),
		logger:  logger.With(slog.String("component", "webhook_verifier")),
	}
}

// Enabled reports whether signatures are checked
func (v *Verifier) Enabled() bool {
	return v.enabled
}

// Verify reports whether header is a valid signature of body
func (v *Verifier) Verify(ctx context.Context, body []byte, header string) bool {
	if !v.enabled {
		v.logger.WarnContext(ctx, "webhook signature verification bypassed",
			slog.String("reason", "webhook secret is empty or the placeholder"),
		)
		return true
	}
	return Valid(v.secret, body, header)
}

// Valid compares header with HMAC-SHA256(secret, body) in constant time.
// Surrounding whitespace, hex case and a sha256= prefix are tolerated.
func Valid(secret, body []byte, header string) bool {
	sig := strings.TrimSpace(header)
	if len(sig) >= len(signaturePrefix) && strings.EqualFold(sig[:len(signaturePrefix)], signaturePrefix) {
		sig = sig[len(signaturePrefix):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the lowercase hex signature of body
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
