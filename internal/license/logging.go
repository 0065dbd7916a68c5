package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"examshield/internal/infrastructure"
)

// logAction logs a specific action with structured data and span correlation
func logAction(ctx context.Context, logger *slog.Logger, level slog.Level, action, result string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license."+action, trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		))
	}

	allAttrs := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	if spanTrace := infrastructure.TraceIDFromContext(ctx); spanTrace != "" {
		allAttrs = append(allAttrs, slog.String("span_trace_id", spanTrace))
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

// logLicenseAction logs an action on one license without exposing the key or email
func logLicenseAction(ctx context.Context, logger *slog.Logger, level slog.Level, action, result, key, email string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("license.action", action),
			attribute.String("license.key_hash", HashKey(key)),
		)
	}

	licenseAttrs := []slog.Attr{
		slog.String("license_key_masked", MaskKey(key)),
		slog.String("license_key_hash", HashKey(key)),
	}
	if email != "" {
		licenseAttrs = append(licenseAttrs, slog.String("email_masked", MaskEmail(email)))
	}
	licenseAttrs = append(licenseAttrs, attrs...)

	logAction(ctx, logger, level, action, result, licenseAttrs...)
}

// MaskKey masks the license key for logs and event feeds
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// MaskEmail masks an email address while preserving the domain
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	atIndex := strings.Index(email, "@")
	if atIndex == -1 {
		return "****"
	}

	username := email[:atIndex]
	domain := email[atIndex:]

	if len(username) <= 2 {
		return "**" + domain
	}

	return username[:1] + "****" + username[len(username)-1:] + domain
}

// HashKey returns a short stable digest of the key for audit correlation
func HashKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
