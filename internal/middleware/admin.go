package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/httprate"

	apierrors "examshield/internal/errors"
)

// AdminSecretParam is the query parameter carrying the admin secret
const AdminSecretParam = "secret"

// AdminAuth rejects requests whose secret query parameter does not match.
// An empty configured secret locks the admin surface entirely.
func AdminAuth(secret string, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "admin_auth"))
	want := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.URL.Query().Get(AdminSecretParam))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				logger.WarnContext(r.Context(), "admin authentication failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Bool("secret_present", len(got) > 0),
				)
				errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminRateLimit limits admin calls per client IP within a sliding window
func AdminRateLimit(requests int, window time.Duration, errorHandler *apierrors.ErrorHandler) func(next http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			errorHandler.HandleError(w, r, apierrors.ErrRateLimitExceeded)
		}),
	)
}

// AuditLog records who called an admin endpoint and how it ended.
// The secret never reaches the log.
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "audit"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "admin request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", redactQuery(r.URL.Query())),
				slog.Int("status", ww.statusCode),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

func redactQuery(q url.Values) string {
	if q.Has(AdminSecretParam) {
		q.Set(AdminSecretParam, "REDACTED")
	}
	return q.Encode()
}
