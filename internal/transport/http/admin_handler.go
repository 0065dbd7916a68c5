package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"

	"examshield/internal/license"
	"examshield/internal/report"
	api "examshield/pkg/contracts/api/v1"
)

// AdminHandler serves the secret protected admin endpoints
type AdminHandler struct {
	registry *license.Registry
	events   http.Handler
	Common
}

// NewAdminHandler creates an admin handler. events may be nil when the live
// feed is disabled.
func NewAdminHandler(registry *license.Registry, events http.Handler, common Common) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		events:   events,
		Common:   common.withDefaults("admin"),
	}
}

// Routes returns the admin routes. Callers wrap them in the admin auth,
// rate limit and audit middleware.
func (h *AdminHandler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.Get("/revoke", h.Revoke)
	r.Get("/extend", h.Extend)
	r.Get("/reports", h.Reports)
	if h.events != nil {
		r.Get("/events", h.events.ServeHTTP)
	}
	return r
}

// Revoke handles GET /admin/revoke?key=
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "admin_handler.revoke")
	defer span.End()
	r = r.WithContext(ctx)

	rec, err := h.registry.Revoke(ctx, r.URL.Query().Get("key"))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	render.JSON(w, r, api.AdminActionResponse{
		Success: true,
		Message: fmt.Sprintf("License %s revoked", rec.Key),
	})
}

// Extend handles GET /admin/extend?key=&days=
func (h *AdminHandler) Extend(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "admin_handler.extend")
	defer span.End()
	r = r.WithContext(ctx)

	days := license.DefaultExtendDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, span, &license.ValidationError{Field: "days", Message: "Days must be a whole number"})
			return
		}
		days = n
	}
	span.SetAttributes(attribute.Int("extend.days", days))

	rec, err := h.registry.Extend(ctx, r.URL.Query().Get("key"), days)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	expires := rec.Expires.UTC()
	render.JSON(w, r, api.AdminActionResponse{
		Success:    true,
		Message:    fmt.Sprintf("License extended by %d days", days),
		NewExpires: &expires,
	})
}

// Reports handles GET /admin/reports[?format=xlsx]
func (h *AdminHandler) Reports(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "admin_handler.reports")
	defer span.End()
	r = r.WithContext(ctx)

	rep := h.registry.Report()
	format := strings.ToLower(r.URL.Query().Get("format"))
	span.SetAttributes(
		attribute.Int("report.records", rep.Stats.Total),
		attribute.String("report.format", format),
	)

	if format != "xlsx" {
		render.JSON(w, r, report.Response(rep))
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, rep); err != nil {
		h.fail(w, r, span, err)
		return
	}
	h.Logger.InfoContext(ctx, "report exported",
		slog.Int("records", rep.Stats.Total),
		slog.Int("bytes", buf.Len()),
	)

	w.Header().Set("Content-Type", report.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename(rep.GeneratedAt)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Last-Modified", rep.GeneratedAt.UTC().Format(time.RFC1123))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
