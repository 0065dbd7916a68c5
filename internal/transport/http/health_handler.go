package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"examshield/internal/config"
	apierrors "examshield/internal/errors"
	"examshield/internal/license"
	contracts "examshield/pkg/contracts"
	api "examshield/pkg/contracts/api/v1"
)

const healthTimeout = 3 * time.Second

// HealthHandler serves health and the public purchase counter
type HealthHandler struct {
	registry *license.Registry
	reports  config.ReportsConfig
	Common
}

// NewHealthHandler creates a health handler
func NewHealthHandler(registry *license.Registry, reports config.ReportsConfig, common Common) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		reports:  reports,
		Common:   common.withDefaults("health"),
	}
}

// Health handles GET /health. It answers 503 when the store cannot be read.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	store := h.registry.Store()
	resp := api.HealthResponse{
		Status:    "ok",
		Service:   contracts.ServiceName,
		Version:   contracts.Version,
		Store:     store.BackendName(),
		Timestamp: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		h.Logger.ErrorContext(ctx, "store health check failed", slog.String("error", err.Error()))
		resp.Status = "unavailable"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

// PublicReports handles GET /public/reports
func (h *HealthHandler) PublicReports(w http.ResponseWriter, r *http.Request) {
	if !h.reports.PublicEnabled {
		h.Errors.HandleError(w, r, apierrors.ErrForbidden.WithMessage("Public reports are disabled"))
		return
	}

	rep := h.registry.Report()
	render.JSON(w, r, api.PublicReportsResponse{
		TotalLicenses:  rep.Stats.Total,
		ActiveLicenses: rep.Stats.Active,
		LastUpdated:    rep.GeneratedAt.UTC(),
	})
}
