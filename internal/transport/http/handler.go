package http

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	apierrors "examshield/internal/errors"
	"examshield/internal/license"
	"examshield/internal/middleware"
)

const tracerName = "examshield/transport/http"

// Common carries what every handler needs
type Common struct {
	Errors    *apierrors.ErrorHandler
	Validator *middleware.Validator
	Metrics   *license.Metrics
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

func (c Common) withDefaults(handler string) Common {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With(slog.String("handler", handler))
	if c.Errors == nil {
		c.Errors = apierrors.NewErrorHandler(c.Logger, false)
	}
	if c.Validator == nil {
		c.Validator = middleware.NewValidator()
	}
	if c.Metrics == nil {
		c.Metrics, _ = license.NewMetrics(metricnoop.NewMeterProvider().Meter("license"))
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	return c
}

func (c Common) span(r *http.Request, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("http.method", r.Method),
		attribute.String("request_id", middleware.GetReqID(r.Context())),
	)
	return c.Tracer.Start(r.Context(), name, trace.WithAttributes(attrs...))
}

// fail records err on the span and renders it
func (c Common) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("request.success", false))
	c.Errors.HandleError(w, r, err)
}
