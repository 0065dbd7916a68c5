package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the license counters exported on /metrics
type Metrics struct {
	registrations   metric.Int64Counter
	activations     metric.Int64Counter
	verifications   metric.Int64Counter
	webhooks        metric.Int64Counter
	adminActions    metric.Int64Counter
	storageFailures metric.Int64Counter
}

// NewMetrics creates the license counters on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.registrations, "license_registrations_total", "License registrations by result"},
		{&m.activations, "license_activations_total", "Payment activations by source and result"},
		{&m.verifications, "license_verifications_total", "Device verifications by verdict"},
		{&m.webhooks, "license_webhooks_total", "Payment webhook outcomes"},
		{&m.adminActions, "license_admin_actions_total", "Admin revoke and extend actions"},
		{&m.storageFailures, "license_storage_failures_total", "Failed store operations"},
	}

	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c.name, err)
		}
	}

	return m, nil
}

func noopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("license"))
	return m
}

// RecordRegistration counts a registration attempt by result
func (m *Metrics) RecordRegistration(ctx context.Context, result string) {
	m.registrations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordActivation counts an activation by payment source and result
func (m *Metrics) RecordActivation(ctx context.Context, source, result string) {
	m.activations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("result", result),
	))
}

// RecordVerification counts a device verification by verdict
func (m *Metrics) RecordVerification(ctx context.Context, verdict string) {
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// RecordWebhook counts a payment webhook by outcome
func (m *Metrics) RecordWebhook(ctx context.Context, outcome string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAdminAction counts a successful admin action
func (m *Metrics) RecordAdminAction(ctx context.Context, action string) {
	m.adminActions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordStorageFailure counts a failed backend load or save
func (m *Metrics) RecordStorageFailure(ctx context.Context, op string) {
	m.storageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
