package license

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"examshield/pkg/contracts/events"
)

// Notifier delivers license emails. Failures are logged by the caller and
// never undo the state change that triggered them.
type Notifier interface {
	LicenseActivated(ctx context.Context, rec *Record) error
	TrialStarted(ctx context.Context, rec *Record) error
}

// EventPublisher receives license lifecycle events for live dashboards
type EventPublisher interface {
	PublishLicenseEvent(ctx context.Context, msgType events.MessageType, data events.LicenseEventData)
}

type nopNotifier struct{}

func (nopNotifier) LicenseActivated(context.Context, *Record) error { return nil }
func (nopNotifier) TrialStarted(context.Context, *Record) error     { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishLicenseEvent(context.Context, events.MessageType, events.LicenseEventData) {
}

type deps struct {
	clock     quartz.Clock
	logger    *slog.Logger
	metrics   *Metrics
	notifier  Notifier
	publisher EventPublisher
	random    io.Reader
}

// Option configures a Store, Registry or Binder
type Option func(*deps)

// WithClock sets the clock used for timestamps and expiry checks
func WithClock(c quartz.Clock) Option {
	return func(d *deps) { d.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *deps) { d.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *Metrics) Option {
	return func(d *deps) { d.metrics = m }
}

// WithNotifier sets the email notifier
func WithNotifier(n Notifier) Option {
	return func(d *deps) { d.notifier = n }
}

// WithEventPublisher sets the lifecycle event sink
func WithEventPublisher(p EventPublisher) Option {
	return func(d *deps) { d.publisher = p }
}

// WithRandom sets the entropy source for key generation
func WithRandom(r io.Reader) Option {
	return func(d *deps) { d.random = r }
}

func buildDeps(component string, opts []Option) deps {
	d := deps{
		clock:     quartz.NewReal(),
		logger:    slog.Default(),
		notifier:  nopNotifier{},
		publisher: nopPublisher{},
		random:    rand.Reader,
	}
	for _, opt := range opts {
		opt(&d)
	}
	if d.metrics == nil {
		d.metrics = noopMetrics()
	}
	d.logger = d.logger.With(slog.String("component", component))
	return d
}

func (d deps) now() time.Time {
	return d.clock.Now().UTC()
}
