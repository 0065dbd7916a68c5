package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"examshield/internal/config"
	apierrors "examshield/internal/errors"
	"examshield/internal/events"
	"examshield/internal/infrastructure"
	"examshield/internal/license"
	customMiddleware "examshield/internal/middleware"
	"examshield/internal/notify"
	"examshield/internal/storage"
	handlers "examshield/internal/transport/http"
	"examshield/internal/webhook"
	contracts "examshield/pkg/contracts"
)

// Application represents the license server container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         *license.Store
	Registry      *license.Registry
	Binder        *license.Binder
	Hub           *events.Hub
	Errors        *apierrors.ErrorHandler

	clock    quartz.Clock
	notifier license.Notifier
	metrics  *license.Metrics
	verifier *webhook.Verifier
}

// Option customizes an Application before its services are built
type Option func(*Application)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c quartz.Clock) Option {
	return func(a *Application) { a.clock = c }
}

// WithNotifier replaces the SMTP notifier
func WithNotifier(n license.Notifier) Option {
	return func(a *Application) { a.notifier = n }
}

// NewApplication loads configuration from the environment and builds the
// application with the process logger.
func NewApplication(ctx context.Context, opts ...Option) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(ctx, cfg, logger, opts...)
}

// New builds every service from cfg. The caller owns cfg and must not
// mutate it afterwards.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("service", contracts.ServiceName),
		slog.String("version", contracts.Version),
		slog.String("store_driver", cfg.Store.Driver))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.NewOTelConfig(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Errors:        apierrors.NewErrorHandler(logger, false),
		clock:         quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initializeServices(ctx); err != nil {
		_ = otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		_ = a.Store.Close()
		_ = otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	a.createServer()
	return a, nil
}

// initializeServices opens the store and builds the license services
func (a *Application) initializeServices(ctx context.Context) error {
	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}
	a.metrics = metrics

	backend, err := storage.Open(ctx, a.Config.Store, a.Logger, a.clock)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", a.Config.Store.Driver, err)
	}

	store, err := license.NewStore(ctx, backend,
		license.WithLogger(a.Logger),
		license.WithMetrics(metrics),
		license.WithClock(a.clock),
	)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to load licenses: %w", err)
	}
	a.Store = store

	a.Hub = events.NewHub(a.Logger, a.clock, a.OTelProviders.Meter)

	if a.notifier == nil {
		a.notifier = notify.NewSMTPNotifier(a.Config.SMTP, a.Config.Payments.PublicBaseURL, a.Logger)
	}

	shared := []license.Option{
		license.WithLogger(a.Logger),
		license.WithMetrics(metrics),
		license.WithClock(a.clock),
		license.WithEventPublisher(a.Hub),
	}
	a.Registry = license.NewRegistry(store, a.Config.Payments.PublicBaseURL,
		append(shared, license.WithNotifier(a.notifier))...)
	a.Binder = license.NewBinder(store, shared...)

	a.verifier = webhook.NewVerifier(a.Config.Security, a.Logger)
	if !a.verifier.Enabled() {
		a.Logger.WarnContext(ctx, "Webhook signature verification is disabled",
			slog.String("action", "set ES_SECURITY_WEBHOOK_SECRET"))
	}
	if a.Config.Security.AdminSecret == "" {
		a.Logger.WarnContext(ctx, "Admin secret is not set, admin endpoints are locked",
			slog.String("action", "set ES_SECURITY_ADMIN_SECRET"))
	}

	a.Logger.InfoContext(ctx, "License store ready",
		slog.String("backend", store.BackendName()),
		slog.Int("licenses", store.Len()))
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	r := chi.NewRouter()

	// RequestID → RealIP → OTel → Logger → Recoverer → headers → limits
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}
	r.Use(otelMiddleware.Handler)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Errors))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.MaxBody(a.Config.Server.MaxBodyBytes))

	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
			a.Errors,
		).Handler)
	}

	r.NotFound(a.Errors.NotFound)
	r.MethodNotAllowed(a.Errors.MethodNotAllowed)

	common := handlers.Common{
		Errors:    a.Errors,
		Validator: customMiddleware.NewValidator(),
		Metrics:   a.metrics,
		Logger:    a.Logger,
		Tracer:    a.OTelProviders.Tracer,
	}

	licenseHandler := handlers.NewLicenseHandler(a.Registry, a.Binder, common)
	paymentHandler := handlers.NewPaymentHandler(a.Registry, a.verifier, a.Config.Payments, common)
	healthHandler := handlers.NewHealthHandler(a.Registry, a.Config.Reports, common)
	adminHandler := handlers.NewAdminHandler(a.Registry, events.NewHandler(a.Hub, a.Config.Events), common)

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Post("/register", licenseHandler.Register)
		r.Post("/check-trial-eligibility", licenseHandler.CheckTrialEligibility)
		r.Post("/verify", licenseHandler.Verify)
		r.Post("/activate-trial", licenseHandler.ActivateTrial)
		r.Get("/license-info", licenseHandler.LicenseInfo)

		r.Post("/webhook/payment", paymentHandler.Webhook)
		r.Post("/verify-payment", paymentHandler.VerifyPayment)
		r.Get("/payment-config", paymentHandler.PaymentConfig)

		r.Get("/public/reports", healthHandler.PublicReports)
		r.Get("/health", healthHandler.Health)
	})

	r.Mount("/admin", adminHandler.Routes(
		customMiddleware.AdminRateLimit(
			a.Config.Security.AdminRateLimit.Requests,
			a.Config.Security.AdminRateLimit.Window,
			a.Errors,
		),
		customMiddleware.AdminAuth(a.Config.Security.AdminSecret, a.Logger, a.Errors),
		customMiddleware.AuditLog(a.Logger),
	))

	r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)

	a.Router = r
	return nil
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Serve runs the event hub and the HTTP server on ln until ctx is cancelled
// or either of them fails, then shuts everything down.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Hub.Run(gctx)
	})

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "Server listening",
			slog.String("address", ln.Addr().String()),
			slog.String("public_base_url", a.Config.Payments.PublicBaseURL))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(ctx, "Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// Close releases the store and flushes telemetry
func (a *Application) Close(ctx context.Context) error {
	var errs []error

	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if a.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run listens on the configured address and serves until SIGINT or SIGTERM
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		_ = a.Close(ctx)
		return fmt.Errorf("listen on %s: %w", a.Server.Addr, err)
	}

	return a.Serve(ctx, ln)
}
