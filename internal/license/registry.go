package license

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"examshield/pkg/contracts/events"
)

// Activation sources
const (
	SourceWebhook       = "webhook"
	SourceVerifyPayment = "verify_payment"
)

const maxKeyAttempts = 8

// Registry implements the license lifecycle over a Store
type Registry struct {
	store         *Store
	d             deps
	publicBaseURL string
}

// NewRegistry creates a registry. publicBaseURL prefixes payment links.
func NewRegistry(store *Store, publicBaseURL string, opts ...Option) *Registry {
	return &Registry{
		store:         store,
		d:             buildDeps("license_registry", opts),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Store returns the underlying store
func (r *Registry) Store() *Store {
	return r.store
}

// PaymentURL returns the checkout link for a pending license
func (r *Registry) PaymentURL(key string) string {
	return r.publicBaseURL + "/payment?key=" + url.QueryEscape(key)
}

// Register creates a pending license for a new email
func (r *Registry) Register(ctx context.Context, email, name, deviceType string) (*Record, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	deviceType = strings.ToLower(strings.TrimSpace(deviceType))

	if email == "" || !strings.Contains(email, "@") {
		return nil, invalid("email", "Valid email required")
	}
	if name == "" {
		return nil, invalid("name", "Name is required")
	}
	if deviceType == "" {
		deviceType = DeviceTypeIndividual
	}
	if !ValidDeviceType(deviceType) {
		return nil, invalid("device_type", "Device type must be individual or organization")
	}

	unlock := r.store.lockEmail(email)
	defer unlock()

	if existing, ok := r.store.FindByEmail(email); ok {
		conflict := &ConflictError{ExistingKey: existing.Key, Status: existing.Status()}
		if conflict.Status == StatusPending {
			conflict.PaymentURL = r.PaymentURL(existing.Key)
		}
		r.d.metrics.RecordRegistration(ctx, "conflict_"+conflict.Status)
		logLicenseAction(ctx, r.d.logger, slog.LevelInfo, "register", "Registration rejected for existing email",
			existing.Key, email, slog.String("status", conflict.Status))
		return nil, conflict
	}

	key, err := r.newKey()
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Key:           key,
		Email:         email,
		Name:          name,
		DeviceType:    deviceType,
		DeviceLimit:   DeviceLimitFor(deviceType),
		Devices:       []string{},
		PaymentStatus: PaymentPending,
		Created:       r.d.now(),
	}

	if err := r.store.insert(ctx, rec); err != nil {
		r.d.metrics.RecordRegistration(ctx, "error")
		return nil, err
	}

	r.d.metrics.RecordRegistration(ctx, "created")
	logLicenseAction(ctx, r.d.logger, slog.LevelInfo, "register", "License registered",
		key, email, slog.String("device_type", deviceType))
	r.d.publisher.PublishLicenseEvent(ctx, events.MessageTypeLicenseRegistered, eventData(rec))

	return rec.Clone(), nil
}

func (r *Registry) newKey() (string, error) {
	for range maxKeyAttempts {
		key, err := GenerateKey(r.d.random)
		if err != nil {
			return "", err
		}
		if _, taken := r.store.Get(key); !taken {
			return key, nil
		}
	}
	return "", fmt.Errorf("could not generate an unused license key after %d attempts", maxKeyAttempts)
}

// Eligibility is the outcome of a trial eligibility check
type Eligibility struct {
	Eligible   bool
	Reason     string
	HasActive  bool
	HasPending bool
}

// CheckTrialEligibility reports whether an email may start a free trial.
// Any email that already owns a record is not eligible.
func (r *Registry) CheckTrialEligibility(ctx context.Context, email string) (Eligibility, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Eligibility{}, invalid("email", "Valid email required")
	}

	rec, ok := r.store.FindByEmail(email)
	if !ok {
		return Eligibility{Eligible: true}, nil
	}

	e := Eligibility{
		HasActive:  rec.Active,
		HasPending: rec.IsPending(),
	}
	switch {
	case e.HasActive:
		e.Reason = "License already purchased for this email"
	case e.HasPending:
		e.Reason = "Registration pending for this email"
	default:
		e.Reason = "Email already registered"
	}

	logAction(ctx, r.d.logger, slog.LevelDebug, "trial_eligibility", "Trial not eligible",
		slog.String("email_masked", MaskEmail(email)),
		slog.String("reason", e.Reason))

	return e, nil
}

// Activate marks the pending record for email as paid. It returns
// (nil, nil) when no pending record exists, which makes webhook redelivery
// a no-op.
func (r *Registry) Activate(ctx context.Context, email, transactionID string, amount decimal.Decimal) (*Record, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, invalid("email", "Customer email not found in webhook")
	}

	unlock := r.store.lockEmail(email)
	defer unlock()

	target, ok := r.store.FindByEmail(email)
	if !ok || !target.IsPending() {
		r.d.metrics.RecordActivation(ctx, SourceWebhook, "no_pending")
		logAction(ctx, r.d.logger, slog.LevelInfo, "activate", "No pending license found",
			slog.String("email_masked", MaskEmail(email)))
		return nil, nil
	}

	rec, changed, err := r.store.update(ctx, target.Key, func(rec *Record) (bool, error) {
		if !rec.IsPending() {
			return false, nil
		}
		r.markPaid(rec, transactionID, amount)
		return true, nil
	})
	if err != nil {
		r.d.metrics.RecordActivation(ctx, SourceWebhook, "error")
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	r.afterActivation(ctx, rec, SourceWebhook)
	return rec, nil
}

// ActivateKey activates a license addressed by key after a verified
// client-side payment. Activating an already active key is a no-op.
func (r *Registry) ActivateKey(ctx context.Context, key, transactionID string, amount decimal.Decimal) (*Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("license_key", "License key required")
	}

	rec, changed, err := r.store.update(ctx, key, func(rec *Record) (bool, error) {
		switch {
		case rec.Revoked != nil:
			return false, revokedDenial(rec)
		case rec.Active:
			return false, nil
		}
		r.markPaid(rec, transactionID, amount)
		return true, nil
	})
	if err != nil {
		r.d.metrics.RecordActivation(ctx, SourceVerifyPayment, "error")
		return nil, err
	}
	if changed {
		r.afterActivation(ctx, rec, SourceVerifyPayment)
	}
	return rec, nil
}

func (r *Registry) markPaid(rec *Record, transactionID string, amount decimal.Decimal) {
	now := r.d.now()
	if amount.IsZero() {
		amount = PriceFor(rec.DeviceType)
	}
	rec.Active = true
	rec.Activated = timePtr(now)
	rec.Expires = timePtr(now.Add(Validity))
	rec.TransactionID = transactionID
	rec.PaymentAmount = amount
	rec.PaymentStatus = PaymentCompleted
}

func (r *Registry) afterActivation(ctx context.Context, rec *Record, source string) {
	r.d.metrics.RecordActivation(ctx, source, "activated")
	logLicenseAction(ctx, r.d.logger, slog.LevelInfo, "activate", "License activated",
		rec.Key, rec.Email,
		slog.String("source", source),
		slog.String("amount", rec.PaymentAmount.StringFixed(2)))

	r.d.publisher.PublishLicenseEvent(ctx, events.MessageTypeLicenseActivated, eventData(rec))

	if err := r.d.notifier.LicenseActivated(ctx, rec.Clone()); err != nil {
		logLicenseAction(ctx, r.d.logger, slog.LevelWarn, "notify", "Activation email failed",
			rec.Key, rec.Email, slog.String("error", err.Error()))
	}
}

// Revoke deactivates a license permanently. Revoking twice keeps the first
// revocation time.
func (r *Registry) Revoke(ctx context.Context, key string) (*Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("key", "License key required")
	}

	rec, changed, err := r.store.update(ctx, key, func(rec *Record) (bool, error) {
		if rec.Revoked != nil && !rec.Active {
			return false, nil
		}
		rec.Active = false
		if rec.Revoked == nil {
			rec.Revoked = timePtr(r.d.now())
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.d.metrics.RecordAdminAction(ctx, "revoke")
		logLicenseAction(ctx, r.d.logger, slog.LevelWarn, "revoke", "License revoked", rec.Key, rec.Email)
		r.d.publisher.PublishLicenseEvent(ctx, events.MessageTypeLicenseRevoked, eventData(rec))
	}
	return rec, nil
}

// Extend pushes the expiry to max(expiry, now) + days
func (r *Registry) Extend(ctx context.Context, key string, days int) (*Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("key", "License key required")
	}
	if days < 1 || days > MaxExtendDays {
		return nil, invalid("days", fmt.Sprintf("Days must be between 1 and %d", MaxExtendDays))
	}

	rec, _, err := r.store.update(ctx, key, func(rec *Record) (bool, error) {
		base := r.d.now()
		if rec.Expires != nil && rec.Expires.After(base) {
			base = *rec.Expires
		}
		rec.Expires = timePtr(base.Add(time.Duration(days) * 24 * time.Hour))
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	r.d.metrics.RecordAdminAction(ctx, "extend")
	logLicenseAction(ctx, r.d.logger, slog.LevelInfo, "extend", "License extended",
		rec.Key, rec.Email,
		slog.Int("days", days),
		slog.Time("new_expires", *rec.Expires))
	r.d.publisher.PublishLicenseEvent(ctx, events.MessageTypeLicenseExtended, eventData(rec))

	return rec, nil
}

// StartTrial begins the server-side trial of a registered, unpaid license
func (r *Registry) StartTrial(ctx context.Context, key string) (*Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("license_key", "License key required")
	}

	rec, _, err := r.store.update(ctx, key, func(rec *Record) (bool, error) {
		switch {
		case rec.Active:
			return false, invalid("license_key", "License already active")
		case rec.Revoked != nil:
			return false, revokedDenial(rec)
		case rec.TrialActive || rec.TrialStarted != nil:
			return false, invalid("license_key", "Trial already activated for this license")
		}
		now := r.d.now()
		rec.TrialActive = true
		rec.TrialStarted = timePtr(now)
		rec.TrialExpires = timePtr(now.Add(TrialPeriod))
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	logLicenseAction(ctx, r.d.logger, slog.LevelInfo, "trial", "Trial started", rec.Key, rec.Email,
		slog.Time("trial_expires", *rec.TrialExpires))
	r.d.publisher.PublishLicenseEvent(ctx, events.MessageTypeTrialStarted, eventData(rec))

	if err := r.d.notifier.TrialStarted(ctx, rec.Clone()); err != nil {
		logLicenseAction(ctx, r.d.logger, slog.LevelWarn, "notify", "Trial email failed",
			rec.Key, rec.Email, slog.String("error", err.Error()))
	}

	return rec, nil
}

// Lookup returns the record for key
func (r *Registry) Lookup(key string) (*Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("key", "License key required")
	}
	rec, ok := r.store.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func revokedDenial(rec *Record) error {
	return &DenialError{
		Reason:            ReasonRevoked,
		Message:           "License has been revoked",
		DevicesRegistered: len(rec.Devices),
		DeviceLimit:       rec.DeviceLimit,
		Expires:           rec.Expires,
	}
}

func eventData(rec *Record) events.LicenseEventData {
	return events.LicenseEventData{
		LicenseKey:        MaskKey(rec.Key),
		Email:             MaskEmail(rec.Email),
		DevicesRegistered: len(rec.Devices),
		DeviceLimit:       rec.DeviceLimit,
		Expires:           cloneTime(rec.Expires),
	}
}
