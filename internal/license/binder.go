package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"examshield/pkg/contracts/events"
)

// Outcome classifies a device verification
type Outcome string

const (
	OutcomeNotFound     Outcome = "not_found"
	OutcomeInactive     Outcome = "inactive"
	OutcomeExpired      Outcome = "expired"
	OutcomeBound        Outcome = "bound"
	OutcomeLimitReached Outcome = "limit_reached"
)

// Verdict is the result of binding a device to a license
type Verdict struct {
	Outcome           Outcome
	NewlyBound        bool
	Revoked           bool
	DevicesRegistered int
	DeviceLimit       int
	Expires           *time.Time
}

// Err converts a non-bound verdict into the matching error
func (v Verdict) Err() error {
	switch v.Outcome {
	case OutcomeBound:
		return nil
	case OutcomeNotFound:
		return ErrNotFound
	case OutcomeInactive:
		if v.Revoked {
			return &DenialError{Reason: ReasonRevoked, Message: "License has been revoked",
				DevicesRegistered: v.DevicesRegistered, DeviceLimit: v.DeviceLimit, Expires: v.Expires}
		}
		return &DenialError{Reason: ReasonInactive, Message: "License not activated. Payment pending.",
			DevicesRegistered: v.DevicesRegistered, DeviceLimit: v.DeviceLimit}
	case OutcomeExpired:
		return &DenialError{Reason: ReasonExpired, Message: "License expired",
			DevicesRegistered: v.DevicesRegistered, DeviceLimit: v.DeviceLimit, Expires: v.Expires}
	case OutcomeLimitReached:
		return &DenialError{Reason: ReasonLimitReached,
			Message:           fmt.Sprintf("Device limit reached (%d devices)", v.DeviceLimit),
			DevicesRegistered: v.DevicesRegistered, DeviceLimit: v.DeviceLimit, Expires: v.Expires}
	}
	return fmt.Errorf("unknown verdict %q", v.Outcome)
}

// Message is the human readable text for a bound verdict
func (v Verdict) Message() string {
	if v.NewlyBound {
		return "Device registered successfully"
	}
	return "Device verified"
}

// Binder enforces per-license device limits
type Binder struct {
	store *Store
	d     deps
}

// NewBinder creates a binder over store
func NewBinder(store *Store, opts ...Option) *Binder {
	return &Binder{store: store, d: buildDeps("device_binder", opts)}
}

// Verify binds fingerprint to the license if allowed. The check and the
// append run under the license's key lock, so concurrent devices can never
// push the count past the limit. Denials are reported through the verdict;
// the error is reserved for bad input and storage failures.
func (b *Binder) Verify(ctx context.Context, key, fingerprint string) (Verdict, error) {
	key = strings.TrimSpace(key)
	fingerprint = strings.TrimSpace(fingerprint)
	if key == "" || fingerprint == "" {
		return Verdict{}, invalid("key", "License key and device fingerprint required")
	}

	var v Verdict
	rec, _, err := b.store.update(ctx, key, func(rec *Record) (bool, error) {
		now := b.d.now()
		v = Verdict{
			DevicesRegistered: len(rec.Devices),
			DeviceLimit:       rec.DeviceLimit,
			Expires:           cloneTime(rec.Expires),
			Revoked:           rec.Revoked != nil,
		}

		switch {
		case !rec.Active:
			v.Outcome = OutcomeInactive
			return false, nil
		case rec.IsExpired(now):
			v.Outcome = OutcomeExpired
			return false, nil
		case rec.HasDevice(fingerprint):
			v.Outcome = OutcomeBound
			return false, nil
		case len(rec.Devices) >= rec.DeviceLimit:
			v.Outcome = OutcomeLimitReached
			return false, nil
		}

		rec.Devices = append(rec.Devices, fingerprint)
		v.Outcome = OutcomeBound
		v.NewlyBound = true
		v.DevicesRegistered = len(rec.Devices)
		return true, nil
	})
	if errors.Is(err, ErrNotFound) {
		v = Verdict{Outcome: OutcomeNotFound}
		err = nil
	}
	if err != nil {
		b.d.metrics.RecordVerification(ctx, "error")
		return Verdict{}, err
	}

	b.d.metrics.RecordVerification(ctx, string(v.Outcome))
	b.report(ctx, key, rec, v)

	return v, nil
}

func (b *Binder) report(ctx context.Context, key string, rec *Record, v Verdict) {
	email := ""
	if rec != nil {
		email = rec.Email
	}
	attrs := []slog.Attr{
		slog.String("verdict", string(v.Outcome)),
		slog.Int("devices_registered", v.DevicesRegistered),
		slog.Int("device_limit", v.DeviceLimit),
	}

	switch {
	case v.Outcome == OutcomeBound && v.NewlyBound:
		logLicenseAction(ctx, b.d.logger, slog.LevelInfo, "verify", "Device bound", key, email, attrs...)
		data := eventData(rec)
		b.d.publisher.PublishLicenseEvent(ctx, events.MessageTypeDeviceBound, data)
	case v.Outcome == OutcomeBound:
		logLicenseAction(ctx, b.d.logger, slog.LevelDebug, "verify", "Device verified", key, email, attrs...)
	case v.Outcome == OutcomeNotFound:
		logLicenseAction(ctx, b.d.logger, slog.LevelWarn, "verify", "Verification for unknown key", key, "", attrs...)
	default:
		logLicenseAction(ctx, b.d.logger, slog.LevelInfo, "verify", "Device rejected", key, email, attrs...)
		data := eventData(rec)
		data.Reason = string(v.Outcome)
		b.d.publisher.PublishLicenseEvent(ctx, events.MessageTypeDeviceRejected, data)
	}
}
