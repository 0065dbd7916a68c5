package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coder/quartz"

	"examshield/internal/license"
)

// State is the outcome of a license status check
type State string

const (
	StateActive  State = "active"
	StateTrial   State = "trial"
	StateExpired State = "expired"
	StateInvalid State = "invalid"
)

// TrialDays is the length of the local free trial
const TrialDays = int(license.TrialPeriod / (24 * time.Hour))

// Status is what the application shows the user and acts on
type Status struct {
	State             State      `json:"status"`
	Message           string     `json:"message"`
	Key               string     `json:"key,omitempty"`
	DaysRemaining     int        `json:"days_remaining,omitempty"`
	DevicesRegistered int        `json:"devices_registered,omitempty"`
	DeviceLimit       int        `json:"device_limit,omitempty"`
	TrialStarted      *time.Time `json:"trial_started,omitempty"`
	TrialExpires      *time.Time `json:"trial_expires,omitempty"`
	RequiresPurchase  bool       `json:"requires_purchase,omitempty"`
}

// Usable reports whether the application may run
func (s Status) Usable() bool {
	return s.State == StateActive || s.State == StateTrial
}

// Manager decides the license state of this device from the local files and
// the license server
type Manager struct {
	server      Server
	files       *LocalFiles
	fingerprint string
	email       string
	clock       quartz.Clock
	logger      *slog.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerClock sets the clock used for trial arithmetic
func WithManagerClock(c quartz.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithEmail sets the email sent with trial eligibility checks
func WithEmail(email string) ManagerOption {
	return func(m *Manager) { m.email = strings.TrimSpace(email) }
}

// WithManagerLogger sets the logger
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a trial manager for the device with the given fingerprint
func NewManager(server Server, files *LocalFiles, fingerprint string, opts ...ManagerOption) *Manager {
	m := &Manager{
		server:      server,
		files:       files,
		fingerprint: fingerprint,
		clock:       quartz.NewReal(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "license.trial"))
	return m
}

// Fingerprint returns the device fingerprint the manager verifies with
func (m *Manager) Fingerprint() string { return m.fingerprint }

// Status checks the cached license first, then the local trial, and starts
// a trial when neither exists. Only file system failures are returned as
// errors; every license outcome is a Status.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	lic, err := m.files.LoadLicense()
	if err != nil && !errors.Is(err, ErrTampered) {
		return Status{}, err
	}
	if err != nil {
		m.logger.WarnContext(ctx, "license cache seal mismatch, re-verifying key")
	}
	if lic != nil && strings.TrimSpace(lic.Key) != "" {
		return m.verifyCached(ctx, lic)
	}

	trial, err := m.files.LoadTrial()
	if errors.Is(err, ErrTampered) {
		m.logger.WarnContext(ctx, "trial file failed integrity check, treating trial as expired")
		return Status{
			State:            StateExpired,
			Message:          "Trial data is invalid or was copied from another device. Please purchase a license.",
			RequiresPurchase: true,
		}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if trial != nil {
		return m.trialStatus(trial), nil
	}

	return m.startTrial(ctx)
}

// Activate verifies key for this device and caches it on success
func (m *Manager) Activate(ctx context.Context, key string) (Status, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Status{}, &license.ValidationError{Field: "key", Message: "License key is empty"}
	}

	resp, err := m.server.Verify(ctx, key, m.fingerprint)
	if err != nil {
		m.logger.InfoContext(ctx, "license activation failed",
			slog.String("license_key", license.MaskKey(key)),
			slog.String("error", err.Error()),
		)
		return Status{}, err
	}

	if err := m.files.SaveLicense(m.cacheFrom(key, resp.DevicesRegistered, resp.DeviceLimit, resp.Expires)); err != nil {
		return Status{}, err
	}
	m.logger.InfoContext(ctx, "license activated on device", slog.String("license_key", license.MaskKey(key)))

	return Status{
		State:             StateActive,
		Message:           "License verified successfully",
		Key:               key,
		DevicesRegistered: resp.DevicesRegistered,
		DeviceLimit:       resp.DeviceLimit,
	}, nil
}

// verifyCached re-checks a cached key. A connectivity failure reports
// INVALID and leaves the cache untouched.
func (m *Manager) verifyCached(ctx context.Context, lic *CachedLicense) (Status, error) {
	key := strings.TrimSpace(lic.Key)
	resp, err := m.server.Verify(ctx, key, m.fingerprint)
	if err == nil {
		if err := m.files.SaveLicense(m.cacheFrom(key, resp.DevicesRegistered, resp.DeviceLimit, resp.Expires)); err != nil {
			m.logger.WarnContext(ctx, "failed to refresh license cache", slog.String("error", err.Error()))
		}
		return Status{
			State:             StateActive,
			Message:           "License is active",
			Key:               key,
			DevicesRegistered: resp.DevicesRegistered,
			DeviceLimit:       resp.DeviceLimit,
		}, nil
	}

	st := Status{State: StateInvalid, Key: key}
	var se *ServerError
	switch {
	case errors.Is(err, ErrServerUnreachable):
		st.Message = "Cannot connect to license server. Please check your internet connection."
	case errors.As(err, &se):
		st.Message = se.Message
		if st.Message == "" {
			st.Message = fmt.Sprintf("Server error: %d", se.StatusCode)
		}
		st.DevicesRegistered = se.DevicesRegistered
		st.DeviceLimit = se.DeviceLimit
	default:
		st.Message = "License verification failed: " + err.Error()
	}
	m.logger.InfoContext(ctx, "cached license not verified",
		slog.String("license_key", license.MaskKey(key)),
		slog.String("error", err.Error()),
	)
	return st, nil
}

func (m *Manager) trialStatus(trial *TrialRecord) Status {
	now := m.clock.Now()
	started, expires := trial.Started, trial.Expires

	if expires.IsZero() || !now.Before(expires) {
		return Status{
			State:            StateExpired,
			Message:          "Trial period expired. Please purchase a license.",
			TrialStarted:     &started,
			TrialExpires:     &expires,
			RequiresPurchase: true,
		}
	}

	days := daysRemaining(now, expires)
	return Status{
		State:         StateTrial,
		Message:       fmt.Sprintf("Trial mode active. %d days remaining.", days),
		DaysRemaining: days,
		TrialStarted:  &started,
		TrialExpires:  &expires,
	}
}

// startTrial creates the local trial unless the server explicitly refuses.
// Eligibility failures of any other kind allow the trial.
func (m *Manager) startTrial(ctx context.Context) (Status, error) {
	if m.email != "" {
		resp, err := m.server.CheckTrialEligibility(ctx, m.email)
		switch {
		case err != nil:
			m.logger.InfoContext(ctx, "trial eligibility check failed, allowing trial",
				slog.String("email", license.MaskEmail(m.email)),
				slog.String("error", err.Error()),
			)
		case !resp.Eligible:
			msg := "Free trial not available. This email has already been registered. Please purchase a license."
			if resp.Reason != "" {
				msg = fmt.Sprintf("Free trial not available. %s. Please purchase a license.", resp.Reason)
			}
			return Status{State: StateInvalid, Message: msg, RequiresPurchase: true}, nil
		}
	}

	now := m.clock.Now().UTC()
	trial := TrialRecord{
		Started: now,
		Expires: now.Add(license.TrialPeriod),
		Active:  true,
		Email:   m.email,
	}
	if err := m.files.SaveTrial(trial); err != nil {
		return Status{}, err
	}
	m.logger.InfoContext(ctx, "local trial started", slog.Time("expires", trial.Expires))

	return Status{
		State:         StateTrial,
		Message:       fmt.Sprintf("Trial mode started. %d days remaining.", TrialDays),
		DaysRemaining: TrialDays,
		TrialStarted:  &trial.Started,
		TrialExpires:  &trial.Expires,
	}, nil
}

func (m *Manager) cacheFrom(key string, registered, limit int, expires *time.Time) CachedLicense {
	return CachedLicense{
		Key:               key,
		DeviceFingerprint: m.fingerprint,
		VerifiedAt:        m.clock.Now().UTC(),
		Active:            true,
		DevicesRegistered: registered,
		DeviceLimit:       limit,
		Expires:           expires,
	}
}

// daysRemaining rounds the time left up to whole days
func daysRemaining(now, expires time.Time) int {
	left := expires.Sub(now)
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	return days
}
