package license

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Device types
const (
	DeviceTypeIndividual   = "individual"
	DeviceTypeOrganization = "organization"
)

// Payment states
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// Record states as reported in registration conflicts
const (
	StatusActive  = "active"
	StatusPending = "pending"
	StatusRevoked = "revoked"
)

const (
	// IndividualDeviceLimit is the number of devices an individual license may bind
	IndividualDeviceLimit = 2
	// UnlimitedDevices is the organization sentinel kept for wire compatibility
	UnlimitedDevices = 999999

	// Validity is how long a license stays valid after payment
	Validity = 365 * 24 * time.Hour
	// TrialPeriod is the length of a free trial, on the server and on clients
	TrialPeriod = 7 * 24 * time.Hour

	// DefaultExtendDays is used when an admin extension gives no day count
	DefaultExtendDays = 365
	// MaxExtendDays bounds a single admin extension
	MaxExtendDays = 3650
)

var (
	IndividualPrice   = decimal.RequireFromString("99.99")
	OrganizationPrice = decimal.RequireFromString("299.99")
)

// Record is one issued license
type Record struct {
	Key           string          `json:"key"`
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	DeviceType    string          `json:"device_type"`
	DeviceLimit   int             `json:"device_limit"`
	Devices       []string        `json:"devices"`
	Active        bool            `json:"active"`
	PaymentStatus string          `json:"payment_status"`
	Created       time.Time       `json:"created"`
	Activated     *time.Time      `json:"activated,omitempty"`
	Expires       *time.Time      `json:"expires"`
	Revoked       *time.Time      `json:"revoked,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	TrialActive   bool            `json:"trial_active"`
	TrialStarted  *time.Time      `json:"trial_started,omitempty"`
	TrialExpires  *time.Time      `json:"trial_expires,omitempty"`
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Devices = slices.Clone(r.Devices)
	if c.Devices == nil {
		c.Devices = []string{}
	}
	c.Activated = cloneTime(r.Activated)
	c.Expires = cloneTime(r.Expires)
	c.Revoked = cloneTime(r.Revoked)
	c.TrialStarted = cloneTime(r.TrialStarted)
	c.TrialExpires = cloneTime(r.TrialExpires)
	return &c
}

// Status classifies the record for registration conflicts
func (r *Record) Status() string {
	switch {
	case r.Revoked != nil:
		return StatusRevoked
	case r.Active:
		return StatusActive
	default:
		return StatusPending
	}
}

// IsPending reports whether the record is waiting for payment
func (r *Record) IsPending() bool {
	return !r.Active && r.Revoked == nil && r.PaymentStatus != PaymentCompleted
}

// IsExpired reports whether the expiry is set and not after now
func (r *Record) IsExpired(now time.Time) bool {
	return r.Expires != nil && !now.Before(*r.Expires)
}

// HasDevice reports whether the fingerprint is already bound
func (r *Record) HasDevice(fingerprint string) bool {
	return slices.Contains(r.Devices, fingerprint)
}

// NormalizeEmail lowercases and trims an email for indexing
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidDeviceType reports whether t is a known device type
func ValidDeviceType(t string) bool {
	return t == DeviceTypeIndividual || t == DeviceTypeOrganization
}

// DeviceLimitFor returns the device limit of a device type
func DeviceLimitFor(deviceType string) int {
	if deviceType == DeviceTypeOrganization {
		return UnlimitedDevices
	}
	return IndividualDeviceLimit
}

// PriceFor returns the list price of a device type
func PriceFor(deviceType string) decimal.Decimal {
	if deviceType == DeviceTypeOrganization {
		return OrganizationPrice
	}
	return IndividualPrice
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
