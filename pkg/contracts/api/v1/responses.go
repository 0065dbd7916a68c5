package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegisterResponse is returned for a newly created pending license
type RegisterResponse struct {
	LicenseKey  string `json:"license_key"`
	PaymentURL  string `json:"payment_url"`
	DeviceLimit int    `json:"device_limit"`
	Message     string `json:"message"`
}

// VerifyResponse is returned when a device is bound to a license
type VerifyResponse struct {
	Valid             bool       `json:"valid"`
	Active            bool       `json:"active"`
	Message           string     `json:"message"`
	DevicesRegistered int        `json:"devices_registered"`
	DeviceLimit       int        `json:"device_limit"`
	Expires           *time.Time `json:"expires,omitempty"`
}

// EligibilityResponse reports whether a trial may be started
type EligibilityResponse struct {
	Eligible   bool   `json:"eligible"`
	Reason     string `json:"reason,omitempty"`
	HasActive  bool   `json:"has_active"`
	HasPending bool   `json:"has_pending"`
}

// TrialActivationResponse is returned after a server-side trial starts
type TrialActivationResponse struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	TrialExpires time.Time `json:"trial_expires"`
}

// LicenseInfoResponse is the public view of a license used by the payment page
type LicenseInfoResponse struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	DeviceType    string `json:"device_type"`
	Active        bool   `json:"active"`
	PaymentStatus string `json:"payment_status"`
}

// PaymentConfigResponse tells the payment page which providers are configured
type PaymentConfigResponse struct {
	RazorpayEnabled bool `json:"razorpay_enabled"`
	StripeEnabled   bool `json:"stripe_enabled"`
}

// PublicReportsResponse is the unauthenticated purchase counter
type PublicReportsResponse struct {
	TotalLicenses  int       `json:"total_licenses"`
	ActiveLicenses int       `json:"active_licenses"`
	LastUpdated    time.Time `json:"last_updated"`
}

// WebhookResponse acknowledges a payment notification
type WebhookResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Status     string `json:"status,omitempty"`
	LicenseKey string `json:"license_key,omitempty"`
}

// AdminActionResponse acknowledges revoke and extend
type AdminActionResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	NewExpires *time.Time `json:"new_expires,omitempty"`
}

// ReportRow is one license in the admin report
type ReportRow struct {
	Key               string          `json:"key"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	DeviceType        string          `json:"device_type"`
	Active            bool            `json:"active"`
	Created           time.Time       `json:"created"`
	Activated         *time.Time      `json:"activated,omitempty"`
	Expires           *time.Time      `json:"expires,omitempty"`
	Revoked           *time.Time      `json:"revoked,omitempty"`
	PaymentAmount     decimal.Decimal `json:"payment_amount"`
	PaymentStatus     string          `json:"payment_status"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	DevicesRegistered int             `json:"devices_registered"`
	DeviceLimit       int             `json:"device_limit"`
	TrialActive       bool            `json:"trial_active"`
}

// ReportStats aggregates the admin report
type ReportStats struct {
	Total   int             `json:"total"`
	Active  int             `json:"active"`
	Pending int             `json:"pending"`
	Revoked int             `json:"revoked"`
	Revenue decimal.Decimal `json:"revenue"`
}

// ReportsResponse is the admin report payload
type ReportsResponse struct {
	Reports     []ReportRow `json:"reports"`
	Stats       ReportStats `json:"stats"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
}

// Problem is the RFC 7807 error body as decoded by clients. Only the
// extension fields the license API emits are listed.
type Problem struct {
	Type               string     `json:"type"`
	Title              string     `json:"title"`
	Status             int        `json:"status"`
	Detail             string     `json:"detail,omitempty"`
	ErrorCode          string     `json:"error_code,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	ExistingKey        string     `json:"existing_key,omitempty"`
	RegistrationStatus string     `json:"registration_status,omitempty"`
	PaymentURL         string     `json:"payment_url,omitempty"`
	DeviceLimit        int        `json:"device_limit,omitempty"`
	RegisteredDevices  int        `json:"registered_devices,omitempty"`
	Expires            *time.Time `json:"expires,omitempty"`
	TraceID            string     `json:"trace_id,omitempty"`
}
