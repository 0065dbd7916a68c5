// Package api contains the HTTP wire contracts shared by the license server
// and its clients. Version v1 represents the current stable API version.
package api

// RegisterRequest represents a license registration request
type RegisterRequest struct {
	Email      string `json:"email" validate:"required,max=254"`
	Name       string `json:"name" validate:"required,max=200"`
	DeviceType string `json:"device_type" validate:"omitempty,oneof=individual organization"`
}

// VerifyRequest represents a device verification request
type VerifyRequest struct {
	Key               string `json:"key" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"required"`
}

// EligibilityRequest asks whether an email may start a free trial
type EligibilityRequest struct {
	Email string `json:"email" validate:"required"`
}

// TrialActivationRequest starts the server-side trial of a registered license
type TrialActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

// RazorpayPaymentResponse is the checkout payload returned by the Razorpay widget
type RazorpayPaymentResponse struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// VerifyPaymentRequest confirms a client-side checkout for a license key
type VerifyPaymentRequest struct {
	Provider        string                  `json:"provider" validate:"required"`
	LicenseKey      string                  `json:"license_key" validate:"required"`
	PaymentResponse RazorpayPaymentResponse `json:"payment_response"`
}
