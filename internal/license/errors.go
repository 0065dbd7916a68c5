package license

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for license operations. Typed errors below wrap them so
// callers can use errors.Is for the category and errors.As for details.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("license already registered")
	ErrNotFound     = errors.New("license key not found")
	ErrInactive     = errors.New("license not active")
	ErrExpired      = errors.New("license expired")
	ErrLimitReached = errors.New("device limit reached")
	ErrStorage      = errors.New("license storage failure")
)

// Denial reasons reported to clients
const (
	ReasonInactive     = "inactive"
	ReasonRevoked      = "revoked"
	ReasonExpired      = "expired"
	ReasonLimitReached = "device_limit_reached"
)

// ValidationError reports a user-correctable input problem
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError is returned when an email already owns a license. It carries
// the existing key so the caller can resume a pending registration.
type ConflictError struct {
	ExistingKey string
	Status      string
	PaymentURL  string
}

func (e *ConflictError) Error() string {
	switch e.Status {
	case StatusActive:
		return "This email already has an active license"
	case StatusPending:
		return "This email already has a pending registration"
	default:
		return "This email is registered to a revoked license"
	}
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// DenialError explains why a license cannot be used on a device
type DenialError struct {
	Reason            string
	Message           string
	DevicesRegistered int
	DeviceLimit       int
	Expires           *time.Time
}

func (e *DenialError) Error() string { return e.Message }

func (e *DenialError) Is(target error) bool {
	switch e.Reason {
	case ReasonInactive, ReasonRevoked:
		return target == ErrInactive
	case ReasonExpired:
		return target == ErrExpired
	case ReasonLimitReached:
		return target == ErrLimitReached
	}
	return false
}

// StorageError wraps a backend I/O failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("license store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
