package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"

	"examshield/internal/infrastructure"
	"examshield/internal/license"
)

// Problem types following RFC 7807
const (
	TypeValidation      = "/errors/validation"
	TypeNotFound        = "/errors/not-found"
	TypeUnauthorized    = "/errors/unauthorized"
	TypeForbidden       = "/errors/forbidden"
	TypeRateLimit       = "/errors/rate-limit"
	TypeInternal        = "/errors/internal"
	TypeServiceDown     = "/errors/service-unavailable"
	TypeTimeout         = "/errors/timeout"
	TypeConflict        = "/errors/conflict"
	TypePayloadTooLarge = "/errors/payload-too-large"
	TypeMethod          = "/errors/method-not-allowed"
)

// License problem types
const (
	TypeLicenseNotFound = "/errors/license/not-found"
	TypeLicenseConflict = "/errors/license/already-registered"
	TypeLicenseInactive = "/errors/license/inactive"
	TypeLicenseRevoked  = "/errors/license/revoked"
	TypeLicenseExpired  = "/errors/license/expired"
	TypeDeviceLimit     = "/errors/license/device-limit"
	TypeStorage         = "/errors/storage"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", traceID(r))

	level := slog.LevelInfo
	switch {
	case problem.Status >= 500:
		level = slog.LevelError
	case problem.Status == http.StatusUnauthorized || problem.Status == http.StatusTooManyRequests:
		level = slog.LevelWarn
	}
	h.logger.LogAttrs(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("type", problem.Type),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if h.includeStack && problem.Status >= 500 {
		problem.WithExtension("stack", getStackTrace())
	}

	problem.Write(w)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	instance := r.URL.Path

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			instance,
		)
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return NewProblemDetails(
			http.StatusRequestEntityTooLarge,
			TypePayloadTooLarge,
			"Payload Too Large",
			fmt.Sprintf("The request body exceeds %d bytes", maxBytes.Limit),
			instance,
		).WithExtension("error_code", ErrPayloadTooLarge.ErrorCode)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var validation *license.ValidationError
	if errors.As(err, &validation) {
		p := NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Validation Failed",
			validation.Message,
			instance,
		).WithExtension("error_code", ErrValidationFailed.ErrorCode)
		if validation.Field != "" {
			p.WithExtension("field", validation.Field)
		}
		return p
	}

	var conflict *license.ConflictError
	if errors.As(err, &conflict) {
		p := NewProblemDetails(
			http.StatusConflict,
			TypeLicenseConflict,
			"License Already Registered",
			conflict.Error(),
			instance,
		).
			WithExtension("error_code", "LICENSE_CONFLICT").
			WithExtension("existing_key", conflict.ExistingKey).
			WithExtension("registration_status", conflict.Status)
		if conflict.PaymentURL != "" {
			p.WithExtension("payment_url", conflict.PaymentURL)
			p.WithExtension("message", "You have a pending registration. Please complete payment or contact support.")
		} else {
			p.WithExtension("message", "Please use your existing license key or contact support.")
		}
		return p
	}

	var denial *license.DenialError
	if errors.As(err, &denial) {
		return denialToProblem(denial, instance)
	}

	switch {
	case errors.Is(err, license.ErrNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeLicenseNotFound,
			"License Not Found",
			"License key not found",
			instance,
		).WithExtension("error_code", "LICENSE_NOT_FOUND").WithExtension("valid", false)

	case errors.Is(err, license.ErrStorage):
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeStorage,
			"Storage Error",
			"The license store could not complete the operation",
			instance,
		).WithExtension("error_code", "STORAGE_ERROR")

	case errors.Is(err, license.ErrInvalidInput):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Validation Failed",
			err.Error(),
			instance,
		).WithExtension("error_code", ErrValidationFailed.ErrorCode)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		instance,
	)
}

func denialToProblem(denial *license.DenialError, instance string) *ProblemDetails {
	problemType, title, code := TypeForbidden, "Forbidden", "FORBIDDEN"
	switch denial.Reason {
	case license.ReasonInactive:
		problemType, title, code = TypeLicenseInactive, "License Not Active", "LICENSE_INACTIVE"
	case license.ReasonRevoked:
		problemType, title, code = TypeLicenseRevoked, "License Revoked", "LICENSE_REVOKED"
	case license.ReasonExpired:
		problemType, title, code = TypeLicenseExpired, "License Expired", "LICENSE_EXPIRED"
	case license.ReasonLimitReached:
		problemType, title, code = TypeDeviceLimit, "Device Limit Reached", "DEVICE_LIMIT_REACHED"
	}

	p := NewProblemDetails(http.StatusForbidden, problemType, title, denial.Message, instance).
		WithExtension("error_code", code).
		WithExtension("reason", denial.Reason).
		WithExtension("valid", false).
		WithExtension("device_limit", denial.DeviceLimit).
		WithExtension("registered_devices", denial.DevicesRegistered)
	if denial.Expires != nil {
		p.WithExtension("expires", denial.Expires.UTC())
	}
	return p
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		problemType = TypeValidation
	case http.StatusUnauthorized:
		problemType = TypeUnauthorized
	case http.StatusForbidden:
		problemType = TypeForbidden
	case http.StatusNotFound:
		problemType = TypeNotFound
	case http.StatusConflict:
		problemType = TypeConflict
	case http.StatusRequestEntityTooLarge:
		problemType = TypePayloadTooLarge
	case http.StatusTooManyRequests:
		problemType = TypeRateLimit
	case http.StatusServiceUnavailable:
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}

	return problem
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", traceID(r))

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	problem.Write(w)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", traceID(r)).Write(w)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethod,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", traceID(r)).Write(w)
}

func traceID(r *http.Request) string {
	if id := infrastructure.GetTraceID(r.Context()); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
