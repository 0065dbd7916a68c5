package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"examshield/internal/license"
	api "examshield/pkg/contracts/api/v1"
)

// ErrServerUnreachable wraps timeouts and connection failures. It only ever
// relaxes trial eligibility; it never grants or revokes a paid license.
var ErrServerUnreachable = errors.New("license server unreachable")

// ServerError is a problem response returned by the license server
type ServerError struct {
	StatusCode        int
	Code              string
	Reason            string
	Message           string
	DevicesRegistered int
	DeviceLimit       int
	Expires           *time.Time
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// Denied reports whether the server answered with an explicit refusal
// rather than failing
func (e *ServerError) Denied() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// parseProblem decodes an RFC 7807 body, tolerating anything else
func parseProblem(statusCode int, body []byte) error {
	se := &ServerError{StatusCode: statusCode}

	var p api.Problem
	if err := json.Unmarshal(body, &p); err != nil || (p.Title == "" && p.Detail == "" && p.ErrorCode == "") {
		se.Message = http.StatusText(statusCode)
		if len(body) > 0 && len(body) <= 512 {
			se.Message = string(body)
		}
		return se
	}

	se.Code = p.ErrorCode
	se.Reason = p.Reason
	se.Message = p.Detail
	if se.Message == "" {
		se.Message = p.Title
	}
	se.DevicesRegistered = p.RegisteredDevices
	se.DeviceLimit = p.DeviceLimit
	se.Expires = p.Expires
	return mapServerError(se)
}

// mapServerError attaches the matching license sentinel so callers can
// branch with errors.Is and still reach the details with errors.As
func mapServerError(se *ServerError) error {
	var sentinel error
	switch {
	case se.StatusCode == http.StatusNotFound:
		sentinel = license.ErrNotFound
	case se.StatusCode == http.StatusConflict:
		sentinel = license.ErrConflict
	case se.StatusCode == http.StatusBadRequest:
		sentinel = license.ErrInvalidInput
	case se.StatusCode == http.StatusForbidden:
		switch se.Reason {
		case license.ReasonExpired:
			sentinel = license.ErrExpired
		case license.ReasonLimitReached:
			sentinel = license.ErrLimitReached
		case license.ReasonInactive, license.ReasonRevoked:
			sentinel = license.ErrInactive
		}
	}
	if sentinel == nil {
		return se
	}
	return &mappedError{sentinel: sentinel, server: se}
}

type mappedError struct {
	sentinel error
	server   *ServerError
}

func (e *mappedError) Error() string {
	if e.server.Message != "" {
		return e.server.Message
	}
	return e.sentinel.Error()
}

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) As(target interface{}) bool {
	if t, ok := target.(**ServerError); ok {
		*t = e.server
		return true
	}
	return false
}

func (e *mappedError) Unwrap() error {
	return e.sentinel
}
