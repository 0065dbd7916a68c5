package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examshield/internal/license"
	api "examshield/pkg/contracts/api/v1"
)

func testAPIClient(url string) *APIClient {
	return NewAPIClient(Config{
		ServerURL:          url,
		VerifyTimeout:      2 * time.Second,
		EligibilityTimeout: 2 * time.Second,
		MaxRetries:         2,
	},
		WithRetryInterval(time.Millisecond),
		WithAPILogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func writeProblem(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestAPIClient_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ES-KEY", req.Key)
		assert.Equal(t, "fp1", req.DeviceFingerprint)

		_ = json.NewEncoder(w).Encode(api.VerifyResponse{
			Valid: true, Active: true, Message: "License verified",
			DevicesRegistered: 1, DeviceLimit: 2,
		})
	}))
	defer srv.Close()

	resp, err := testAPIClient(srv.URL).Verify(context.Background(), "ES-KEY", "fp1")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, 1, resp.DevicesRegistered)
	assert.Equal(t, 2, resp.DeviceLimit)
}

func TestAPIClient_Denials(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     map[string]any
		sentinel error
		reason   string
	}{
		{
			name:     "limit reached",
			status:   http.StatusForbidden,
			body:     map[string]any{"title": "Device Limit Reached", "detail": "Device limit reached (2 devices)", "error_code": "DEVICE_LIMIT_REACHED", "reason": "device_limit_reached", "device_limit": 2, "registered_devices": 2},
			sentinel: license.ErrLimitReached,
			reason:   license.ReasonLimitReached,
		},
		{
			name:     "expired",
			status:   http.StatusForbidden,
			body:     map[string]any{"title": "License Expired", "detail": "License has expired", "reason": "expired"},
			sentinel: license.ErrExpired,
			reason:   license.ReasonExpired,
		},
		{
			name:     "revoked",
			status:   http.StatusForbidden,
			body:     map[string]any{"title": "License Revoked", "detail": "License has been revoked", "reason": "revoked"},
			sentinel: license.ErrInactive,
			reason:   license.ReasonRevoked,
		},
		{
			name:     "unknown key",
			status:   http.StatusNotFound,
			body:     map[string]any{"title": "License Not Found", "detail": "License key not found", "error_code": "LICENSE_NOT_FOUND"},
			sentinel: license.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeProblem(w, tt.status, tt.body)
			}))
			defer srv.Close()

			_, err := testAPIClient(srv.URL).Verify(context.Background(), "ES-KEY", "fp")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.NotErrorIs(t, err, ErrServerUnreachable)
			assert.Equal(t, int32(1), calls.Load(), "denials are not retried")

			var se *ServerError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.reason, se.Reason)
			assert.Equal(t, tt.body["detail"], se.Message)
		})
	}
}

func TestAPIClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeProblem(w, http.StatusInternalServerError, map[string]any{"title": "Storage Error", "error_code": "STORAGE_ERROR"})
			return
		}
		_ = json.NewEncoder(w).Encode(api.EligibilityResponse{Eligible: true})
	}))
	defer srv.Close()

	resp, err := testAPIClient(srv.URL).CheckTrialEligibility(context.Background(), "ann@example.com")
	require.NoError(t, err)
	assert.True(t, resp.Eligible)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPIClient_GivesUpOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testAPIClient(srv.URL).Verify(context.Background(), "ES-KEY", "fp")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")
}

func TestAPIClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testAPIClient(url).Verify(context.Background(), "ES-KEY", "fp")
	assert.ErrorIs(t, err, ErrServerUnreachable)
}

func TestAPIClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewAPIClient(Config{ServerURL: srv.URL, EligibilityTimeout: 50 * time.Millisecond},
		WithRetryInterval(time.Millisecond))
	_, err := c.CheckTrialEligibility(context.Background(), "ann@example.com")
	assert.ErrorIs(t, err, ErrServerUnreachable)
}
