package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"examshield/internal/license"
	contracts "examshield/pkg/contracts"
	api "examshield/pkg/contracts/api/v1"
)

const maxResponseBytes = 1 << 20

// Server is the part of the license API the trial manager depends on
type Server interface {
	Verify(ctx context.Context, key, fingerprint string) (*api.VerifyResponse, error)
	CheckTrialEligibility(ctx context.Context, email string) (*api.EligibilityResponse, error)
}

// APIClient talks to the license server over HTTP. Transport failures and
// 5xx answers are retried with exponential backoff; denials are not.
type APIClient struct {
	baseURL            string
	httpClient         *http.Client
	verifyTimeout      time.Duration
	eligibilityTimeout time.Duration
	maxRetries         uint64
	retryInterval      time.Duration
	userAgent          string
	logger             *slog.Logger
}

var _ Server = (*APIClient)(nil)

// APIOption configures an APIClient
type APIOption func(*APIClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APIClient) { a.httpClient = c }
}

// WithRetryInterval sets the first backoff interval
func WithRetryInterval(d time.Duration) APIOption {
	return func(a *APIClient) { a.retryInterval = d }
}

// WithAPILogger sets the logger
func WithAPILogger(l *slog.Logger) APIOption {
	return func(a *APIClient) { a.logger = l }
}

// NewAPIClient creates a client for the server at cfg.ServerURL
func NewAPIClient(cfg Config, opts ...APIOption) *APIClient {
	a := &APIClient{
		baseURL:            strings.TrimRight(cfg.ServerURL, "/"),
		httpClient:         &http.Client{},
		verifyTimeout:      cfg.VerifyTimeout,
		eligibilityTimeout: cfg.EligibilityTimeout,
		maxRetries:         cfg.MaxRetries,
		retryInterval:      500 * time.Millisecond,
		userAgent:          "examshield-client/" + contracts.Version,
		logger:             slog.Default(),
	}
	if a.verifyTimeout <= 0 {
		a.verifyTimeout = 10 * time.Second
	}
	if a.eligibilityTimeout <= 0 {
		a.eligibilityTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "license.client"))
	return a
}

// Verify binds fingerprint to key on the server
func (a *APIClient) Verify(ctx context.Context, key, fingerprint string) (*api.VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.verifyTimeout)
	defer cancel()

	var resp api.VerifyResponse
	err := a.postJSON(ctx, "/verify", api.VerifyRequest{Key: key, DeviceFingerprint: fingerprint}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Valid {
		return nil, &mappedError{sentinel: license.ErrInactive, server: &ServerError{
			StatusCode: http.StatusOK,
			Message:    resp.Message,
		}}
	}
	return &resp, nil
}

// CheckTrialEligibility asks whether email may start a free trial
func (a *APIClient) CheckTrialEligibility(ctx context.Context, email string) (*api.EligibilityResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.eligibilityTimeout)
	defer cancel()

	var resp api.EligibilityResponse
	if err := a.postJSON(ctx, "/check-trial-eligibility", api.EligibilityRequest{Email: email}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *APIClient) postJSON(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.retryInterval
	eb.MaxElapsedTime = 0
	bkoff := backoff.WithContext(backoff.WithMaxRetries(eb, a.maxRetries), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		err := a.do(ctx, path, payload, dest)
		var se *ServerError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrServerUnreachable):
			a.logger.DebugContext(ctx, "license server request failed",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		case errors.As(err, &se) && !se.Denied():
			return err
		default:
			return backoff.Permanent(err)
		}
	}, bkoff)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	return err
}

func (a *APIClient) do(ctx context.Context, path string, payload []byte, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrServerUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		return parseProblem(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
