package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"examshield/internal/webhook"
	api "examshield/pkg/contracts/api/v1"
)

const maxResponseBytes = 32 << 20

// adminClient talks to one license server
type adminClient struct {
	baseURL       string
	adminSecret   string
	webhookSecret string
	http          *http.Client
	out           io.Writer
}

func newAdminClient(baseURL, adminSecret, webhookSecret string, timeout time.Duration, out io.Writer) *adminClient {
	return &adminClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		adminSecret:   adminSecret,
		webhookSecret: webhookSecret,
		http:          &http.Client{Timeout: timeout},
		out:           out,
	}
}

// statusError is a non-2xx answer from the server
type statusError struct {
	status int
	detail string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.status, e.detail)
}

func (c *adminClient) simulatePaymentCmd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("simulate-payment", pflag.ContinueOnError)
	amount := fs.String("amount", "99.99", "payment amount")
	txn := fs.String("transaction-id", "", "transaction id (default: random)")
	status := fs.String("status", "paid", "payment status sent to the server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	email, err := oneArg(fs.Args(), "email")
	if err != nil {
		return err
	}

	resp, err := c.simulatePayment(ctx, email, *amount, *txn, *status)
	if err != nil {
		return err
	}
	return c.printJSON(resp)
}

func (c *adminClient) registerAndActivateCmd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("register-and-activate", pflag.ContinueOnError)
	name := fs.String("name", "Test User", "license holder name")
	deviceType := fs.String("device-type", "individual", "individual or organization")
	amount := fs.String("amount", "", "payment amount (default: the price of the device type)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	email, err := oneArg(fs.Args(), "email")
	if err != nil {
		return err
	}

	var registered api.RegisterResponse
	req := api.RegisterRequest{Email: email, Name: *name, DeviceType: *deviceType}
	if err := c.postJSON(ctx, "/register", req, &registered); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Fprintf(c.out, "Registered %s (device limit %d)\n", registered.LicenseKey, registered.DeviceLimit)

	paid, err := c.simulatePayment(ctx, email, *amount, "", "paid")
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if !paid.Success {
		return fmt.Errorf("activate: %s", paid.Message)
	}
	fmt.Fprintf(c.out, "Activated %s\n", paid.LicenseKey)
	return nil
}

func (c *adminClient) revokeCmd(ctx context.Context, args []string) error {
	key, err := oneArg(args, "license key")
	if err != nil {
		return err
	}
	var resp api.AdminActionResponse
	if err := c.adminGet(ctx, "/admin/revoke", url.Values{"key": {key}}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(c.out, resp.Message)
	return nil
}

func (c *adminClient) extendCmd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("extend", pflag.ContinueOnError)
	days := fs.Int("days", 365, "days to add")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := oneArg(fs.Args(), "license key")
	if err != nil {
		return err
	}

	var resp api.AdminActionResponse
	q := url.Values{"key": {key}, "days": {strconv.Itoa(*days)}}
	if err := c.adminGet(ctx, "/admin/extend", q, &resp); err != nil {
		return err
	}
	fmt.Fprintln(c.out, resp.Message)
	if resp.NewExpires != nil {
		fmt.Fprintf(c.out, "New expiry: %s\n", resp.NewExpires.UTC().Format(time.RFC3339))
	}
	return nil
}

func (c *adminClient) reportsCmd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("reports", pflag.ContinueOnError)
	xlsx := fs.String("xlsx", "", "write the XLSX export to this file instead of printing JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usageError("reports takes no arguments")
	}

	if *xlsx == "" {
		var rep api.ReportsResponse
		if err := c.adminGet(ctx, "/admin/reports", nil, &rep); err != nil {
			return err
		}
		return c.printJSON(rep)
	}

	body, err := c.adminDownload(ctx, "/admin/reports", url.Values{"format": {"xlsx"}})
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(*xlsx, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("write %s: %w", *xlsx, err)
	}
	fmt.Fprintf(c.out, "Wrote %s (%d bytes)\n", *xlsx, len(body))
	return nil
}

// simulatePayment sends a webhook shaped like a generic provider callback
func (c *adminClient) simulatePayment(ctx context.Context, email, amount, txn, status string) (*api.WebhookResponse, error) {
	payload := map[string]any{
		"status": status,
		"email":  email,
	}
	if amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil || !d.IsPositive() {
			return nil, usageError("amount must be a positive number, got %q", amount)
		}
		payload["amount"] = d.StringFixed(2)
	}
	if txn == "" {
		txn = "sim_" + uuid.NewString()
	}
	payload["id"] = txn

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook/payment", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.webhookSecret != "" {
		req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(c.webhookSecret), body))
	}

	var resp api.WebhookResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *adminClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *adminClient) adminRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	if c.adminSecret == "" {
		return nil, usageError("admin secret required (--admin-secret or ES_SECURITY_ADMIN_SECRET)")
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("secret", c.adminSecret)
	return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
}

func (c *adminClient) adminGet(ctx context.Context, path string, q url.Values, out any) error {
	req, err := c.adminRequest(ctx, path, q)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *adminClient) adminDownload(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req, err := c.adminRequest(ctx, path, q)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *adminClient) do(req *http.Request, out any) error {
	body, err := c.send(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send returns the body of a 2xx response. Problem bodies become a
// statusError carrying the server's detail.
func (c *adminClient) send(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", "examshield-admin")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	se := &statusError{status: resp.StatusCode, detail: http.StatusText(resp.StatusCode)}
	var p api.Problem
	if json.Unmarshal(body, &p) == nil && p.Detail != "" {
		se.detail = p.Detail
	}
	return nil, se
}

func (c *adminClient) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
