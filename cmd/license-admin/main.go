// Command license-admin operates a running license server: it generates
// secrets, simulates payment webhooks and calls the admin endpoints.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
)

const usage = `Usage: license-admin [flags] <command> [args]

Commands:
  secrets                          generate a webhook secret and an admin secret
  simulate-payment <email>         send a signed payment webhook for email
  register-and-activate <email>    register a license and pay for it in one step
  revoke <key>                     revoke a license
  extend <key>                     extend a license (--days, default 365)
  reports                          print the admin report (--xlsx FILE to export)

Flags:
`

// Exit codes
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// secretBytes is the entropy of generated secrets
const secretBytes = 32

// envConfig reads the same variables as the server so one environment file
// serves both
type envConfig struct {
	ServerURL     string `envconfig:"ADMIN_SERVER_URL" default:"http://localhost:5000"`
	AdminSecret   string `envconfig:"SECURITY_ADMIN_SECRET"`
	WebhookSecret string `envconfig:"SECURITY_WEBHOOK_SECRET"`
}

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var env envConfig
	if err := envconfig.Process("ES", &env); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailed
	}

	fs := pflag.NewFlagSet("license-admin", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	server := fs.String("server", env.ServerURL, "license server base URL")
	adminSecret := fs.String("admin-secret", env.AdminSecret, "admin secret (ES_SECURITY_ADMIN_SECRET)")
	webhookSecret := fs.String("webhook-secret", env.WebhookSecret, "webhook signing secret (ES_SECURITY_WEBHOOK_SECRET)")
	timeout := fs.Duration("timeout", 15*time.Second, "HTTP timeout per request")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	c := newAdminClient(*server, *adminSecret, *webhookSecret, *timeout, stdout)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "secrets":
		err = printSecrets(stdout)
	case "simulate-payment":
		err = c.simulatePaymentCmd(ctx, rest)
	case "register-and-activate":
		err = c.registerAndActivateCmd(ctx, rest)
	case "revoke":
		err = c.revokeCmd(ctx, rest)
	case "extend":
		err = c.extendCmd(ctx, rest)
	case "reports":
		err = c.reportsCmd(ctx, rest)
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n", cmd)
		fs.Usage()
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pflag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailed
	}
}

// printSecrets writes fresh secrets in environment file form
func printSecrets(w io.Writer) error {
	webhook, err := newSecret()
	if err != nil {
		return err
	}
	admin, err := newSecret()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "# Add to the license server environment")
	fmt.Fprintf(w, "ES_SECURITY_WEBHOOK_SECRET=%s\n", webhook)
	fmt.Fprintf(w, "ES_SECURITY_ADMIN_SECRET=%s\n", admin)
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func oneArg(args []string, what string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", usageError("expected exactly one %s", what)
	}
	return strings.TrimSpace(args[0]), nil
}
