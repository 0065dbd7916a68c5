// Command license-client checks and activates the ExamShield license of this
// device against the license server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"examshield/internal/client"
	"examshield/internal/config"
	"examshield/internal/infrastructure"
	"examshield/internal/license"
)

const usage = `Usage: license-client [flags] <command>

Commands:
  fingerprint      print this device's fingerprint
  status           check the license or trial state, starting a trial if none exists
  activate <key>   bind a purchased license key to this device

Flags:
`

// Exit codes
const (
	exitOK       = 0
	exitUnusable = 1
	exitUsage    = 2
	exitError    = 3
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	server    string
	configDir string
	email     string
	json      bool
	verbose   bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := pflag.NewFlagSet("license-client", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.server, "server", "", "license server URL (overrides "+client.EnvPrefix+"_SERVER_URL)")
	fs.StringVar(&opts.configDir, "config-dir", "", "directory for the local license and trial files")
	fs.StringVar(&opts.email, "email", "", "email sent with the trial eligibility check")
	fs.BoolVar(&opts.json, "json", false, "print the result as JSON")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
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

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger, err := infrastructure.NewLogger(config.LoggingConfig{Level: level, Format: "text", Output: "console"}, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "fingerprint" {
		fmt.Fprintln(stdout, client.ComputeFingerprint())
		return exitOK
	}

	manager, err := newManager(opts, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	var status client.Status
	switch cmd {
	case "status":
		status, err = manager.Status(ctx)
	case "activate":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "error: activate takes exactly one license key")
			return exitUsage
		}
		status, err = manager.Activate(ctx, rest[0])
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n", cmd)
		fs.Usage()
		return exitUsage
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %s\n", describe(err))
		return exitUnusable
	}

	if err := printStatus(stdout, status, opts.json); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	if !status.Usable() {
		return exitUnusable
	}
	return exitOK
}

func newManager(opts options, logger *slog.Logger) (*client.Manager, error) {
	cfg, err := client.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.server != "" {
		cfg.ServerURL = strings.TrimRight(opts.server, "/")
	}
	if opts.configDir != "" {
		cfg.ConfigDir = opts.configDir
	}
	if opts.email != "" {
		cfg.Email = opts.email
	}

	fingerprint := client.ComputeFingerprint()
	files, err := client.NewLocalFiles(cfg.ConfigDir, fingerprint)
	if err != nil {
		return nil, err
	}
	api := client.NewAPIClient(cfg, client.WithAPILogger(logger))

	return client.NewManager(api, files, fingerprint,
		client.WithEmail(cfg.Email),
		client.WithManagerLogger(logger),
	), nil
}

// describe turns a server error into the text shown to the user
func describe(err error) string {
	var se *client.ServerError
	switch {
	case errors.As(err, &se) && se.Message != "":
		return se.Message
	case errors.Is(err, client.ErrServerUnreachable):
		return "Cannot connect to license server. Check your internet connection."
	case errors.Is(err, license.ErrNotFound):
		return "Invalid license key"
	}
	return err.Error()
}

func printStatus(w io.Writer, s client.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "Status:  %s\n", strings.ToUpper(string(s.State)))
	fmt.Fprintf(w, "Message: %s\n", s.Message)
	if s.Key != "" {
		fmt.Fprintf(w, "License: %s\n", license.MaskKey(s.Key))
	}
	if s.DeviceLimit > 0 {
		limit := fmt.Sprint(s.DeviceLimit)
		if s.DeviceLimit >= license.UnlimitedDevices {
			limit = "unlimited"
		}
		fmt.Fprintf(w, "Devices: %d of %s\n", s.DevicesRegistered, limit)
	}
	if s.State == client.StateTrial {
		fmt.Fprintf(w, "Days remaining: %d\n", s.DaysRemaining)
	}
	if s.RequiresPurchase {
		fmt.Fprintln(w, "A license purchase is required to continue.")
	}
	return nil
}
