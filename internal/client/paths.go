package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	LicenseFileName = "license.json"
	TrialFileName   = "trial.json"
)

// platform captures what DefaultConfigDir needs from the OS
type platform struct {
	goos    string
	euid    func() int
	getenv  func(string) string
	homeDir func() (string, error)
}

var hostPlatform = platform{
	goos:    runtime.GOOS,
	euid:    os.Geteuid,
	getenv:  os.Getenv,
	homeDir: os.UserHomeDir,
}

// DefaultConfigDir returns where the client keeps its files:
// %APPDATA%\ExamShield on Windows, /etc/examshield for root elsewhere and
// ~/.examshield for everyone else.
func DefaultConfigDir() (string, error) {
	return hostPlatform.configDir()
}

func (p platform) configDir() (string, error) {
	if p.goos == "windows" {
		if appData := p.getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "ExamShield"), nil
		}
		home, err := p.homeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve config dir: %w", err)
		}
		return filepath.Join(home, "ExamShield"), nil
	}

	if p.euid() == 0 {
		return "/etc/examshield", nil
	}
	home, err := p.homeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	if home == "" {
		return "", errors.New("failed to resolve config dir: empty home directory")
	}
	return filepath.Join(home, ".examshield"), nil
}
