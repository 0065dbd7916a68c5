package client

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// CachedLicense is the last successful verification of a paid license
type CachedLicense struct {
	Key               string     `json:"key"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	VerifiedAt        time.Time  `json:"verified_at"`
	Active            bool       `json:"active"`
	DevicesRegistered int        `json:"devices_registered"`
	DeviceLimit       int        `json:"device_limit"`
	Expires           *time.Time `json:"expires,omitempty"`
}

// TrialRecord is the locally started free trial
type TrialRecord struct {
	Started time.Time `json:"started"`
	Expires time.Time `json:"expires"`
	Active  bool      `json:"active"`
	Email   string    `json:"email,omitempty"`
}

// LocalFiles reads and writes the sealed client files in one directory
type LocalFiles struct {
	dir    string
	sealer *sealer
}

// NewLocalFiles opens dir, creating it with owner-only permissions
func NewLocalFiles(dir, fingerprint string) (*LocalFiles, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	s, err := newSealer(fingerprint)
	if err != nil {
		return nil, err
	}
	return &LocalFiles{dir: dir, sealer: s}, nil
}

// Dir returns the directory holding the files
func (f *LocalFiles) Dir() string { return f.dir }

// LoadLicense returns the cached license, or nil when there is none. A
// record that fails its seal is still returned, together with ErrTampered.
func (f *LocalFiles) LoadLicense() (*CachedLicense, error) {
	var lic CachedLicense
	ok, err := f.load(LicenseFileName, &lic)
	if !ok {
		return nil, err
	}
	return &lic, err
}

// SaveLicense replaces the license cache
func (f *LocalFiles) SaveLicense(lic CachedLicense) error {
	return f.save(LicenseFileName, lic)
}

// LoadTrial returns the trial record, or nil when no trial was started
func (f *LocalFiles) LoadTrial() (*TrialRecord, error) {
	var trial TrialRecord
	ok, err := f.load(TrialFileName, &trial)
	if !ok {
		return nil, err
	}
	return &trial, err
}

// SaveTrial replaces the trial record
func (f *LocalFiles) SaveTrial(trial TrialRecord) error {
	return f.save(TrialFileName, trial)
}

// load reports whether the file existed. Seal failures leave whatever could
// be decoded in v.
func (f *LocalFiles) load(name string, v any) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := f.sealer.open(raw, v); err != nil {
		if errors.Is(err, ErrTampered) {
			decodeUnsealed(raw, v)
			return true, fmt.Errorf("%s: %w", name, ErrTampered)
		}
		return true, err
	}
	return true, nil
}

func (f *LocalFiles) save(name string, v any) error {
	data, err := f.sealer.seal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(f.dir, name)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict %s: %w", name, err)
	}
	return nil
}
