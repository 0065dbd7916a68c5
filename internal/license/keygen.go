package license

import (
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// KeyPrefix starts every license key
const KeyPrefix = "ES-"

var keyPattern = regexp.MustCompile(`^ES-[0-9A-F]{32}$`)

// GenerateKey draws 16 random bytes and formats them as a license key
func GenerateKey(random io.Reader) (string, error) {
	var buf [16]byte
	if _, err := io.ReadFull(random, buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return KeyPrefix + strings.ToUpper(hex.EncodeToString(buf[:])), nil
}

// ValidKey reports whether key has the license key format
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
