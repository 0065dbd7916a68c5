package client

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"os"
	"strings"
)

// unknownHost is hashed when neither a MAC address nor a hostname is available
const unknownHost = "unknown-host"

// hostIdentity supplies the machine attributes the fingerprint is built from
type hostIdentity struct {
	interfaces func() ([]net.Interface, error)
	hostname   func() (string, error)
}

var systemIdentity = hostIdentity{
	interfaces: net.Interfaces,
	hostname:   os.Hostname,
}

// ComputeFingerprint returns the SHA-256 hex digest of "mac:hostname" for
// this machine. It degrades to the hostname alone and then to a fixed
// placeholder, so it always returns a value.
func ComputeFingerprint() string {
	return systemIdentity.fingerprint()
}

func (h hostIdentity) fingerprint() string {
	host, hostErr := h.hostname()
	host = strings.TrimSpace(host)
	if hostErr != nil || host == "" {
		slog.Warn("hostname unavailable for fingerprint")
		host = ""
	}

	mac := h.primaryMAC()
	switch {
	case mac != "" && host != "":
		return digest(mac + ":" + host)
	case host != "":
		slog.Warn("no hardware address found, fingerprint uses hostname only")
		return digest(host)
	default:
		return digest(unknownHost)
	}
}

// primaryMAC returns the first up, non-loopback hardware address, falling
// back to any interface that has one
func (h hostIdentity) primaryMAC() string {
	ifaces, err := h.interfaces()
	if err != nil {
		slog.Debug("failed to list network interfaces", slog.String("error", err.Error()))
		return ""
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := usableMAC(iface.HardwareAddr); mac != "" {
			return mac
		}
	}
	for _, iface := range ifaces {
		if mac := usableMAC(iface.HardwareAddr); mac != "" {
			return mac
		}
	}
	return ""
}

func usableMAC(addr net.HardwareAddr) string {
	if len(addr) == 0 {
		return ""
	}
	mac := addr.String()
	if mac == "00:00:00:00:00:00" {
		return ""
	}
	return mac
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
