// Package events contains the event contracts streamed to admin dashboards
// over the license event websocket.
package events

import (
	"time"
)

// MessageType defines the type of event message
type MessageType string

const (
	MessageTypeConnect           MessageType = "connect"
	MessageTypeLicenseRegistered MessageType = "license:registered"
	MessageTypeLicenseActivated  MessageType = "license:activated"
	MessageTypeLicenseRevoked    MessageType = "license:revoked"
	MessageTypeLicenseExtended   MessageType = "license:extended"
	MessageTypeTrialStarted      MessageType = "license:trial_started"
	MessageTypeDeviceBound       MessageType = "device:bound"
	MessageTypeDeviceRejected    MessageType = "device:rejected"
)

// BaseMessage represents the base structure for all event messages
type BaseMessage struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// LicenseEvent describes a change to a license record. Keys are masked
// before they leave the server.
type LicenseEvent struct {
	BaseMessage
	Data LicenseEventData `json:"data"`
}

// LicenseEventData is the payload of a LicenseEvent
type LicenseEventData struct {
	LicenseKey        string     `json:"license_key"`
	Email             string     `json:"email,omitempty"`
	DevicesRegistered int        `json:"devices_registered,omitempty"`
	DeviceLimit       int        `json:"device_limit,omitempty"`
	Expires           *time.Time `json:"expires,omitempty"`
	Reason            string     `json:"reason,omitempty"`
}
