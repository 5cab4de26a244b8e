// Package protocol defines the WebSocket message types for the operator link.
// This package is shared between the controller and the operator server.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → Operator telemetry
	TypeVision             MessageType = "vision"               // Camera frame as data URI
	TypePersonBBox         MessageType = "person-bbox"          // [x, y, w, h] or empty
	TypeCameraResponseTime MessageType = "camera-response-time" // "<n>ms" or "TIMED OUT"
	TypeLog                MessageType = "log"                  // Operator-visible log line
	TypeAnimationLog       MessageType = "animation-log"        // Scheduler events
	TypeAnimationState     MessageType = "animation-state"      // Scheduler summary
	TypeControllerState    MessageType = "controller-state"     // Behavior state name
	TypeServoCycle         MessageType = "servo-cycle"          // Servo loop rate (Hz)
	TypeCameraCycle        MessageType = "camera-cycle"         // Camera loop rate (Hz)
	TypeCurrentServos      MessageType = "current-servos"       // Mapped values, wire order
	TypeCurrentRawServos   MessageType = "current-raw-servos"   // Raw 0-100 values, wire order

	// Operator → Server commands
	TypeStartAnimation     MessageType = "start-animation"      // Animation name
	TypeSetPosition        MessageType = "set-position"         // {channel: raw value}
	TypeSetState           MessageType = "set-state"            // idle | looking | look-at
	TypeSetVision          MessageType = "set-vision"           // "true" | "false"
	TypeReloadOptions      MessageType = "reload-options"       // No data
	TypeSetTransitionSpeed MessageType = "set-transition-speed" // Milliseconds
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Text returns the data as a string. Operator clients send most payloads as
// JSON strings but some send bare values ("500" vs 500, "true" vs true), so
// a string is unquoted and anything else is returned as its JSON text.
func (m *Message) Text() (string, error) {
	raw := bytes.TrimSpace(m.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("failed to parse message text: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Reporting
// =============================================================================

// Reporter publishes telemetry to the operator. Implementations must be safe
// for concurrent use and must not block on slow clients.
type Reporter interface {
	Report(msgType MessageType, data interface{})
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(msgType MessageType, data interface{})

// Report calls f.
func (f ReporterFunc) Report(msgType MessageType, data interface{}) { f(msgType, data) }

// Discard is a Reporter that drops everything.
var Discard Reporter = ReporterFunc(func(MessageType, interface{}) {})
