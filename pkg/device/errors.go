package device

import "errors"

var (
	// ErrTimeout is returned when a device request runs out of time.
	ErrTimeout = errors.New("device request timed out")

	// ErrConnectionLost is returned when the control channel fails mid-write.
	ErrConnectionLost = errors.New("device connection lost")

	// ErrNotConnected is returned by SetServos while the control channel is down.
	ErrNotConnected = errors.New("device not connected")

	// ErrNoDevice is returned when discovery finds nothing on the subnet.
	ErrNoDevice = errors.New("no device found")
)
