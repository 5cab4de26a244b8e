package animation

import "errors"

var (
	// ErrNotFound is returned when a named animation is not defined.
	ErrNotFound = errors.New("animation not found")

	// ErrUnmapped is returned when a channel is used without a configured range.
	ErrUnmapped = errors.New("servo unmapped")

	// ErrInvalidInput is returned for malformed positions, frames or animation data.
	ErrInvalidInput = errors.New("invalid input")
)
