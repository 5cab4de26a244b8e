package animator

import "errors"

var (
	// ErrConflict is returned by AddAnimation when a live animation already
	// claims one of the new animation's channels.
	ErrConflict = errors.New("servo channels already claimed")

	// ErrNoImageSize is returned by LookAt before the first camera frame has
	// been fetched.
	ErrNoImageSize = errors.New("camera image size unknown")
)
