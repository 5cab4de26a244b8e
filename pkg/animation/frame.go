package animation

import (
	"fmt"
	"time"
)

// Frame is a pose plus timing: Speed is how long the transition into the
// pose takes, Still is how long it is held afterwards.
type Frame struct {
	Position Position
	Still    time.Duration
	Speed    time.Duration

	start time.Duration
}

// NewFrame validates that pos is specified on every channel in servos.
func NewFrame(pos Position, still, speed time.Duration, servos Set) (Frame, error) {
	if still < 0 || speed < 0 {
		return Frame{}, fmt.Errorf("%w: negative frame timing (still=%v speed=%v)", ErrInvalidInput, still, speed)
	}
	if !pos.Complete(servos) {
		missing := servos.Without(pos.Specified())
		return Frame{}, fmt.Errorf("%w: frame leaves %s unspecified", ErrInvalidInput, missing)
	}
	return Frame{Position: pos, Still: still, Speed: speed}, nil
}

// Duration is the total time the frame occupies.
func (f Frame) Duration() time.Duration {
	return f.Still + f.Speed
}

// Start is the offset of the frame from the beginning of its animation.
func (f Frame) Start() time.Duration {
	return f.start
}

// contains reports whether t falls in [start, start+duration).
func (f Frame) contains(t time.Duration) bool {
	since := t - f.start
	return since >= 0 && since < f.Duration()
}

// interpolateFrames returns the pose at since into current, coming from prev.
// Once the transition portion is over the exact current pose is returned.
func interpolateFrames(prev, current Frame, since time.Duration) Position {
	if current.Speed <= 0 || since >= current.Speed {
		return current.Position
	}
	p := float64(since) / float64(current.Speed)
	return Interpolate(prev.Position, current.Position, p)
}
