package animation

import (
	"fmt"
	"time"
)

// DefaultMaxStep caps how far a single Animate call may advance. After a
// stall (e.g. a lost connection) the animation resumes where it was instead
// of jumping between poses.
const DefaultMaxStep = 100 * time.Millisecond

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Animation plays an ordered list of frames against the wall clock.
//
// An Animation is not safe for concurrent use; the animator owns it while
// it is scheduled.
type Animation struct {
	name    string
	frames  []Frame
	runTime time.Duration
	servos  Set

	clock   Clock
	maxStep time.Duration

	// Playback state
	current  time.Duration
	previous time.Time
	seeded   bool
	ended    bool
}

// Option configures an Animation.
type Option func(*Animation)

// WithServos restricts the animation to the given channels. Every frame must
// be specified on them. The default is the specified set of the first frame.
func WithServos(servos Set) Option {
	return func(a *Animation) { a.servos = servos }
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(a *Animation) { a.clock = c }
}

// WithMaxStep sets the per-call advance ceiling.
func WithMaxStep(d time.Duration) Option {
	return func(a *Animation) { a.maxStep = d }
}

// WithName labels the animation for logs and telemetry.
func WithName(name string) Option {
	return func(a *Animation) { a.name = name }
}

// New builds an animation from frames.
func New(frames []Frame, opts ...Option) (*Animation, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: animation has no frames", ErrInvalidInput)
	}

	a := &Animation{
		servos:  frames[0].Position.Specified(),
		clock:   time.Now,
		maxStep: DefaultMaxStep,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.frames = make([]Frame, len(frames))
	var start time.Duration
	for i, f := range frames {
		if f.Still < 0 || f.Speed < 0 {
			return nil, fmt.Errorf("%w: frame %d has negative timing", ErrInvalidInput, i)
		}
		if !f.Position.Complete(a.servos) {
			missing := a.servos.Without(f.Position.Specified())
			return nil, fmt.Errorf("%w: frame %d leaves %s unspecified", ErrInvalidInput, i, missing)
		}
		f.start = start
		a.frames[i] = f
		start += f.Duration()
	}
	a.runTime = start

	return a, nil
}

// Hold builds a no-op animation lasting d. It claims servos, so scheduling
// it exclusively preempts whatever else drives them, but it only ever
// produces the null position.
func Hold(d time.Duration, servos Set, opts ...Option) *Animation {
	if d < 0 {
		d = 0
	}
	a := &Animation{
		name:    "hold",
		frames:  []Frame{{Position: Null(), Still: d}},
		runTime: d,
		clock:   time.Now,
		maxStep: DefaultMaxStep,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.servos = servos
	return a
}

// Name returns the label given with WithName.
func (a *Animation) Name() string { return a.name }

// RunTime is the sum of all frame durations.
func (a *Animation) RunTime() time.Duration { return a.runTime }

// Servos returns the claimed channel set.
func (a *Animation) Servos() Set { return a.servos }

// Elapsed returns the internal playback time.
func (a *Animation) Elapsed() time.Duration { return a.current }

// Ended reports whether playback reached RunTime.
func (a *Animation) Ended() bool { return a.ended }

// Frames returns a copy of the frames.
func (a *Animation) Frames() []Frame {
	out := make([]Frame, len(a.frames))
	copy(out, a.frames)
	return out
}

// Reset rewinds the animation so it can play again.
func (a *Animation) Reset() {
	a.current = 0
	a.seeded = false
	a.ended = false
}

// Animate advances internal time by the wall-clock time since the previous
// call and returns the pose at the new time. The first call only seeds the
// clock.
func (a *Animation) Animate() Position {
	now := a.clock()
	if !a.seeded {
		a.previous = now
		a.seeded = true
	}

	delta := now.Sub(a.previous)
	if delta < 0 {
		delta = 0
	}
	if delta > a.maxStep {
		delta = a.maxStep
	}
	a.previous = now

	a.current += delta
	if a.current >= a.runTime {
		a.ended = true
	}

	return a.Position(a.current)
}

// Position returns the pose at t, restricted to the claimed channels.
func (a *Animation) Position(t time.Duration) Position {
	if t < 0 {
		t = 0
	}

	idx := -1
	for i := range a.frames {
		if a.frames[i].contains(t) {
			idx = i
			break
		}
	}

	// Past the end: hold the final pose
	if idx < 0 {
		return a.frames[len(a.frames)-1].Position.Filter(a.servos)
	}

	prev := idx - 1
	if prev < 0 {
		prev = 0
	}
	current := a.frames[idx]
	pos := interpolateFrames(a.frames[prev], current, t-current.start)

	return pos.Filter(a.servos)
}
