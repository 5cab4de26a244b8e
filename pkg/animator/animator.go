// Package animator schedules animations onto the servo channels.
//
// Any number of animations can run at once as long as their claimed channel
// sets are disjoint. Every Tick advances all of them, merges their outputs
// into one position and pushes it to the device. Completion callbacks run
// only after that push succeeded.
package animator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-bonbon/internal/log"
	"github.com/teslashibe/go-bonbon/pkg/animation"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
)

// Device is the part of the device link the scheduler drives.
type Device interface {
	SetServos(pos animation.Position) error
	Servos() animation.Position
	ImageSize() (width, height int, ok bool)
}

// Config holds the scheduler settings that can change on reload.
type Config struct {
	Ranges          animation.Ranges
	TransitionSpeed time.Duration // Default duration of generated transitions
	MaxStep         time.Duration // Per-tick advance ceiling for generated animations
	Look            LookConfig
}

// DefaultConfig returns sensible defaults. Ranges must still be provided.
func DefaultConfig() Config {
	return Config{
		TransitionSpeed: time.Second,
		MaxStep:         animation.DefaultMaxStep,
		Look:            DefaultLookConfig(),
	}
}

type entry struct {
	anim   *animation.Animation
	handle *Handle
}

// Animator owns the set of live animations.
type Animator struct {
	device   Device
	reporter protocol.Reporter
	clock    animation.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	cfg     Config
	live    map[string]*entry
	pending []func() // Callbacks registered after completion
}

// Option configures an Animator.
type Option func(*Animator)

// WithClock sets the time source used for generated animations.
func WithClock(c animation.Clock) Option {
	return func(a *Animator) { a.clock = c }
}

// New creates an Animator pushing to device.
func New(device Device, reporter protocol.Reporter, cfg Config, opts ...Option) *Animator {
	if reporter == nil {
		reporter = protocol.Discard
	}
	a := &Animator{
		device:   device,
		reporter: reporter,
		clock:    time.Now,
		logger:   log.Component("animator"),
		cfg:      cfg,
		live:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the current settings.
func (a *Animator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SetConfig replaces the settings. Live animations are not affected.
func (a *Animator) SetConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

// TransitionSpeed returns the default transition duration.
func (a *Animator) TransitionSpeed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.TransitionSpeed
}

// SetTransitionSpeed changes the default transition duration.
func (a *Animator) SetTransitionSpeed(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: transition speed must not be negative, got %v", animation.ErrInvalidInput, d)
	}
	a.mu.Lock()
	a.cfg.TransitionSpeed = d
	a.mu.Unlock()
	return nil
}

// AnimationEnded reports whether nothing is scheduled.
func (a *Animator) AnimationEnded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live) == 0
}

// Len returns the number of live animations.
func (a *Animator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// SetAnimation cancels every live animation that shares a channel with anim,
// then schedules anim. The last writer on a channel wins.
func (a *Animator) SetAnimation(anim *animation.Animation) *Handle {
	a.mu.Lock()
	var dropped []*Handle
	for key, e := range a.live {
		if e.anim.Servos().Intersects(anim.Servos()) {
			delete(a.live, key)
			dropped = append(dropped, e.handle)
		}
	}
	h := a.scheduleLocked(anim)
	a.mu.Unlock()

	for _, d := range dropped {
		d.drop()
		a.event("Preempted %q", d.name)
	}
	a.event("Started %q on %s", h.name, anim.Servos())
	return h
}

// AddAnimation schedules anim only if no live animation shares a channel
// with it. On conflict nothing changes.
func (a *Animator) AddAnimation(anim *animation.Animation) (*Handle, error) {
	a.mu.Lock()
	for _, e := range a.live {
		if e.anim.Servos().Intersects(anim.Servos()) {
			a.mu.Unlock()
			return nil, fmt.Errorf("%w: %q wants %s, %q holds %s",
				ErrConflict, anim.Name(), anim.Servos(), e.handle.name, e.anim.Servos())
		}
	}
	h := a.scheduleLocked(anim)
	a.mu.Unlock()

	a.event("Started %q on %s", h.name, anim.Servos())
	return h, nil
}

func (a *Animator) scheduleLocked(anim *animation.Animation) *Handle {
	key := uuid.NewString()
	name := anim.Name()
	if name == "" {
		name = "animation"
	}
	h := newHandle(a, key, name)
	a.live[key] = &entry{anim: anim, handle: h}
	return h
}

// Clear cancels every live animation.
func (a *Animator) Clear() {
	a.mu.Lock()
	dropped := make([]*Handle, 0, len(a.live))
	for key, e := range a.live {
		delete(a.live, key)
		dropped = append(dropped, e.handle)
	}
	a.mu.Unlock()

	for _, d := range dropped {
		d.drop()
	}
	if len(dropped) > 0 {
		a.event("Cleared %d animation(s)", len(dropped))
	}
}

func (a *Animator) remove(key string) {
	a.mu.Lock()
	e, ok := a.live[key]
	if ok {
		delete(a.live, key)
	}
	a.mu.Unlock()

	if ok {
		e.handle.drop()
		a.event("Cancelled %q", e.handle.name)
	}
}

type tickEntry struct {
	key string
	e   *entry
}

// Tick advances every live animation, pushes the merged position and then
// retires finished animations and runs their callbacks. When the push fails
// nothing is retired; the next tick tries again.
func (a *Animator) Tick() error {
	defer a.runPending()

	a.mu.Lock()
	if len(a.live) == 0 {
		a.mu.Unlock()
		a.reporter.Report(protocol.TypeAnimationState, "Animation ended")
		return nil
	}

	pos := animation.Null()
	var ended []tickEntry
	for key, e := range a.live {
		pos = pos.FillWith(e.anim.Animate())
		if e.anim.Ended() {
			ended = append(ended, tickEntry{key: key, e: e})
		}
	}
	count := len(a.live)
	a.mu.Unlock()

	a.reporter.Report(protocol.TypeAnimationState, fmt.Sprintf("Animating %d animation(s)", count))

	// Holds produce nothing to send
	if !pos.IsNull() {
		if err := a.device.SetServos(pos); err != nil {
			return fmt.Errorf("push servos: %w", err)
		}
	}

	if len(ended) == 0 {
		return nil
	}

	a.mu.Lock()
	finished := make([]*Handle, 0, len(ended))
	for _, t := range ended {
		// Skip entries cancelled or replaced during the push
		if cur, ok := a.live[t.key]; ok && cur == t.e {
			delete(a.live, t.key)
			finished = append(finished, t.e.handle)
		}
	}
	a.mu.Unlock()

	for _, h := range finished {
		a.event("Finished %q", h.name)
		h.complete()
	}
	return nil
}

// later queues fn to run at the end of the next Tick.
func (a *Animator) later(fn func()) {
	a.mu.Lock()
	a.pending = append(a.pending, fn)
	a.mu.Unlock()
}

func (a *Animator) runPending() {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// event logs a scheduler event and forwards it to the operator.
func (a *Animator) event(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	a.logger.Debug(msg)
	a.reporter.Report(protocol.TypeAnimationLog, msg)
}
