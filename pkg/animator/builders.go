package animator

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-bonbon/pkg/animation"
)

func (a *Animator) animationOptions(name string, servos animation.Set) []animation.Option {
	a.mu.Lock()
	maxStep := a.cfg.MaxStep
	a.mu.Unlock()
	if maxStep <= 0 {
		maxStep = animation.DefaultMaxStep
	}
	return []animation.Option{
		animation.WithName(name),
		animation.WithServos(servos),
		animation.WithClock(a.clock),
		animation.WithMaxStep(maxStep),
	}
}

// Transition moves the target's specified channels from the device's last
// known position to target over d, preempting whatever drives them. Channels
// the device has no value for jump straight to the target. When the device
// is already there the transition takes no time.
func (a *Animator) Transition(target animation.Position, d time.Duration) (*Handle, error) {
	servos := target.Specified()
	if servos.Empty() {
		return nil, fmt.Errorf("%w: target position has no values", animation.ErrInvalidInput)
	}
	if d < 0 {
		d = 0
	}

	start := a.device.Servos().Filter(servos).FillWith(target)
	if start.Equal(target) {
		d = 0
	}

	anim, err := animation.New([]animation.Frame{
		{Position: start},
		{Position: target, Speed: d},
	}, a.animationOptions("transition", servos)...)
	if err != nil {
		return nil, err
	}

	return a.SetAnimation(anim), nil
}

// AnimateToPosition transitions to target at the default transition speed.
func (a *Animator) AnimateToPosition(target animation.Position) (*Handle, error) {
	return a.Transition(target, a.TransitionSpeed())
}

// AnimateToRaw maps raw (0-100) values through the configured ranges and
// transitions to them at the default transition speed.
func (a *Animator) AnimateToRaw(raw animation.Values) (*Handle, error) {
	target, err := animation.NewPosition(raw, a.Config().Ranges)
	if err != nil {
		return nil, err
	}
	return a.AnimateToPosition(target)
}

// Idle schedules a hold of length d over every channel. It outputs nothing,
// so the servos keep their last value, and its completion callback marks the
// end of a rest period.
func (a *Animator) Idle(d time.Duration) *Handle {
	anim := animation.Hold(d, animation.All(), a.animationOptions("idle", animation.All())...)
	return a.SetAnimation(anim)
}

// LoadAnimation schedules frames on servos, starting from wherever the robot
// currently is. A synthetic first frame holds the device's current position
// and the first authored frame is reached at the default transition speed.
// Exclusive scheduling preempts conflicting animations; otherwise a conflict
// fails with ErrConflict.
func (a *Animator) LoadAnimation(name string, frames []animation.Frame, servos animation.Set, exclusive bool) (*Handle, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: animation %q has no frames", animation.ErrInvalidInput, name)
	}

	first := frames[0]
	first.Speed = a.TransitionSpeed()

	start := a.device.Servos().Filter(servos).FillWith(first.Position.Filter(servos))

	all := make([]animation.Frame, 0, len(frames)+1)
	all = append(all, animation.Frame{Position: start}, first)
	all = append(all, frames[1:]...)

	anim, err := animation.New(all, a.animationOptions(name, servos)...)
	if err != nil {
		return nil, err
	}

	if exclusive {
		return a.SetAnimation(anim), nil
	}
	return a.AddAnimation(anim)
}

// Play builds def with the configured ranges and schedules it exclusively.
func (a *Animator) Play(def *animation.Definition) (*Handle, error) {
	frames, servos, err := def.Build(a.Config().Ranges)
	if err != nil {
		return nil, err
	}
	return a.LoadAnimation(def.Name, frames, servos, true)
}
