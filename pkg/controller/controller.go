// Package controller is the robot's behavior: a state machine fed by person
// detections and operator commands, driving the animator through two loops.
package controller

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/teslashibe/go-bonbon/internal/config"
	"github.com/teslashibe/go-bonbon/internal/log"
	"github.com/teslashibe/go-bonbon/pkg/animation"
	"github.com/teslashibe/go-bonbon/pkg/animator"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
	"github.com/teslashibe/go-bonbon/pkg/vision"
)

// Device is the part of the device link the controller needs.
type Device interface {
	Connected() bool
	Address() string
	Servos() animation.Position
	vision.Provider
	SetCalibration(ranges animation.Ranges, defaultPose animation.Position)
}

// OptionsStore provides the current options.
type OptionsStore interface {
	Get() config.Options
	Reload() error
}

// neutralGaze is where the head returns after tracking during an animation.
var neutralGaze = func() animation.Values {
	var v animation.Values
	for _, s := range animation.HeadServos.Servos() {
		v[s] = animation.Num(50)
	}
	return v
}()

// Controller owns the behavior state.
type Controller struct {
	device   Device
	animator *animator.Animator
	detector vision.Detector
	store    OptionsStore
	reporter protocol.Reporter
	logger   *slog.Logger
	intn     func(n int) int

	mu     sync.Mutex
	state  State
	vision bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithRandom sets the source used to pick reactions. fn returns a value in
// [0, n).
func WithRandom(fn func(n int) int) Option {
	return func(c *Controller) { c.intn = fn }
}

// New creates a controller. detector may be nil, in which case frames are
// only streamed. The controller starts in Animating with nothing scheduled,
// so it rests once before it begins searching.
func New(device Device, anim *animator.Animator, detector vision.Detector, store OptionsStore, reporter protocol.Reporter, opts ...Option) *Controller {
	if reporter == nil {
		reporter = protocol.Discard
	}
	c := &Controller{
		device:   device,
		animator: anim,
		detector: detector,
		store:    store,
		reporter: reporter,
		logger:   log.Component("controller"),
		intn:     rand.Intn,
		state:    Animating,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current behavior state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Vision reports whether camera frames are streamed to the operator.
func (c *Controller) Vision() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vision
}

// setStateLocked changes the state and reports it. c.mu must be held.
func (c *Controller) setStateLocked(s State) {
	if c.state != s {
		c.logger.Info("state changed", "from", c.state, "to", s)
	}
	c.state = s
	c.reporter.Report(protocol.TypeControllerState, s.String())
}

// logf reports an operator-visible log line.
func (c *Controller) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.logger.Info(msg)
	c.reporter.Report(protocol.TypeLog, msg)
}

// definition loads one animation definition. The file is re-read every
// time so edits apply without a restart.
func (c *Controller) definition(name string) (*animation.Definition, error) {
	defs, err := animation.LoadDefinitions(c.store.Get().Animation.File)
	if err != nil {
		return nil, err
	}
	return defs.Find(name)
}

// AnimationNames lists the animations in the definitions file.
func (c *Controller) AnimationNames() ([]string, error) {
	defs, err := animation.LoadDefinitions(c.store.Get().Animation.File)
	if err != nil {
		return nil, err
	}
	return defs.Names(), nil
}

// playLocked plays def exclusively and enters the matching animating state.
// An animation that tracks while playing returns the gaze to neutral when it
// finishes. c.mu must be held.
func (c *Controller) playLocked(def *animation.Definition) error {
	h, err := c.animator.Play(def)
	if err != nil {
		return err
	}

	if !def.LookWhileAnimating {
		c.setStateLocked(Animating)
		return nil
	}

	c.setStateLocked(LookingAtAndAnimating)
	h.OnComplete(c.returnGaze)
	return nil
}

func (c *Controller) returnGaze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != LookingAtAndAnimating {
		return
	}

	if _, err := c.animator.AnimateToRaw(neutralGaze); err != nil {
		c.logger.Warn("failed to return gaze", "error", err)
	}
	c.setStateLocked(Animating)
}

// enterLookingLocked starts the search loop. c.mu must be held.
func (c *Controller) enterLookingLocked() {
	c.setStateLocked(Looking)
	if err := c.searchLocked(); err != nil {
		c.logf("Error starting search animation: %v", err)
	}
}

// searchLocked plays the search animation once and re-plays it from its
// own completion while the state is still Looking.
func (c *Controller) searchLocked() error {
	name := c.store.Get().Animation.Search
	if name == "" {
		return fmt.Errorf("%w: animation.search is not set", animation.ErrNotFound)
	}
	def, err := c.definition(name)
	if err != nil {
		return err
	}
	h, err := c.animator.Play(def)
	if err != nil {
		return err
	}
	h.OnComplete(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != Looking {
			return
		}
		if err := c.searchLocked(); err != nil {
			c.logf("Error restarting search animation: %v", err)
		}
	})
	return nil
}

// reactLocked replaces the search with a random reaction. c.mu must be held.
func (c *Controller) reactLocked() error {
	reactions := c.store.Get().Animation.Reactions
	if len(reactions) == 0 {
		return ErrNoReactions
	}
	name := reactions[c.intn(len(reactions))]

	def, err := c.definition(name)
	if err != nil {
		return err
	}

	c.animator.Clear()
	if err := c.playLocked(def); err != nil {
		return err
	}
	c.logf("Reacting with %q", name)
	return nil
}

// Status is a snapshot for the operator.
type Status struct {
	State     State
	Vision    bool
	Connected bool
	Address   string
	Servos    animation.Position
	Animating int
}

// Status returns a snapshot of the controller and device.
func (c *Controller) Status() Status {
	c.mu.Lock()
	state, vision := c.state, c.vision
	c.mu.Unlock()

	return Status{
		State:     state,
		Vision:    vision,
		Connected: c.device.Connected(),
		Address:   c.device.Address(),
		Servos:    c.device.Servos(),
		Animating: c.animator.Len(),
	}
}
