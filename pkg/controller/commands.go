package controller

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/teslashibe/go-bonbon/pkg/animation"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
)

// maxTransitionMillis is the longest transition speed a time.Duration holds.
const maxTransitionMillis = float64(math.MaxInt64 / int64(time.Millisecond))

// HandleCommand executes one operator command. It never panics and never
// returns an error: failures are logged and reported to the operator.
func (c *Controller) HandleCommand(clientID string, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling command", "client", clientID, "type", msg.Type, "panic", r)
			c.reporter.Report(protocol.TypeLog, "Fatal exception occurred!")
		}
	}()

	c.logger.Debug("command", "client", clientID, "type", msg.Type)

	if err := c.handle(msg); err != nil {
		c.logger.Warn("command failed", "client", clientID, "type", msg.Type, "error", err)
		c.reporter.Report(protocol.TypeLog, "Error processing input: "+err.Error())
	}
}

func (c *Controller) handle(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeStartAnimation:
		name, err := msg.Text()
		if err != nil {
			return err
		}
		return c.StartAnimation(name)

	case protocol.TypeSetPosition:
		raw, err := positionData(msg)
		if err != nil {
			return err
		}
		return c.SetPosition(raw)

	case protocol.TypeSetState:
		name, err := msg.Text()
		if err != nil {
			return err
		}
		return c.SetState(name)

	case protocol.TypeSetVision:
		text, err := msg.Text()
		if err != nil {
			return err
		}
		on, err := strconv.ParseBool(text)
		if err != nil {
			return fmt.Errorf("%w: vision must be true or false, got %q", ErrInvalidCommand, text)
		}
		c.SetVision(on)
		return nil

	case protocol.TypeReloadOptions:
		return c.ReloadOptions()

	case protocol.TypeSetTransitionSpeed:
		text, err := msg.Text()
		if err != nil {
			return err
		}
		ms, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("%w: couldn't convert %q to a number", ErrInvalidCommand, text)
		}
		if math.IsNaN(ms) || math.IsInf(ms, 0) || ms > maxTransitionMillis {
			return fmt.Errorf("%w: transition speed %q is out of range", ErrInvalidCommand, text)
		}
		return c.SetTransitionSpeed(time.Duration(ms * float64(time.Millisecond)))

	default:
		c.reporter.Report(protocol.TypeLog, fmt.Sprintf("Invalid command type %q", msg.Type))
		return nil
	}
}

// positionData accepts the channel object directly or as a JSON string.
func positionData(msg *protocol.Message) (animation.Values, error) {
	data := bytes.TrimSpace(msg.Data)
	if len(data) > 0 && data[0] == '"' {
		text, err := msg.Text()
		if err != nil {
			return animation.Values{}, err
		}
		data = []byte(text)
	}
	return animation.ParseValues(data)
}

// StartAnimation plays the named animation exclusively.
func (c *Controller) StartAnimation(name string) error {
	def, err := c.definition(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.playLocked(def); err != nil {
		return err
	}
	c.logf("Started animation %q", name)
	return nil
}

// SetPosition moves to raw channel values at the transition speed.
func (c *Controller) SetPosition(raw animation.Values) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.animator.AnimateToRaw(raw); err != nil {
		return err
	}
	c.setStateLocked(Animating)
	return nil
}

// SetState switches to idle, looking or look-at.
func (c *Controller) SetState(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch name {
	case "idle":
		c.animator.Clear()
		c.setStateLocked(Idle)
	case "looking":
		c.animator.Clear()
		c.enterLookingLocked()
	case "look-at":
		c.setStateLocked(LookingAt)
	default:
		return fmt.Errorf("%w '%s'", ErrUnknownState, name)
	}
	return nil
}

// SetVision turns the camera stream to the operator on or off.
func (c *Controller) SetVision(on bool) {
	c.mu.Lock()
	c.vision = on
	c.mu.Unlock()
	c.logf("Set vision to '%t'", on)
}

// ReloadOptions re-reads the options file and applies the calibration and
// scheduler settings. Live animations keep the values they were built with.
func (c *Controller) ReloadOptions() error {
	if err := c.store.Reload(); err != nil {
		return err
	}
	opts := c.store.Get()

	cal, err := LoadCalibration(opts)
	if err != nil {
		return err
	}
	c.animator.SetConfig(AnimatorConfig(opts, cal.Ranges))
	c.device.SetCalibration(cal.Ranges, cal.DefaultPose)

	c.logf("Reloaded options")
	return nil
}

// SetTransitionSpeed changes the default transition duration.
func (c *Controller) SetTransitionSpeed(d time.Duration) error {
	if err := c.animator.SetTransitionSpeed(d); err != nil {
		return err
	}
	c.logf("Set transition speed to: %v", d)
	return nil
}
