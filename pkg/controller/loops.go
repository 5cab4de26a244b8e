package controller

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-bonbon/pkg/animator"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
	"github.com/teslashibe/go-bonbon/pkg/vision"
)

// Run drives the servo and camera loops until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.setStateLocked(c.state)
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.RunServoLoop(ctx) })
	g.Go(func() error { return c.RunCameraLoop(ctx) })
	return g.Wait()
}

// RunServoLoop ticks the animator every servo interval.
func (c *Controller) RunServoLoop(ctx context.Context) error {
	return c.loop(ctx, protocol.TypeServoCycle,
		func() time.Duration { return c.store.Get().Loops.ServoInterval },
		func(context.Context) { c.servoTick() })
}

// RunCameraLoop fetches and evaluates a camera frame every camera interval.
func (c *Controller) RunCameraLoop(ctx context.Context) error {
	return c.loop(ctx, protocol.TypeCameraCycle,
		func() time.Duration { return c.store.Get().Loops.CameraInterval },
		c.cameraTick)
}

// loop runs sleep, work, report until ctx is cancelled. Iterations are
// skipped while the device is disconnected. The interval is re-read every
// iteration so reloaded options apply.
func (c *Controller) loop(ctx context.Context, cycle protocol.MessageType, interval func() time.Duration, work func(context.Context)) error {
	last := time.Now()
	for {
		timer := time.NewTimer(interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if !c.device.Connected() {
			last = time.Now()
			continue
		}

		work(ctx)

		now := time.Now()
		c.reporter.Report(cycle, protocol.CycleHz(now.Sub(last).Seconds()))
		last = now
	}
}

// servoTick advances the animator. When it runs dry after an animation, a
// rest period is scheduled whose end starts the search.
func (c *Controller) servoTick() {
	if err := c.animator.Tick(); err != nil {
		c.logger.Warn("servo tick failed", "error", err)
		return
	}
	if !c.animator.AnimationEnded() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.animating() {
		return
	}

	rest := c.store.Get().Animation.Rest
	c.animator.Idle(rest).OnComplete(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state.animating() {
			c.enterLookingLocked()
		}
	})
}

// cameraTick fetches one frame, streams it when vision is on, runs the
// detector and hands a found person to the state machine.
func (c *Controller) cameraTick(ctx context.Context) {
	c.mu.Lock()
	state, streaming := c.state, c.vision
	c.mu.Unlock()

	if !streaming && !state.watching() {
		return
	}

	img, err := c.device.CaptureFrame(ctx)
	if err != nil {
		c.logger.Debug("camera frame failed", "error", err)
		return
	}

	if streaming {
		imageType := c.store.Get().Device.ImageType
		c.reporter.Report(protocol.TypeVision, protocol.VisionDataURI(imageType, img))
	}

	if c.detector == nil {
		return
	}

	start := time.Now()
	box, err := vision.FirstPerson(c.detector, img)
	if err != nil {
		c.logger.Warn("detection failed", "error", err)
		return
	}
	c.logger.Debug("detection", "took", time.Since(start), "person", box != nil)

	if box == nil {
		c.reporter.Report(protocol.TypePersonBBox, []float64{})
		return
	}
	c.reporter.Report(protocol.TypePersonBBox, box)
	c.onPerson(*box)
}

// onPerson reacts to a detection according to the current state.
func (c *Controller) onPerson(box vision.BoundingBox) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Looking:
		if err := c.reactLocked(); err != nil {
			c.logf("Error starting reaction: %v", err)
		}

	case LookingAt, LookingAtAndAnimating:
		if _, err := c.animator.LookAt(box); err != nil {
			if errors.Is(err, animator.ErrNoImageSize) {
				c.logger.Debug("camera size not known yet")
				return
			}
			c.logger.Warn("look at failed", "error", err)
		}
	}
}
