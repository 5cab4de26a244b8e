package animator

import (
	"math"
	"time"

	"github.com/teslashibe/go-bonbon/pkg/animation"
	"github.com/teslashibe/go-bonbon/pkg/vision"
)

// LookConfig tunes LookAt. Offsets are the horizontal distance of the target
// from the image center as a fraction of half the image width, in [-1, 1].
// Gains are raw channel units per unit of offset; a negative gain flips the
// direction for servos mounted the other way round.
type LookConfig struct {
	Threshold     float64       // Dead zone: no correction at or below this offset
	EyeGain       float64       // eye-x correction at full offset
	NeckGain      float64       // neck-y correction at full offset
	NeckThreshold float64       // The neck only joins in above this offset
	DurationScale time.Duration // Transition time per raw unit of the largest correction
}

// DefaultLookConfig returns defaults tuned for a 320px wide camera.
func DefaultLookConfig() LookConfig {
	return LookConfig{
		Threshold:     0.1,
		EyeGain:       25,
		NeckGain:      15,
		NeckThreshold: 0.5,
		DurationScale: 10 * time.Millisecond,
	}
}

// LookAt takes one proportional step of the gaze toward box. It returns a
// nil handle and no error when the target is already inside the dead zone,
// and ErrNoImageSize before the camera has reported its dimensions.
func (a *Animator) LookAt(box vision.BoundingBox) (*Handle, error) {
	width, _, ok := a.device.ImageSize()
	if !ok || width <= 0 {
		return nil, ErrNoImageSize
	}

	cfg := a.Config()
	look := cfg.Look

	half := float64(width) / 2
	cx, _ := box.Center()
	offset := clamp((cx-half)/half, -1, 1)
	if math.Abs(offset) <= look.Threshold {
		return nil, nil
	}

	deltas := map[animation.Servo]float64{
		animation.EyeX: offset * look.EyeGain,
	}
	if math.Abs(offset) > look.NeckThreshold {
		deltas[animation.NeckY] = offset * look.NeckGain
	}

	current, err := a.device.Servos().Filter(animation.HeadServos).Unmap(cfg.Ranges)
	if err != nil {
		return nil, err
	}

	var raw animation.Values
	largest := 0.0
	for servo, delta := range deltas {
		base, ok := current[servo].Float()
		if !ok {
			base = 50
		}
		target := clamp(base+delta, 0, 100)
		raw[servo] = animation.Num(target)
		largest = math.Max(largest, math.Abs(target-base))
	}

	target, err := animation.NewPosition(raw, cfg.Ranges)
	if err != nil {
		return nil, err
	}

	d := time.Duration(largest * float64(look.DurationScale))
	return a.Transition(target, d)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
