package controller

import (
	"github.com/teslashibe/go-bonbon/internal/config"
	"github.com/teslashibe/go-bonbon/pkg/animation"
	"github.com/teslashibe/go-bonbon/pkg/animator"
)

// Calibration is the per-channel data derived from the options file.
type Calibration struct {
	Ranges      animation.Ranges
	DefaultPose animation.Position
}

// LoadCalibration reads ranges and the default pose from opts.
func LoadCalibration(opts config.Options) (Calibration, error) {
	ranges, err := opts.ServoRanges()
	if err != nil {
		return Calibration{}, err
	}
	pose, err := opts.DefaultPose()
	if err != nil {
		return Calibration{}, err
	}
	return Calibration{Ranges: ranges, DefaultPose: pose}, nil
}

// AnimatorConfig builds the scheduler settings from opts.
func AnimatorConfig(opts config.Options, ranges animation.Ranges) animator.Config {
	return animator.Config{
		Ranges:          ranges,
		TransitionSpeed: opts.Animation.TransitionSpeed,
		MaxStep:         opts.Animation.MaxStep,
		Look: animator.LookConfig{
			Threshold:     opts.Look.Threshold,
			EyeGain:       opts.Look.EyeGain,
			NeckGain:      opts.Look.NeckGain,
			NeckThreshold: opts.Look.NeckThreshold,
			DurationScale: opts.Look.DurationScale,
		},
	}
}
