package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-bonbon/pkg/animation"
)

// ErrInvalidOptions is returned when the options file fails validation.
var ErrInvalidOptions = errors.New("invalid options")

// Options is the contents of the options file.
type Options struct {
	Device    DeviceOptions    `yaml:"device"`
	Servos    ServoOptions     `yaml:"servos"`
	Animation AnimationOptions `yaml:"animation"`
	Look      LookOptions      `yaml:"look"`
	Loops     LoopOptions      `yaml:"loops"`
	Operator  OperatorOptions  `yaml:"operator"`
	Detector  DetectorOptions  `yaml:"detector"`
}

// DeviceOptions configure the device link.
type DeviceOptions struct {
	Address        string        `yaml:"address"`         // Last known device IP, updated by discovery
	Port           int           `yaml:"port"`            // Device HTTP/websocket port
	CameraTimeout  time.Duration `yaml:"camera_timeout"`  // Per-frame camera fetch timeout
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`   // Discovery probe timeout
	ReconnectDelay time.Duration `yaml:"reconnect_delay"` // Backoff after a dropped control channel
	ImageType      string        `yaml:"image_type"`      // Media subtype of camera frames ("jpeg", "png")
}

// ServoOptions hold per-channel calibration. Channels are named as on the
// wire ("neck-y", "jaw").
type ServoOptions struct {
	Ranges      map[string]animation.Range `yaml:"ranges"`
	DefaultPose map[string]float64         `yaml:"default_pose"` // Raw 0-100 values
}

// AnimationOptions configure playback and behavior.
type AnimationOptions struct {
	File            string        `yaml:"file"`             // Animation definitions (JSON)
	TransitionSpeed time.Duration `yaml:"transition_speed"` // Default transition duration
	MaxStep         time.Duration `yaml:"max_step"`         // Per-tick advance ceiling
	Search          string        `yaml:"search"`           // Animation looped while Looking
	Reactions       []string      `yaml:"reactions"`        // Picked at random on detection
	Rest            time.Duration `yaml:"rest"`             // Pause after a reaction before searching again
}

// LookOptions tune gaze following.
type LookOptions struct {
	Threshold     float64       `yaml:"threshold"`
	EyeGain       float64       `yaml:"eye_gain"`
	NeckGain      float64       `yaml:"neck_gain"`
	NeckThreshold float64       `yaml:"neck_threshold"`
	DurationScale time.Duration `yaml:"duration_scale"`
}

// LoopOptions pace the controller loops.
type LoopOptions struct {
	ServoInterval  time.Duration `yaml:"servo_interval"`
	CameraInterval time.Duration `yaml:"camera_interval"`
}

// OperatorOptions configure the operator server.
type OperatorOptions struct {
	Port   int    `yaml:"port"`
	Static string `yaml:"static"` // Directory served at /
}

// DetectorOptions configure person detection.
type DetectorOptions struct {
	Model    string  `yaml:"model"`
	MinScore float64 `yaml:"min_score"`
}

// Defaults returns the built-in options. Servo ranges have no default.
func Defaults() Options {
	return Options{
		Device: DeviceOptions{
			Port:           8080,
			CameraTimeout:  2 * time.Second,
			ProbeTimeout:   500 * time.Millisecond,
			ReconnectDelay: 3 * time.Second,
			ImageType:      "jpeg",
		},
		Animation: AnimationOptions{
			File:            "res/animations.json",
			TransitionSpeed: time.Second,
			MaxStep:         animation.DefaultMaxStep,
			Rest:            5 * time.Second,
			Search:          "look-around",
			Reactions:       []string{"wave", "shrug", "surprised"},
		},
		Look: LookOptions{
			Threshold:     0.1,
			EyeGain:       25,
			NeckGain:      15,
			NeckThreshold: 0.5,
			DurationScale: 10 * time.Millisecond,
		},
		Loops: LoopOptions{
			ServoInterval:  20 * time.Millisecond,
			CameraInterval: 100 * time.Millisecond,
		},
		Operator: OperatorOptions{
			Port:   31415,
			Static: "./web",
		},
		Detector: DetectorOptions{
			Model:    "models/yolov8n.onnx",
			MinScore: 0.5,
		},
	}
}

// Validate checks value ranges and channel names.
func (o Options) Validate() error {
	if o.Device.Port <= 0 || o.Device.Port > 65535 {
		return fmt.Errorf("%w: device.port %d out of range", ErrInvalidOptions, o.Device.Port)
	}
	if o.Operator.Port <= 0 || o.Operator.Port > 65535 {
		return fmt.Errorf("%w: operator.port %d out of range", ErrInvalidOptions, o.Operator.Port)
	}
	if o.Loops.ServoInterval <= 0 || o.Loops.CameraInterval <= 0 {
		return fmt.Errorf("%w: loop intervals must be positive", ErrInvalidOptions)
	}
	if o.Animation.TransitionSpeed < 0 || o.Animation.Rest < 0 {
		return fmt.Errorf("%w: animation timings must not be negative", ErrInvalidOptions)
	}
	if o.Animation.Search == "" {
		return fmt.Errorf("%w: animation.search is not set", ErrInvalidOptions)
	}
	if len(o.Animation.Reactions) == 0 {
		return fmt.Errorf("%w: animation.reactions is empty", ErrInvalidOptions)
	}
	for i, name := range o.Animation.Reactions {
		if name == "" {
			return fmt.Errorf("%w: animation.reactions[%d] is empty", ErrInvalidOptions, i)
		}
	}
	if o.Detector.MinScore < 0 || o.Detector.MinScore > 1 {
		return fmt.Errorf("%w: detector.min_score must be in [0, 1]", ErrInvalidOptions)
	}
	if _, err := o.ServoRanges(); err != nil {
		return err
	}
	if _, err := o.DefaultPose(); err != nil {
		return err
	}
	return nil
}

// ServoRanges converts the configured ranges into animation.Ranges.
func (o Options) ServoRanges() (animation.Ranges, error) {
	ranges := make(animation.Ranges, len(o.Servos.Ranges))
	for name, rng := range o.Servos.Ranges {
		servo, err := animation.ParseServo(name)
		if err != nil {
			return nil, fmt.Errorf("%w: servos.ranges: %v", ErrInvalidOptions, err)
		}
		ranges[servo] = rng
	}
	return ranges, nil
}

// DefaultPose maps the configured default pose through the servo ranges.
func (o Options) DefaultPose() (animation.Position, error) {
	var raw animation.Values
	for name, v := range o.Servos.DefaultPose {
		servo, err := animation.ParseServo(name)
		if err != nil {
			return animation.Position{}, fmt.Errorf("%w: servos.default_pose: %v", ErrInvalidOptions, err)
		}
		raw[servo] = animation.Num(v)
	}

	ranges, err := o.ServoRanges()
	if err != nil {
		return animation.Position{}, err
	}

	pos, err := animation.NewPosition(raw, ranges)
	if err != nil {
		return animation.Position{}, fmt.Errorf("%w: servos.default_pose: %v", ErrInvalidOptions, err)
	}
	return pos, nil
}

// clone deep-copies the maps and slices so callers cannot alias the store.
func (o Options) clone() Options {
	out := o
	if o.Servos.Ranges != nil {
		out.Servos.Ranges = make(map[string]animation.Range, len(o.Servos.Ranges))
		for k, v := range o.Servos.Ranges {
			out.Servos.Ranges[k] = v
		}
	}
	if o.Servos.DefaultPose != nil {
		out.Servos.DefaultPose = make(map[string]float64, len(o.Servos.DefaultPose))
		for k, v := range o.Servos.DefaultPose {
			out.Servos.DefaultPose[k] = v
		}
	}
	out.Animation.Reactions = append([]string(nil), o.Animation.Reactions...)
	return out
}
