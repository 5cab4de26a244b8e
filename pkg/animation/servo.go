// Package animation provides the keyframe model used to drive Bon-Bon's servos.
//
// A Position assigns a value (or "unspecified") to every servo channel. A Frame
// is a Position plus how long the transition into it takes and how long it is
// held. An Animation plays an ordered list of Frames against the wall clock and
// produces a Position for any point in time.
package animation

import (
	"fmt"
	"strings"
)

// Servo identifies one servo channel.
//
// Do not reorder: the declaration order is the wire order used when sending
// a Position to the device.
type Servo int

const (
	LeftShoulderX Servo = iota
	LeftShoulderY
	LeftElbow
	RightShoulderX
	RightShoulderY
	RightElbow
	NeckX
	NeckY
	EyeX
	EyeY
	Eyelids
	Jaw

	// NumServos is the number of channels.
	NumServos
)

var servoNames = [NumServos]string{
	LeftShoulderX:  "left-shoulder-x",
	LeftShoulderY:  "left-shoulder-y",
	LeftElbow:      "left-elbow",
	RightShoulderX: "right-shoulder-x",
	RightShoulderY: "right-shoulder-y",
	RightElbow:     "right-elbow",
	NeckX:          "neck-x",
	NeckY:          "neck-y",
	EyeX:           "eye-x",
	EyeY:           "eye-y",
	Eyelids:        "eyelids",
	Jaw:            "jaw",
}

// Servos returns every channel in wire order.
func Servos() []Servo {
	out := make([]Servo, NumServos)
	for i := range out {
		out[i] = Servo(i)
	}
	return out
}

// String returns the channel name used in animation files and commands.
func (s Servo) String() string {
	if s < 0 || s >= NumServos {
		return fmt.Sprintf("servo(%d)", int(s))
	}
	return servoNames[s]
}

// ParseServo resolves a channel name.
func ParseServo(name string) (Servo, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range servoNames {
		if n == name {
			return Servo(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown servo %q", ErrInvalidInput, name)
}

// MarshalText implements encoding.TextMarshaler so Servo can key JSON/YAML maps.
func (s Servo) MarshalText() ([]byte, error) {
	if s < 0 || s >= NumServos {
		return nil, fmt.Errorf("%w: servo %d out of range", ErrInvalidInput, int(s))
	}
	return []byte(servoNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Servo) UnmarshalText(text []byte) error {
	v, err := ParseServo(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Set is a set of servo channels.
type Set uint32

// HeadServos are the gaze channels. Animations flagged keepHeadStill or
// lookWhileAnimating never claim them.
var HeadServos = NewSet(NeckY, EyeX, EyeY)

// NewSet builds a Set from the given channels.
func NewSet(servos ...Servo) Set {
	var s Set
	for _, servo := range servos {
		s = s.Add(servo)
	}
	return s
}

// All returns the set of every channel.
func All() Set {
	return Set(1<<uint(NumServos) - 1)
}

// Add returns s with servo included.
func (s Set) Add(servo Servo) Set { return s | 1<<uint(servo) }

// Has reports whether servo is in s.
func (s Set) Has(servo Servo) bool { return s&(1<<uint(servo)) != 0 }

// Union returns s ∪ o.
func (s Set) Union(o Set) Set { return s | o }

// Without returns s \ o.
func (s Set) Without(o Set) Set { return s &^ o }

// Intersects reports whether s and o share a channel.
func (s Set) Intersects(o Set) bool { return s&o != 0 }

// Empty reports whether s has no channels.
func (s Set) Empty() bool { return s == 0 }

// Len returns the number of channels in s.
func (s Set) Len() int {
	n := 0
	for v := s; v != 0; v &= v - 1 {
		n++
	}
	return n
}

// Servos lists the channels of s in wire order.
func (s Set) Servos() []Servo {
	var out []Servo
	for i := Servo(0); i < NumServos; i++ {
		if s.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (s Set) String() string {
	names := make([]string, 0, s.Len())
	for _, servo := range s.Servos() {
		names = append(names, servo.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}
