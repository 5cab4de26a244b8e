package animation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Value is a servo value or the sentinel "unspecified" (leave the channel
// untouched). The zero Value is unspecified.
type Value struct {
	v  float64
	ok bool
}

// Num returns a specified Value.
func Num(v float64) Value { return Value{v: v, ok: true} }

// Unspecified returns the unspecified Value.
func Unspecified() Value { return Value{} }

// Specified reports whether v holds a number.
func (v Value) Specified() bool { return v.ok }

// Float returns the number and whether it is specified.
func (v Value) Float() (float64, bool) { return v.v, v.ok }

// MarshalJSON encodes unspecified as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v.v, 'f', -1, 64)), nil
}

// UnmarshalJSON decodes null as unspecified.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: servo value %s is not a number", ErrInvalidInput, data)
	}
	*v = Num(f)
	return nil
}

func (v Value) String() string {
	if !v.ok {
		return "-"
	}
	return strconv.FormatFloat(v.v, 'f', 2, 64)
}

// Values is a per-channel assignment indexed by Servo. It carries no
// information about whether the numbers are raw or mapped.
type Values [NumServos]Value

// ParseValues strictly decodes a JSON object of {channel: value}. Unknown
// channels are rejected; missing channels are unspecified.
func ParseValues(data []byte) (Values, error) {
	var vals Values
	if err := json.Unmarshal(data, &vals); err != nil {
		return Values{}, err
	}
	return vals, nil
}

// UnmarshalJSON implements the strict object form used by ParseValues.
func (vs *Values) UnmarshalJSON(data []byte) error {
	var raw map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: position must be an object of servo values: %v", ErrInvalidInput, err)
	}
	var out Values
	for name, value := range raw {
		servo, err := ParseServo(name)
		if err != nil {
			return err
		}
		out[servo] = value
	}
	*vs = out
	return nil
}

// MarshalJSON encodes the object form, omitting nothing.
func (vs Values) MarshalJSON() ([]byte, error) {
	m := make(map[string]Value, NumServos)
	for i, v := range vs {
		m[Servo(i).String()] = v
	}
	return json.Marshal(m)
}

// Range is the physical min/max of a channel.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Ranges holds the configured range of each channel.
type Ranges map[Servo]Range

// Map scales a raw (0-100) value into the channel's physical range.
func (r Ranges) Map(servo Servo, raw float64) (float64, error) {
	rng, ok := r[servo]
	if !ok {
		return 0, fmt.Errorf("%w: no range configured for %s", ErrUnmapped, servo)
	}
	return rng.Min + (clamp(raw, 0, 100)/100)*(rng.Max-rng.Min), nil
}

// Unmap converts a physical value back to the 0-100 range.
func (r Ranges) Unmap(servo Servo, mapped float64) (float64, error) {
	rng, ok := r[servo]
	if !ok {
		return 0, fmt.Errorf("%w: no range configured for %s", ErrUnmapped, servo)
	}
	if rng.Max == rng.Min {
		return 0, nil
	}
	return round2((mapped - rng.Min) / (rng.Max - rng.Min) * 100), nil
}

// Position is a full assignment of mapped values to every channel.
// Positions are values: copying one never aliases another.
type Position struct {
	values Values
}

// Null returns the position with every channel unspecified. It is the
// identity element for FillWith.
func Null() Position { return Position{} }

// NewPosition maps raw (0-100) values through ranges. Only specified
// channels need a range.
func NewPosition(raw Values, ranges Ranges) (Position, error) {
	var p Position
	for i, v := range raw {
		f, ok := v.Float()
		if !ok {
			continue
		}
		mapped, err := ranges.Map(Servo(i), f)
		if err != nil {
			return Position{}, err
		}
		p.values[i] = Num(mapped)
	}
	return p, nil
}

// MappedPosition wraps values that are already in physical units.
func MappedPosition(values Values) Position {
	return Position{values: values}
}

// PositionFromArray decodes the wire form: values in channel order, null for
// unspecified. Short arrays leave the trailing channels unspecified.
func PositionFromArray(arr []*float64) (Position, error) {
	if len(arr) > int(NumServos) {
		return Position{}, fmt.Errorf("%w: got %d servo values, want at most %d", ErrInvalidInput, len(arr), NumServos)
	}
	var p Position
	for i, v := range arr {
		if v != nil {
			p.values[i] = Num(*v)
		}
	}
	return p, nil
}

// Get returns the value of one channel.
func (p Position) Get(servo Servo) Value { return p.values[servo] }

// With returns a copy of p with servo set to the mapped value v.
func (p Position) With(servo Servo, v float64) Position {
	p.values[servo] = Num(v)
	return p
}

// Values returns a copy of the per-channel values.
func (p Position) Values() Values { return p.values }

// Array returns the wire form of p.
func (p Position) Array() []*float64 {
	out := make([]*float64, NumServos)
	for i, v := range p.values {
		if f, ok := v.Float(); ok {
			out[i] = &f
		}
	}
	return out
}

// MarshalJSON encodes p in wire order.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.values[:])
}

// UnmarshalJSON decodes the wire form.
func (p *Position) UnmarshalJSON(data []byte) error {
	var arr []*float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("%w: servo state must be an array: %v", ErrInvalidInput, err)
	}
	pos, err := PositionFromArray(arr)
	if err != nil {
		return err
	}
	*p = pos
	return nil
}

// Unmap converts p back to raw 0-100 values. Unspecified channels stay
// unspecified and need no range.
func (p Position) Unmap(ranges Ranges) (Values, error) {
	var out Values
	for i, v := range p.values {
		f, ok := v.Float()
		if !ok {
			continue
		}
		raw, err := ranges.Unmap(Servo(i), f)
		if err != nil {
			return Values{}, err
		}
		out[i] = Num(raw)
	}
	return out, nil
}

// Specified returns the set of channels holding a number.
func (p Position) Specified() Set {
	var s Set
	for i, v := range p.values {
		if v.Specified() {
			s = s.Add(Servo(i))
		}
	}
	return s
}

// IsNull reports whether every channel is unspecified.
func (p Position) IsNull() bool { return p.Specified().Empty() }

// Complete reports whether every channel in servos is specified.
func (p Position) Complete(servos Set) bool {
	return p.Specified()&servos == servos
}

// Equal reports a channel-wise exact match.
func (p Position) Equal(o Position) bool { return p.values == o.values }

// FillWith returns p with every unspecified channel taken from other.
// Channels specified in p win.
func (p Position) FillWith(other Position) Position {
	for i, v := range p.values {
		if !v.Specified() {
			p.values[i] = other.values[i]
		}
	}
	return p
}

// Filter returns p with every channel outside keep made unspecified.
func (p Position) Filter(keep Set) Position {
	for i := range p.values {
		if !keep.Has(Servo(i)) {
			p.values[i] = Value{}
		}
	}
	return p
}

func (p Position) String() string {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, v := range p.values {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v.String())
	}
	b.WriteByte(']')
	return b.String()
}

// Interpolate blends pos1 toward pos2 by fraction f, clamped to [0, 1].
// A channel unspecified on either side is unspecified in the result; others
// are rounded to two decimals.
func Interpolate(pos1, pos2 Position, f float64) Position {
	f = clamp(f, 0, 1)

	var out Position
	for i := range out.values {
		a, okA := pos1.values[i].Float()
		b, okB := pos2.values[i].Float()
		if !okA || !okB {
			continue
		}
		switch {
		case a == b || f == 0:
			out.values[i] = Num(a)
		case f == 1:
			out.values[i] = Num(b)
		default:
			out.values[i] = Num(round2(lerp(a, b, f)))
		}
	}
	return out
}

// lerp performs linear interpolation between two values.
func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// clamp restricts a value to a range.
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
