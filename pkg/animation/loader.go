package animation

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// FrameData is one authored frame. Values are raw (0-100) and timings are
// milliseconds.
type FrameData struct {
	Position Values  `json:"position"`
	Still    float64 `json:"still"`
	Speed    float64 `json:"speed"`
}

// Definition is a named animation as stored in the animations file.
type Definition struct {
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	Frames             []FrameData `json:"frames"`
	LookWhileAnimating bool        `json:"lookWhileAnimating"`
	KeepHeadStill      bool        `json:"keepHeadStill"`
}

// Definitions is the parsed contents of an animations file.
type Definitions []Definition

// LoadDefinitions reads and parses the animations file. Callers re-read it on
// every use so edits take effect without a restart.
func LoadDefinitions(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read animations file: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses animation definitions from JSON.
func ParseDefinitions(data []byte) (Definitions, error) {
	var defs Definitions
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: failed to parse animations JSON: %v", ErrInvalidInput, err)
	}

	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: animation #%d has no name", ErrInvalidInput, i)
		}
		if len(d.Frames) == 0 {
			return nil, fmt.Errorf("%w: animation %q has no frames", ErrInvalidInput, d.Name)
		}
		for j, f := range d.Frames {
			if f.Still < 0 || f.Speed < 0 {
				return nil, fmt.Errorf("%w: animation %q frame %d has negative timing", ErrInvalidInput, d.Name, j)
			}
		}
	}

	return defs, nil
}

// Find returns the definition called name.
func (defs Definitions) Find(name string) (*Definition, error) {
	for i := range defs {
		if defs[i].Name == name {
			return &defs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Names returns all definition names, sorted alphabetically.
func (defs Definitions) Names() []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Servos is the claimed set: the channels of the first frame, without the
// head channels when the animation lets gaze run independently.
func (d *Definition) Servos() Set {
	servos := d.Frames[0].Position.Specified()
	if d.KeepHeadStill || d.LookWhileAnimating {
		servos = servos.Without(HeadServos)
	}
	return servos
}

// Build maps the authored frames through ranges.
func (d *Definition) Build(ranges Ranges) ([]Frame, Set, error) {
	servos := d.Servos()

	frames := make([]Frame, 0, len(d.Frames))
	for i, fd := range d.Frames {
		pos, err := NewPosition(fd.Position, ranges)
		if err != nil {
			return nil, 0, fmt.Errorf("animation %q frame %d: %w", d.Name, i, err)
		}
		frame, err := NewFrame(pos, millis(fd.Still), millis(fd.Speed), servos)
		if err != nil {
			return nil, 0, fmt.Errorf("animation %q frame %d: %w", d.Name, i, err)
		}
		frames = append(frames, frame)
	}

	return frames, servos, nil
}

// Specified returns the set of channels holding a number.
func (vs Values) Specified() Set {
	var s Set
	for i, v := range vs {
		if v.Specified() {
			s = s.Add(Servo(i))
		}
	}
	return s
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
