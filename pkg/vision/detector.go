// Package vision defines person detection results and the detector
// interface the controller consumes. Backends live in subpackages.
package vision

import (
	"encoding/json"
	"fmt"
	"math"
)

// BoundingBox is an axis-aligned box in image pixels, origin top-left.
type BoundingBox struct {
	X, Y float64 // Top-left corner
	W, H float64 // Width and height
}

// Center returns the center point of the box
func (b BoundingBox) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// MarshalJSON encodes the box as [x, y, w, h] rounded to two decimals.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{round2(b.X), round2(b.Y), round2(b.W), round2(b.H)})
}

// UnmarshalJSON decodes [x, y, w, h].
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 4 {
		return fmt.Errorf("bounding box needs 4 values, got %d", len(arr))
	}
	*b = BoundingBox{X: arr[0], Y: arr[1], W: arr[2], H: arr[3]}
	return nil
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", b.X, b.Y, b.W, b.H)
}

// Detection is one detected object.
type Detection struct {
	Box       BoundingBox
	ClassName string  // COCO class name
	Score     float64 // Detection confidence (0-1)
}

// Detector finds objects in an encoded image.
type Detector interface {
	// Detect returns every object scoring at least the configured minimum
	Detect(img []byte) ([]Detection, error)

	// Close releases resources
	Close() error
}

// PersonClass is the class name detectors use for people.
const PersonClass = "person"

// SelectPerson picks the highest scoring person, or nil when there is none.
func SelectPerson(dets []Detection) *BoundingBox {
	var best *Detection
	for i := range dets {
		if dets[i].ClassName != PersonClass {
			continue
		}
		if best == nil || dets[i].Score > best.Score {
			best = &dets[i]
		}
	}
	if best == nil {
		return nil
	}
	box := best.Box
	return &box
}

// FirstPerson runs d on img and returns the selected person box.
func FirstPerson(d Detector, img []byte) (*BoundingBox, error) {
	dets, err := d.Detect(img)
	if err != nil {
		return nil, err
	}
	return SelectPerson(dets), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
