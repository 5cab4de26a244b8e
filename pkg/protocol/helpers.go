package protocol

import (
	"encoding/base64"
	"fmt"
	"math"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// VisionDataURI builds the data URI the operator page renders as an image.
func VisionDataURI(imageType string, img []byte) string {
	return fmt.Sprintf("data:image/%s;base64,%s", imageType, base64.StdEncoding.EncodeToString(img))
}

// CycleHz converts an iteration time in seconds to a rate.
func CycleHz(seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return math.Round(10/seconds) / 10
}

// ResponseTime formats a camera round trip for camera-response-time.
func ResponseTime(ms int64, timedOut bool) string {
	if timedOut {
		return "TIMED OUT"
	}
	return fmt.Sprintf("%dms", ms)
}
