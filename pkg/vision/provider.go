package vision

import "context"

// Provider supplies camera frames.
type Provider interface {
	CaptureFrame(ctx context.Context) ([]byte, error) // Returns encoded image data
}
