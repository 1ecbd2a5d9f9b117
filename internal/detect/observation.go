// Package detect defines the detector-side input of the engine: per-frame
// sets of tracked bounding boxes, and sources that produce them.
//
// The detection model itself is external. Sources only decode its output,
// either from a recorded JSON-lines file or from a remote HTTP service.
package detect

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/laneguard/internal/lanes"
	"github.com/banshee-data/laneguard/internal/tracking"
)

// ErrMalformed marks an observation that cannot be placed in the image.
var ErrMalformed = errors.New("malformed observation")

// BoundingBox is an axis-aligned box in image pixels, (X1,Y1) top-left.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the box midpoint.
func (b BoundingBox) Center() lanes.Point {
	return lanes.Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

func (b BoundingBox) finite() bool {
	for _, v := range [...]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Observation is one tracked object in one frame.
type Observation struct {
	ID         tracking.VehicleID `json:"id"`
	Box        BoundingBox        `json:"box"`
	Class      string             `json:"class"`
	Confidence float64            `json:"confidence"`
}

// Validate rejects non-finite coordinates and confidences outside [0,1].
func (o Observation) Validate() error {
	if !o.Box.finite() {
		return fmt.Errorf("%w: id %d has non-finite box", ErrMalformed, o.ID)
	}
	if math.IsNaN(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("%w: id %d confidence %v outside [0,1]", ErrMalformed, o.ID, o.Confidence)
	}
	return nil
}

// Frame is the detector output for one video frame.
type Frame struct {
	Index        int
	Observations []Observation
	// Rejected counts detections dropped while decoding (for example a
	// missing identity or a short box).
	Rejected int
}

// Source yields frames in order. Next returns io.EOF after the last frame.
// A *FrameError means a single frame could not be detected; the caller may
// continue with the next one.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// FrameError reports a detector failure confined to one frame.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
