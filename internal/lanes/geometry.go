package lanes

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateROI is returned when the region of interest or the
// interpolation span has no vertical extent.
var ErrDegenerateROI = errors.New("degenerate region of interest")

// Point is a position in image pixels. Y grows downwards.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// IsFinite reports whether both coordinates are usable numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// ROI is an axis-aligned rectangle. Min is the top-left corner.
type ROI struct {
	Min Point `json:"min" yaml:"min"`
	Max Point `json:"max" yaml:"max"`
}

// Contains reports whether p lies strictly inside the rectangle. Points on
// the border are outside.
func (r ROI) Contains(p Point) bool {
	return r.Min.X < p.X && p.X < r.Max.X && r.Min.Y < p.Y && p.Y < r.Max.Y
}

// Height returns the vertical extent in pixels.
func (r ROI) Height() float64 { return r.Max.Y - r.Min.Y }

// Width returns the horizontal extent in pixels.
func (r ROI) Width() float64 { return r.Max.X - r.Min.X }

// Boundary separates two adjacent lanes. Bottom and Top are the segment
// endpoints nearest and furthest from the camera.
type Boundary struct {
	Bottom Point `json:"bottom" yaml:"bottom"`
	Top    Point `json:"top" yaml:"top"`
}

// Span is the vertical range over which boundaries are interpolated.
type Span struct {
	Top    float64 `json:"top" yaml:"top"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
}

// Height returns Bottom-Top.
func (s Span) Height() float64 { return s.Bottom - s.Top }

func (s Span) String() string {
	return fmt.Sprintf("[%.1f, %.1f]", s.Top, s.Bottom)
}
