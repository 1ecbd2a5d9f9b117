package lanes

import (
	"fmt"
)

// Layout is a validated lane geometry: the region of interest plus the
// ordered boundaries (left to right). N boundaries define N+1 lanes,
// numbered from 1.
type Layout struct {
	roi        ROI
	boundaries []Boundary
	span       Span
}

// NewLayout validates the geometry and returns a Layout that interpolates
// boundaries over the ROI's vertical bounds.
func NewLayout(roi ROI, boundaries []Boundary) (*Layout, error) {
	return NewLayoutWithSpan(roi, boundaries, Span{Top: roi.Min.Y, Bottom: roi.Max.Y})
}

// NewLayoutWithSpan is NewLayout with an explicit interpolation span, for
// deployments whose boundary segments do not run the full ROI height.
func NewLayoutWithSpan(roi ROI, boundaries []Boundary, span Span) (*Layout, error) {
	if !roi.Min.IsFinite() || !roi.Max.IsFinite() {
		return nil, fmt.Errorf("%w: non-finite corner", ErrDegenerateROI)
	}
	if roi.Height() <= 0 {
		return nil, fmt.Errorf("%w: height %.1f", ErrDegenerateROI, roi.Height())
	}
	if roi.Width() <= 0 {
		return nil, fmt.Errorf("%w: width %.1f", ErrDegenerateROI, roi.Width())
	}
	if span.Height() == 0 {
		return nil, fmt.Errorf("%w: interpolation span %s has zero height", ErrDegenerateROI, span)
	}
	for i, b := range boundaries {
		if !b.Bottom.IsFinite() || !b.Top.IsFinite() {
			return nil, fmt.Errorf("boundary %d: non-finite endpoint", i+1)
		}
	}
	bs := make([]Boundary, len(boundaries))
	copy(bs, boundaries)
	return &Layout{roi: roi, boundaries: bs, span: span}, nil
}

// ROI returns the region of interest.
func (l *Layout) ROI() ROI { return l.roi }

// Span returns the interpolation span.
func (l *Layout) Span() Span { return l.span }

// Boundaries returns a copy of the boundary list.
func (l *Layout) Boundaries() []Boundary {
	out := make([]Boundary, len(l.boundaries))
	copy(out, l.boundaries)
	return out
}

// Lanes returns the number of lanes, len(boundaries)+1.
func (l *Layout) Lanes() int { return len(l.boundaries) + 1 }

// Contains reports strict ROI membership.
func (l *Layout) Contains(p Point) bool { return l.roi.Contains(p) }

// threshold evaluates boundary b at height y:
//
//	x(y) = x0 + (x1 - x0) * (yBottom - y) / (yBottom - yTop)
func (l *Layout) threshold(b Boundary, y float64) float64 {
	return b.Bottom.X + (b.Top.X-b.Bottom.X)*(l.span.Bottom-y)/l.span.Height()
}

// Thresholds returns each boundary's horizontal threshold at height y.
func (l *Layout) Thresholds(y float64) []float64 {
	out := make([]float64, len(l.boundaries))
	for i, b := range l.boundaries {
		out[i] = l.threshold(b, y)
	}
	return out
}

// Classify returns the 1-based lane containing p: the first boundary whose
// threshold lies strictly to the right of p, or the rightmost lane when
// none does. A point exactly on a threshold belongs to the higher lane.
func (l *Layout) Classify(p Point) int {
	for i, b := range l.boundaries {
		if p.X < l.threshold(b, p.Y) {
			return i + 1
		}
	}
	return len(l.boundaries) + 1
}
