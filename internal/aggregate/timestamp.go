package aggregate

import (
	"time"

	"github.com/banshee-data/laneguard/internal/timeutil"
)

// Timestamper assigns a timestamp to the seq-th aggregated frame (0-based).
type Timestamper interface {
	Timestamp(seq int) time.Time
}

// Synthetic produces Start + seq*Step. It is a demo time base and is not
// derived from the video frame rate.
type Synthetic struct {
	Start time.Time
	Step  time.Duration
}

// DefaultSynthetic matches the reference deployment: 2023-01-01 08:00 with
// two minutes per frame.
func DefaultSynthetic() Synthetic {
	return Synthetic{
		Start: time.Date(2023, time.January, 1, 8, 0, 0, 0, time.UTC),
		Step:  2 * time.Minute,
	}
}

func (s Synthetic) Timestamp(seq int) time.Time {
	return s.Start.Add(time.Duration(seq) * s.Step)
}

// ClockTimestamper stamps frames with the clock's current time, for live
// sources where frames arrive in real time.
type ClockTimestamper struct {
	Clock timeutil.Clock
}

func (c ClockTimestamper) Timestamp(int) time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// FrameRate derives timestamps from the source frame rate: Start + seq/fps.
type FrameRate struct {
	Start time.Time
	FPS   float64
}

func (f FrameRate) Timestamp(seq int) time.Time {
	if f.FPS <= 0 {
		return f.Start
	}
	return f.Start.Add(time.Duration(float64(seq) / f.FPS * float64(time.Second)))
}
