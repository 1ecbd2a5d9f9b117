package aggregate

import (
	"errors"
	"fmt"

	"github.com/banshee-data/laneguard/internal/tracking"
)

// ErrOutOfOrder is returned when a frame index does not increase.
var ErrOutOfOrder = errors.New("frame out of order")

// Aggregator maintains the running totals for one run. It is not safe for
// concurrent use.
type Aggregator struct {
	loc Location
	ts  Timestamper

	seq       int
	lastFrame int
	started   bool

	uniqueTotal    int
	violationTotal int
}

// New creates an Aggregator. A nil Timestamper selects DefaultSynthetic.
func New(loc Location, ts Timestamper) *Aggregator {
	if ts == nil {
		ts = DefaultSynthetic()
	}
	return &Aggregator{loc: loc, ts: ts}
}

// Check reports whether frame may be added next, without changing state.
func (a *Aggregator) Check(frame int) error {
	if a.started && frame <= a.lastFrame {
		return fmt.Errorf("%w: frame %d after %d", ErrOutOfOrder, frame, a.lastFrame)
	}
	return nil
}

// Add folds one frame's decisions into the totals and returns the frame's
// record. Frame indices must strictly increase.
func (a *Aggregator) Add(frame int, decisions []tracking.Decision) (FrameRecord, error) {
	if err := a.Check(frame); err != nil {
		return FrameRecord{}, err
	}

	present := make(map[tracking.VehicleID]struct{}, len(decisions))
	for _, d := range decisions {
		if d.Duplicate {
			continue
		}
		present[d.ID] = struct{}{}
		if d.FirstSeen {
			a.uniqueTotal++
		}
		if d.Counted {
			a.violationTotal++
		}
	}

	ts := a.ts.Timestamp(a.seq)
	local := ts
	if a.loc.TZ != nil {
		local = ts.In(a.loc.TZ)
	}

	rec := FrameRecord{
		Frame:              frame,
		Timestamp:          local,
		CurrentInROI:       len(present),
		ViolationTotal:     a.violationTotal,
		StreetName:         a.loc.StreetName,
		Latitude:           a.loc.Latitude,
		Longitude:          a.loc.Longitude,
		HourOfDay:          local.Hour(),
		DayOfWeek:          local.Weekday().String(),
		UniqueVehicleTotal: a.uniqueTotal,
	}

	a.seq++
	a.lastFrame = frame
	a.started = true
	return rec, nil
}

// UniqueTotal returns the number of distinct identities seen so far.
func (a *Aggregator) UniqueTotal() int { return a.uniqueTotal }

// ViolationTotal returns the cumulative violation count.
func (a *Aggregator) ViolationTotal() int { return a.violationTotal }

// Frames returns how many records have been produced.
func (a *Aggregator) Frames() int { return a.seq }
