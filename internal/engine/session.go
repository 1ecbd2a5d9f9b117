// Package engine runs the lane-switching pipeline for one video: it pulls
// detector frames, classifies vehicles into lanes, tracks lane changes and
// aggregates the per-frame time series, handing every result to sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/detect"
	"github.com/banshee-data/laneguard/internal/lanes"
	"github.com/banshee-data/laneguard/internal/tracking"
)

// Config assembles a Session.
type Config struct {
	Layout      *lanes.Layout
	Tracker     tracking.TrackerConfig
	Location    aggregate.Location
	Timestamper aggregate.Timestamper

	// MinConfidence drops detections scoring below it.
	MinConfidence float64
	// Classes, when non-empty, is the detector class allow-list.
	Classes []string
}

// Annotation describes how one in-ROI vehicle should be drawn.
type Annotation struct {
	ID     tracking.VehicleID `json:"id"`
	Lane   int                `json:"lane"`
	Tag    tracking.Tag       `json:"tag"`
	Center lanes.Point        `json:"center"`
	Box    detect.BoundingBox `json:"box"`
}

// ViolationEvent is emitted once per identity, on the lane change that
// incremented the violation total.
type ViolationEvent struct {
	RunID     string             `json:"run_id"`
	VehicleID tracking.VehicleID `json:"vehicle_id"`
	Frame     int                `json:"frame"`
	FromLane  int                `json:"from_lane"`
	ToLane    int                `json:"to_lane"`
	Timestamp time.Time          `json:"timestamp"`
}

// FrameStats counts what happened to a frame's raw detections.
type FrameStats struct {
	Detections    int  `json:"detections"`
	InROI         int  `json:"in_roi"`
	OutsideROI    int  `json:"outside_roi"`
	Filtered      int  `json:"filtered"`
	Malformed     int  `json:"malformed"`
	DetectorError bool `json:"detector_error,omitempty"`
}

// FrameResult is everything produced for one frame.
type FrameResult struct {
	RunID       string                `json:"run_id"`
	Record      aggregate.FrameRecord `json:"record"`
	Annotations []Annotation          `json:"annotations"`
	Violations  []ViolationEvent      `json:"violations,omitempty"`
	Stats       FrameStats            `json:"stats"`
}

// RunStats summarises a finished or interrupted Run.
type RunStats struct {
	Frames         int `json:"frames"`
	UniqueVehicles int `json:"unique_vehicles"`
	Violations     int `json:"violations"`
	DetectorErrors int `json:"detector_errors"`
	Malformed      int `json:"malformed"`
	Filtered       int `json:"filtered"`
	Evicted        int `json:"evicted"`
}

// Session is the handle for one processing run. All run state lives here;
// independent sessions may run concurrently. Calls on one session are
// serialised.
type Session struct {
	mu sync.Mutex

	id      string
	cfg     Config
	classes map[string]struct{}
	tracker *tracking.Tracker
	agg     *aggregate.Aggregator
	stats   RunStats
}

// NewSession validates cfg and creates a session with a fresh run ID.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Layout == nil {
		return nil, errors.New("engine: nil lane layout")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("engine: min confidence %v outside [0,1]", cfg.MinConfidence)
	}
	if cfg.Tracker.IdentityTTL < 0 {
		return nil, fmt.Errorf("engine: negative identity TTL %d", cfg.Tracker.IdentityTTL)
	}
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		tracker: tracking.NewTracker(cfg.Tracker),
		agg:     aggregate.New(cfg.Location, cfg.Timestamper),
	}
	if len(cfg.Classes) > 0 {
		s.classes = make(map[string]struct{}, len(cfg.Classes))
		for _, c := range cfg.Classes {
			s.classes[strings.ToLower(c)] = struct{}{}
		}
	}
	return s, nil
}

// ID returns the run identifier.
func (s *Session) ID() string { return s.id }

// Stats returns the totals so far.
func (s *Session) Stats() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ProcessFrame runs one frame through the pipeline.
func (s *Session) ProcessFrame(f detect.Frame) (FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processFrame(f)
}

func (s *Session) processFrame(f detect.Frame) (FrameResult, error) {
	// The tracker must not see a frame the aggregator will refuse.
	if err := s.agg.Check(f.Index); err != nil {
		return FrameResult{}, err
	}

	st := FrameStats{
		Detections: len(f.Observations) + f.Rejected,
		Malformed:  f.Rejected,
	}

	type placed struct {
		obs    detect.Observation
		center lanes.Point
	}
	kept := make([]placed, 0, len(f.Observations))
	laneObs := make([]tracking.LaneObservation, 0, len(f.Observations))
	for _, o := range f.Observations {
		if err := o.Validate(); err != nil {
			st.Malformed++
			tracef("frame %d: dropped: %v", f.Index, err)
			continue
		}
		if !s.admit(o) {
			st.Filtered++
			continue
		}
		c := o.Box.Center()
		if !s.cfg.Layout.Contains(c) {
			st.OutsideROI++
			continue
		}
		st.InROI++
		kept = append(kept, placed{obs: o, center: c})
		laneObs = append(laneObs, tracking.LaneObservation{ID: o.ID, Lane: s.cfg.Layout.Classify(c)})
	}

	decisions := s.tracker.Observe(f.Index, laneObs)
	rec, err := s.agg.Add(f.Index, decisions)
	if err != nil {
		return FrameResult{}, err
	}

	res := FrameResult{
		RunID:       s.id,
		Record:      rec,
		Annotations: make([]Annotation, 0, len(kept)),
		Stats:       st,
	}
	for i, d := range decisions {
		if d.Duplicate {
			continue
		}
		res.Annotations = append(res.Annotations, Annotation{
			ID:     d.ID,
			Lane:   d.Lane,
			Tag:    d.Tag,
			Center: kept[i].center,
			Box:    kept[i].obs.Box,
		})
		if d.Counted {
			res.Violations = append(res.Violations, ViolationEvent{
				RunID:     s.id,
				VehicleID: d.ID,
				Frame:     f.Index,
				FromLane:  d.PreviousLane,
				ToLane:    d.Lane,
				Timestamp: rec.Timestamp,
			})
			diagf("run %s frame %d: vehicle %d switched lane %d -> %d", s.id, f.Index, d.ID, d.PreviousLane, d.Lane)
		}
	}

	s.stats.Frames++
	s.stats.UniqueVehicles = rec.UniqueVehicleTotal
	s.stats.Violations = rec.ViolationTotal
	s.stats.Malformed += st.Malformed
	s.stats.Filtered += st.Filtered
	s.stats.Evicted = s.tracker.Evicted()
	tracef("frame %d: in_roi=%d unique=%d violations=%d", f.Index, rec.CurrentInROI, rec.UniqueVehicleTotal, rec.ViolationTotal)
	return res, nil
}

func (s *Session) admit(o detect.Observation) bool {
	if o.Confidence < s.cfg.MinConfidence {
		return false
	}
	if s.classes == nil {
		return true
	}
	_, ok := s.classes[strings.ToLower(o.Class)]
	return ok
}

// Run pulls frames from src until it is exhausted, ctx is cancelled or a
// sink fails. A *detect.FrameError is processed as a frame with no
// observations. Results already delivered to sinks stay valid when Run
// returns early; a cancelled run returns ctx.Err().
func (s *Session) Run(ctx context.Context, src detect.Source, sinks ...Sink) (RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	diagf("run %s: started", s.id)
	err := s.run(ctx, src, sinks)
	for _, sk := range sinks {
		if fl, ok := sk.(Flusher); ok {
			if ferr := fl.Flush(); ferr != nil && err == nil {
				err = fmt.Errorf("flush sink: %w", ferr)
			}
		}
	}

	switch {
	case err == nil:
		diagf("run %s: completed after %d frames, %d vehicles, %d violations",
			s.id, s.stats.Frames, s.stats.UniqueVehicles, s.stats.Violations)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		diagf("run %s: aborted after %d frames", s.id, s.stats.Frames)
	default:
		opsf("run %s: failed after %d frames: %v", s.id, s.stats.Frames, err)
	}
	return s.stats, err
}

func (s *Session) run(ctx context.Context, src detect.Source, sinks []Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := src.Next(ctx)
		detectorFailed := false
		if err != nil {
			var fe *detect.FrameError
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.As(err, &fe):
				opsf("run %s: detector failed on frame %d: %v", s.id, fe.Index, fe.Err)
				s.stats.DetectorErrors++
				f = detect.Frame{Index: fe.Index}
				detectorFailed = true
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("read frame: %w", err)
			}
		}

		res, err := s.processFrame(f)
		if err != nil {
			return err
		}
		res.Stats.DetectorError = detectorFailed
		for _, sk := range sinks {
			if err := sk.Handle(ctx, res); err != nil {
				return fmt.Errorf("sink: %w", err)
			}
		}
	}
}
