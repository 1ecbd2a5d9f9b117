package detect

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/laneguard/internal/lanes"
	"github.com/banshee-data/laneguard/internal/tracking"
)

// SyntheticConfig describes generated traffic moving up the image.
type SyntheticConfig struct {
	Layout *lanes.Layout
	Frames int

	// ArrivalRate is the mean number of vehicles entering per frame.
	ArrivalRate float64
	// SwitchProb is the per-vehicle, per-frame chance of moving one lane.
	SwitchProb float64
	// Speed is the upward movement in pixels per frame.
	Speed float64
	Seed  uint64
}

// DefaultSyntheticConfig returns moderate traffic over layout.
func DefaultSyntheticConfig(layout *lanes.Layout) SyntheticConfig {
	return SyntheticConfig{
		Layout:      layout,
		Frames:      600,
		ArrivalRate: 0.6,
		SwitchProb:  0.01,
		Speed:       12,
		Seed:        1,
	}
}

type synthVehicle struct {
	id   tracking.VehicleID
	lane int
	y    float64
	w, h float64
}

// SyntheticSource generates detections for demos and fixtures. Vehicles
// enter at the bottom of the region of interest, drive towards the top and
// occasionally change lane.
type SyntheticSource struct {
	cfg      SyntheticConfig
	frame    int
	nextID   tracking.VehicleID
	vehicles []*synthVehicle

	arrivals distuv.Poisson
	switches distuv.Bernoulli
	conf     distuv.Normal
	rng      *rand.Rand
}

func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	if cfg.Layout == nil {
		return nil, errors.New("synthetic source needs a layout")
	}
	if cfg.ArrivalRate <= 0 || cfg.Speed <= 0 {
		return nil, errors.New("arrival rate and speed must be positive")
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	return &SyntheticSource{
		cfg:      cfg,
		nextID:   1,
		arrivals: distuv.Poisson{Lambda: cfg.ArrivalRate, Src: src},
		switches: distuv.Bernoulli{P: cfg.SwitchProb, Src: src},
		conf:     distuv.Normal{Mu: 0.85, Sigma: 0.06, Src: src},
		rng:      rand.New(src),
	}, nil
}

// laneCenter returns the horizontal middle of lane at height y.
func (s *SyntheticSource) laneCenter(lane int, y float64) float64 {
	roi := s.cfg.Layout.ROI()
	th := s.cfg.Layout.Thresholds(y)
	left, right := roi.Min.X, roi.Max.X
	if lane > 1 {
		left = th[lane-2]
	}
	if lane <= len(th) {
		right = th[lane-1]
	}
	return (left + right) / 2
}

// Next advances the traffic by one frame.
func (s *SyntheticSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.frame >= s.cfg.Frames {
		return Frame{}, io.EOF
	}
	roi := s.cfg.Layout.ROI()
	nLanes := s.cfg.Layout.Lanes()

	live := s.vehicles[:0]
	for _, v := range s.vehicles {
		v.y -= s.cfg.Speed
		if v.y <= roi.Min.Y {
			continue
		}
		if s.switches.Rand() == 1 {
			switch {
			case v.lane == 1:
				v.lane++
			case v.lane == nLanes:
				v.lane--
			case s.rng.IntN(2) == 0:
				v.lane--
			default:
				v.lane++
			}
		}
		live = append(live, v)
	}
	s.vehicles = live

	for n := int(s.arrivals.Rand()); n > 0; n-- {
		s.vehicles = append(s.vehicles, &synthVehicle{
			id:   s.nextID,
			lane: 1 + s.rng.IntN(nLanes),
			y:    roi.Max.Y - 1,
			w:    40 + s.rng.Float64()*30,
			h:    30 + s.rng.Float64()*20,
		})
		s.nextID++
	}

	f := Frame{Index: s.frame, Observations: make([]Observation, 0, len(s.vehicles))}
	for _, v := range s.vehicles {
		x := s.laneCenter(v.lane, v.y)
		f.Observations = append(f.Observations, Observation{
			ID:         v.id,
			Box:        BoundingBox{X1: x - v.w/2, Y1: v.y - v.h/2, X2: x + v.w/2, Y2: v.y + v.h/2},
			Class:      "car",
			Confidence: math.Max(0, math.Min(1, s.conf.Rand())),
		})
	}
	s.frame++
	return f, nil
}

func (s *SyntheticSource) Close() error { return nil }
