package detect

import (
	"github.com/banshee-data/laneguard/internal/tracking"
)

// wireDetection is the JSON shape shared by recorded detection files and
// the remote detector:
//
//	{"id": 7, "box": [x1, y1, x2, y2], "class": "car", "conf": 0.91}
type wireDetection struct {
	ID    *int64     `json:"id"`
	Box   []*float64 `json:"box"`
	Class string     `json:"class"`
	Conf  float64    `json:"conf"`
}

type wireFrame struct {
	Frame      *int            `json:"frame"`
	Detections []wireDetection `json:"detections"`
}

// decodeDetections converts wire detections, dropping those without an
// identity or with a box that is not four non-null values.
func decodeDetections(in []wireDetection) (obs []Observation, rejected int) {
	obs = make([]Observation, 0, len(in))
	for _, d := range in {
		box, ok := decodeBox(d.Box)
		if d.ID == nil || !ok {
			rejected++
			continue
		}
		obs = append(obs, Observation{
			ID:         tracking.VehicleID(*d.ID),
			Box:        box,
			Class:      d.Class,
			Confidence: d.Conf,
		})
	}
	return obs, rejected
}

func decodeBox(v []*float64) (BoundingBox, bool) {
	if len(v) != 4 {
		return BoundingBox{}, false
	}
	for _, c := range v {
		if c == nil {
			return BoundingBox{}, false
		}
	}
	return BoundingBox{X1: *v[0], Y1: *v[1], X2: *v[2], Y2: *v[3]}, true
}

// encodeDetections is the inverse of decodeDetections.
func encodeDetections(obs []Observation) []wireDetection {
	out := make([]wireDetection, len(obs))
	for i, o := range obs {
		id := int64(o.ID)
		out[i] = wireDetection{
			ID:    &id,
			Box:   []*float64{&o.Box.X1, &o.Box.Y1, &o.Box.X2, &o.Box.Y2},
			Class: o.Class,
			Conf:  o.Confidence,
		}
	}
	return out
}
