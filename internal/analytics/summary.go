package analytics

import (
	"errors"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/laneguard/internal/aggregate"
)

// ErrUndefinedRatio is returned by Summarize when no vehicle was counted,
// so the violation percentage has no meaningful value.
var ErrUndefinedRatio = errors.New("violation percentage undefined: peak vehicle total is zero")

// Summary holds the headline figures for a (filtered) record set.
type Summary struct {
	Records        int `json:"records"`
	PeakTotal      int `json:"peak_total"`
	PeakViolations int `json:"peak_violations"`

	// ViolationPercentage is nil when RatioDefined is false.
	ViolationPercentage *float64 `json:"violation_percentage"`
	RatioDefined        bool     `json:"ratio_defined"`

	PeakInROI int     `json:"peak_in_roi"`
	MeanInROI float64 `json:"mean_in_roi"`
	P85InROI  float64 `json:"p85_in_roi"`

	FirstTimestamp time.Time `json:"first_timestamp,omitempty"`
	LastTimestamp  time.Time `json:"last_timestamp,omitempty"`
}

// Percentage returns the violation percentage or ErrUndefinedRatio.
func (s Summary) Percentage() (float64, error) {
	if !s.RatioDefined || s.ViolationPercentage == nil {
		return 0, ErrUndefinedRatio
	}
	return *s.ViolationPercentage, nil
}

// Summarize computes peak totals and the violation percentage
// 100*PeakViolations/PeakTotal. When PeakTotal is zero the rest of the
// summary is still filled in and ErrUndefinedRatio is returned alongside it.
func Summarize(records []aggregate.FrameRecord) (Summary, error) {
	s := Summary{Records: len(records)}
	if len(records) == 0 {
		return s, ErrUndefinedRatio
	}

	inROI := make([]float64, len(records))
	for i, r := range records {
		if r.UniqueVehicleTotal > s.PeakTotal {
			s.PeakTotal = r.UniqueVehicleTotal
		}
		if r.ViolationTotal > s.PeakViolations {
			s.PeakViolations = r.ViolationTotal
		}
		inROI[i] = float64(r.CurrentInROI)
	}

	s.FirstTimestamp = records[0].Timestamp
	s.LastTimestamp = records[len(records)-1].Timestamp

	s.PeakInROI = int(floats.Max(inROI))
	s.MeanInROI = stat.Mean(inROI, nil)
	sorted := append([]float64(nil), inROI...)
	sort.Float64s(sorted)
	s.P85InROI = stat.Quantile(0.85, stat.Empirical, sorted, nil)

	if s.PeakTotal == 0 {
		return s, ErrUndefinedRatio
	}
	pct := 100 * float64(s.PeakViolations) / float64(s.PeakTotal)
	s.ViolationPercentage = &pct
	s.RatioDefined = true
	return s, nil
}

// HourBucket aggregates the records falling in one hour of day.
type HourBucket struct {
	Hour           int     `json:"hour"`
	Samples        int     `json:"samples"`
	MeanInROI      float64 `json:"mean_in_roi"`
	PeakInROI      int     `json:"peak_in_roi"`
	PeakViolations int     `json:"peak_violations"`
}

// Hourly groups records by HourOfDay, returning only hours with data in
// ascending order.
func Hourly(records []aggregate.FrameRecord) []HourBucket {
	byHour := make(map[int][]aggregate.FrameRecord)
	for _, r := range records {
		byHour[r.HourOfDay] = append(byHour[r.HourOfDay], r)
	}

	hours := make([]int, 0, len(byHour))
	for h := range byHour {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	out := make([]HourBucket, 0, len(hours))
	for _, h := range hours {
		rs := byHour[h]
		xs := make([]float64, len(rs))
		b := HourBucket{Hour: h, Samples: len(rs)}
		for i, r := range rs {
			xs[i] = float64(r.CurrentInROI)
			if r.CurrentInROI > b.PeakInROI {
				b.PeakInROI = r.CurrentInROI
			}
			if r.ViolationTotal > b.PeakViolations {
				b.PeakViolations = r.ViolationTotal
			}
		}
		b.MeanInROI = stat.Mean(xs, nil)
		out = append(out, b)
	}
	return out
}
