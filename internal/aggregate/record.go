// Package aggregate folds per-frame tracker decisions into a time series of
// FrameRecords with running totals.
package aggregate

import (
	"strings"
	"time"
)

// FrameRecord is one row of the output time series. Records are values;
// once emitted they are never modified.
type FrameRecord struct {
	Frame              int       `json:"frame"`
	Timestamp          time.Time `json:"timestamp"`
	CurrentInROI       int       `json:"current_in_roi"`
	ViolationTotal     int       `json:"violation_total"`
	StreetName         string    `json:"street_name"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	HourOfDay          int       `json:"hour_of_day"`
	DayOfWeek          string    `json:"day_of_week"`
	UniqueVehicleTotal int       `json:"unique_vehicle_total"`
}

// Weekday parses DayOfWeek back into a time.Weekday.
func (r FrameRecord) Weekday() (time.Weekday, bool) {
	return ParseWeekday(r.DayOfWeek)
}

// ParseWeekday accepts full ("Monday") or three-letter ("Mon") English
// names, case-insensitively.
func ParseWeekday(s string) (time.Weekday, bool) {
	if len(s) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return d, true
		}
	}
	return 0, false
}

// Location is the static site metadata stamped on every record.
type Location struct {
	StreetName string
	Latitude   float64
	Longitude  float64
	// TZ is used for HourOfDay and DayOfWeek. Nil means the timestamp's own
	// location.
	TZ *time.Location
}
