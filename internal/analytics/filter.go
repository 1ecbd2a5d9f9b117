// Package analytics filters a FrameRecord time series and computes the
// dashboard summary figures. Everything here is stateless over a snapshot.
package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/laneguard/internal/aggregate"
)

// Filter selects records by calendar date, hour of day and weekday. The
// zero Filter keeps everything.
type Filter struct {
	// From and To bound the record date, inclusive, compared at day
	// granularity in each record's own location. Zero means unbounded.
	From time.Time
	To   time.Time

	// HourMin is enforced as a lower bound. HourMax is only enforced when
	// EnforceHourMax is set; by default the hour filter is lower-bound only.
	HourMin        int
	HourMax        int
	EnforceHourMax bool

	// Days lists the permitted weekdays. Empty permits all.
	Days []time.Weekday
}

// Validate checks hour bounds and date ordering.
func (f Filter) Validate() error {
	if f.HourMin < 0 || f.HourMin > 23 {
		return fmt.Errorf("hour_min must be between 0 and 23, got %d", f.HourMin)
	}
	if f.EnforceHourMax && (f.HourMax < 0 || f.HourMax > 23) {
		return fmt.Errorf("hour_max must be between 0 and 23, got %d", f.HourMax)
	}
	if !f.From.IsZero() && !f.To.IsZero() && dateOf(f.To).Before(dateOf(f.From)) {
		return fmt.Errorf("date range is inverted: %s after %s", f.From.Format(time.DateOnly), f.To.Format(time.DateOnly))
	}
	return nil
}

// Match reports whether a single record passes every predicate.
func (f Filter) Match(r aggregate.FrameRecord) bool {
	d := dateOf(r.Timestamp)
	if !f.From.IsZero() && d.Before(dateOf(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(dateOf(f.To)) {
		return false
	}
	if r.HourOfDay < f.HourMin {
		return false
	}
	if f.EnforceHourMax && r.HourOfDay > f.HourMax {
		return false
	}
	if len(f.Days) > 0 {
		wd, ok := r.Weekday()
		if !ok || !containsDay(f.Days, wd) {
			return false
		}
	}
	return true
}

// Apply returns the records passing the filter, preserving order. The input
// slice is not modified.
func (f Filter) Apply(records []aggregate.FrameRecord) []aggregate.FrameRecord {
	out := make([]aggregate.FrameRecord, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f Filter) String() string {
	var parts []string
	if !f.From.IsZero() {
		parts = append(parts, "from="+f.From.Format(time.DateOnly))
	}
	if !f.To.IsZero() {
		parts = append(parts, "to="+f.To.Format(time.DateOnly))
	}
	parts = append(parts, fmt.Sprintf("hour>=%d", f.HourMin))
	if f.EnforceHourMax {
		parts = append(parts, fmt.Sprintf("hour<=%d", f.HourMax))
	}
	if len(f.Days) > 0 {
		names := make([]string, len(f.Days))
		for i, d := range f.Days {
			names[i] = d.String()
		}
		parts = append(parts, "days="+strings.Join(names, ","))
	}
	return strings.Join(parts, " ")
}

// ParseDays parses a comma-separated weekday list such as "Mon,Tuesday".
func ParseDays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, ok := aggregate.ParseWeekday(part)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, d)
	}
	return days, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}
