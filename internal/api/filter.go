package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/laneguard/internal/analytics"
	"github.com/banshee-data/laneguard/internal/httputil"
)

// parseFilter reads from, to (YYYY-MM-DD), hour_min, hour_max,
// enforce_hour_max and days from the query string.
func parseFilter(r *http.Request) (analytics.Filter, error) {
	var (
		f   analytics.Filter
		err error
	)
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		if f.From, err = time.Parse(time.DateOnly, s); err != nil {
			return f, fmt.Errorf("invalid \"from\" date %q", s)
		}
	}
	if s := q.Get("to"); s != "" {
		if f.To, err = time.Parse(time.DateOnly, s); err != nil {
			return f, fmt.Errorf("invalid \"to\" date %q", s)
		}
	}
	if f.HourMin, err = httputil.QueryInt(r, "hour_min", 0); err != nil {
		return f, err
	}
	if f.HourMax, err = httputil.QueryInt(r, "hour_max", 23); err != nil {
		return f, err
	}
	if f.EnforceHourMax, err = httputil.QueryBool(r, "enforce_hour_max"); err != nil {
		return f, err
	}
	if f.Days, err = analytics.ParseDays(q.Get("days")); err != nil {
		return f, err
	}
	return f, f.Validate()
}
