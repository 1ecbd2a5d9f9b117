// Package report renders a run's frame records as an interactive HTML
// dashboard (go-echarts) or a static PNG chart (gonum/plot).
package report

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/analytics"
)

// ErrNoRecords is returned when there is nothing to chart.
var ErrNoRecords = errors.New("no records to chart")

// DefaultMaxPoints caps the samples per series on the dashboard.
const DefaultMaxPoints = 2000

const axisTimeLayout = "2006-01-02 15:04"

// Dashboard describes one dashboard page.
type Dashboard struct {
	Title     string
	Subtitle  string
	Records   []aggregate.FrameRecord
	MaxPoints int
}

// stride returns the sampling step keeping at most limit points.
func stride(n, limit int) int {
	if limit <= 0 || n <= limit {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(limit)))
}

// Render writes the dashboard HTML. The record set may already be filtered;
// the totals card is computed from it.
func (d Dashboard) Render(w io.Writer) error {
	if len(d.Records) == 0 {
		return ErrNoRecords
	}
	maxPoints := d.MaxPoints
	if maxPoints == 0 {
		maxPoints = DefaultMaxPoints
	}
	step := stride(len(d.Records), maxPoints)

	xs := make([]string, 0, len(d.Records)/step+1)
	totals := make([]opts.LineData, 0, cap(xs))
	violations := make([]opts.LineData, 0, cap(xs))
	inROI := make([]opts.LineData, 0, cap(xs))
	for i := 0; i < len(d.Records); i += step {
		r := d.Records[i]
		xs = append(xs, r.Timestamp.Format(axisTimeLayout))
		totals = append(totals, opts.LineData{Value: r.UniqueVehicleTotal})
		violations = append(violations, opts.LineData{Value: r.ViolationTotal})
		inROI = append(inROI, opts.LineData{Value: r.CurrentInROI})
	}

	page := components.NewPage()
	page.SetPageTitle(d.title())
	page.AddCharts(
		d.totalsChart(),
		lineChart("Vehicles Over Time", "Total_Count", xs, totals),
		lineChart("Violations Over Time", "Violation_Count", xs, violations),
		lineChart("Vehicles in ROI", "Current_Vehicles_in_ROI", xs, inROI),
		hourlyChart(analytics.Hourly(d.Records)),
		locationChart(d.Records),
	)
	return page.Render(w)
}

func (d Dashboard) title() string {
	if d.Title == "" {
		return "Lane Switching Violations"
	}
	return d.Title
}

func (d Dashboard) totalsChart() *charts.Gauge {
	s, err := analytics.Summarize(d.Records)
	pct := 0.0
	label := "n/a"
	if err == nil {
		pct = *s.ViolationPercentage
		label = fmt.Sprintf("%.2f%%", pct)
	}

	g := charts.NewGauge()
	g.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    d.title(),
			Subtitle: fmt.Sprintf("%s\nTotal vehicles: %d   Violations: %d   Violation %%: %s", d.Subtitle, s.PeakTotal, s.PeakViolations, label),
		}),
	)
	g.AddSeries("Violation %", []opts.GaugeData{{Name: "Violation %", Value: math.Round(pct*100) / 100}})
	return g
}

func lineChart(title, series string, xs []string, data []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Timestamp", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: series}),
	)
	line.SetXAxis(xs).AddSeries(series, data)
	return line
}

func hourlyChart(buckets []analytics.HourBucket) *charts.Bar {
	xs := make([]string, len(buckets))
	mean := make([]opts.BarData, len(buckets))
	peak := make([]opts.BarData, len(buckets))
	for i, b := range buckets {
		xs[i] = fmt.Sprintf("%02d:00", b.Hour)
		mean[i] = opts.BarData{Value: math.Round(b.MeanInROI*100) / 100}
		peak[i] = opts.BarData{Value: b.PeakInROI}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Vehicles in ROI by Hour"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(xs).
		AddSeries("mean", mean).
		AddSeries("peak", peak)
	return bar
}

// locationChart plots each distinct site as a longitude/latitude point.
func locationChart(records []aggregate.FrameRecord) *charts.Scatter {
	type site struct {
		name     string
		lon, lat float64
	}
	seen := make(map[site]struct{})
	var data []opts.ScatterData
	for _, r := range records {
		s := site{r.StreetName, r.Longitude, r.Latitude}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		data = append(data, opts.ScatterData{Name: s.name, Value: []interface{}{s.lon, s.lat}, SymbolSize: 14})
	}

	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Location"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Longitude", Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Latitude", Scale: opts.Bool(true)}),
	)
	sc.AddSeries("site", data)
	return sc
}
