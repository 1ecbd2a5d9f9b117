package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/laneguard/internal/aggregate"
)

var (
	totalColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	violationColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	inROIColor     = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// WritePNG draws the cumulative vehicle and violation totals, plus the
// in-ROI count, against time.
func WritePNG(w io.Writer, title string, records []aggregate.FrameRecord) error {
	if len(records) == 0 {
		return ErrNoRecords
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Vehicles"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02\n15:04"}

	totals := make(plotter.XYs, len(records))
	violations := make(plotter.XYs, len(records))
	inROI := make(plotter.XYs, len(records))
	for i, r := range records {
		x := float64(r.Timestamp.Unix())
		totals[i] = plotter.XY{X: x, Y: float64(r.UniqueVehicleTotal)}
		violations[i] = plotter.XY{X: x, Y: float64(r.ViolationTotal)}
		inROI[i] = plotter.XY{X: x, Y: float64(r.CurrentInROI)}
	}

	series := []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"Total_Count", totals, totalColor},
		{"Violation_Count", violations, violationColor},
		{"Current_Vehicles_in_ROI", inROI, inROIColor},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		line.Color = s.c
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Add(plotter.NewGrid())

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
