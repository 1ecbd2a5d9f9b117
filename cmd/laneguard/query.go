package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/analytics"
	"github.com/banshee-data/laneguard/internal/db"
	"github.com/banshee-data/laneguard/internal/report"
)

// filterFlags mirror the API filter query parameters.
type filterFlags struct {
	from, to       *string
	hourMin        *int
	hourMax        *int
	enforceHourMax *bool
	days           *string
}

func addFilterFlags(fs *flag.FlagSet) filterFlags {
	return filterFlags{
		from:           fs.String("from", "", "First date to include (YYYY-MM-DD)"),
		to:             fs.String("to", "", "Last date to include (YYYY-MM-DD)"),
		hourMin:        fs.Int("hour-min", 0, "Earliest hour of day to include"),
		hourMax:        fs.Int("hour-max", 23, "Latest hour of day to include (needs -enforce-hour-max)"),
		enforceHourMax: fs.Bool("enforce-hour-max", false, "Apply -hour-max as an upper bound"),
		days:           fs.String("days", "", "Weekdays to include, e.g. Mon,Tue"),
	}
}

func (ff filterFlags) filter() (analytics.Filter, error) {
	f := analytics.Filter{
		HourMin:        *ff.hourMin,
		HourMax:        *ff.hourMax,
		EnforceHourMax: *ff.enforceHourMax,
	}
	var err error
	if *ff.from != "" {
		if f.From, err = time.Parse(time.DateOnly, *ff.from); err != nil {
			return f, fmt.Errorf("invalid -from: %w", err)
		}
	}
	if *ff.to != "" {
		if f.To, err = time.Parse(time.DateOnly, *ff.to); err != nil {
			return f, fmt.Errorf("invalid -to: %w", err)
		}
	}
	if f.Days, err = analytics.ParseDays(*ff.days); err != nil {
		return f, err
	}
	return f, f.Validate()
}

// loadRecords opens dbPath read-write (migrations applied) and returns the
// run with its filtered records.
func loadRecords(ctx context.Context, dbPath, runID string, f analytics.Filter) (*db.Run, []aggregate.FrameRecord, error) {
	database, err := db.NewDB(dbPath)
	if err != nil {
		return nil, nil, err
	}
	defer database.Close()

	if runID == "" {
		runs, err := database.ListRuns(ctx, 1)
		if err != nil {
			return nil, nil, err
		}
		if len(runs) == 0 {
			return nil, nil, errors.New("no runs stored")
		}
		runID = runs[0].ID
	}
	run, err := database.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	records, err := database.FrameRecords(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, f.Apply(records), nil
}

func runSummary(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("LANEGUARD_DB", defaultDBPath), "Database path")
	runID := fs.String("run", "", "Run ID (default: most recent run)")
	ff := addFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := ff.filter()
	if err != nil {
		return err
	}
	run, records, err := loadRecords(ctx, *dbPath, *runID, f)
	if err != nil {
		return err
	}

	sum, err := analytics.Summarize(records)
	if err != nil && !errors.Is(err, analytics.ErrUndefinedRatio) {
		return err
	}
	fmt.Fprintf(out, "run %s (%s) %s\n", run.ID, run.Status, run.StreetName)
	fmt.Fprintf(out, "  filter:           %s\n", f)
	fmt.Fprintf(out, "  records:          %d\n", sum.Records)
	fmt.Fprintf(out, "  total vehicles:   %d\n", sum.PeakTotal)
	fmt.Fprintf(out, "  violations:       %d\n", sum.PeakViolations)
	fmt.Fprintf(out, "  violation %%:      %s\n", formatPercentage(sum, err))
	fmt.Fprintf(out, "  in ROI peak/mean/p85: %d / %.2f / %.2f\n", sum.PeakInROI, sum.MeanInROI, sum.P85InROI)
	return nil
}

func runPlot(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("LANEGUARD_DB", defaultDBPath), "Database path")
	runID := fs.String("run", "", "Run ID (default: most recent run)")
	outPath := fs.String("out", "laneguard.png", "Output PNG path")
	ff := addFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := ff.filter()
	if err != nil {
		return err
	}
	run, records, err := loadRecords(ctx, *dbPath, *runID, f)
	if err != nil {
		return err
	}

	file, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s (run %s)", run.StreetName, run.ID)
	if err := report.WritePNG(file, title, records); err != nil {
		file.Close()
		os.Remove(*outPath)
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d records)\n", *outPath, len(records))
	return nil
}
