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
	"github.com/banshee-data/laneguard/internal/config"
	"github.com/banshee-data/laneguard/internal/db"
	"github.com/banshee-data/laneguard/internal/detect"
	"github.com/banshee-data/laneguard/internal/engine"
	"github.com/banshee-data/laneguard/internal/export"
	"github.com/banshee-data/laneguard/internal/monitoring"
	"github.com/banshee-data/laneguard/internal/timeutil"
)

// outputFlags are shared by the commands that run a session.
type outputFlags struct {
	config  *string
	dbPath  *string
	csvPath *string
	jsonOut *string
}

func addOutputFlags(fs *flag.FlagSet) outputFlags {
	return outputFlags{
		config:  fs.String("config", os.Getenv("LANEGUARD_CONFIG"), "Run configuration file (.json, .yaml or .yml)"),
		dbPath:  fs.String("db", envOr("LANEGUARD_DB", defaultDBPath), "Database path (empty to skip storage)"),
		csvPath: fs.String("csv", "", "Also write the frame records to this CSV file"),
		jsonOut: fs.String("json", "", "Also write the frame records to this JSON file"),
	}
}

// runJob is one session over a detection source.
type runJob struct {
	cfg        *config.RunConfig
	source     detect.Source
	sourceName string
	database   *db.DB
	csvPath    string
	jsonPath   string
	sinks      []engine.Sink
	clock      timeutil.Clock
}

// execute runs the session, stores it when a database is set and writes the
// requested exports. Cancelling ctx aborts the run; frames already processed
// stay stored and exported.
func (j runJob) execute(ctx context.Context, out io.Writer) (engine.RunStats, error) {
	if j.clock == nil {
		j.clock = timeutil.RealClock{}
	}
	engCfg, err := j.cfg.EngineConfig(j.clock)
	if err != nil {
		return engine.RunStats{}, err
	}
	sess, err := engine.NewSession(engCfg)
	if err != nil {
		return engine.RunStats{}, err
	}

	collector := &engine.Collector{}
	sinks := append([]engine.Sink{collector}, j.sinks...)

	if j.database != nil {
		cfgJSON, err := j.cfg.JSON()
		if err != nil {
			return engine.RunStats{}, err
		}
		loc := j.cfg.Location()
		if err := j.database.CreateRun(ctx, &db.Run{
			ID:         sess.ID(),
			Source:     j.sourceName,
			StreetName: loc.StreetName,
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			ConfigJSON: string(cfgJSON),
		}); err != nil {
			return engine.RunStats{}, err
		}
		sinks = append(sinks, db.NewRecordSink(j.database, 0))
	}

	monitoring.Logf("run %s: processing %s", sess.ID(), j.sourceName)
	start := time.Now()
	stats, runErr := sess.Run(ctx, j.source, sinks...)

	status := db.RunCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = db.RunAborted
	default:
		status = db.RunFailed
	}
	monitoring.Logf("run %s: %s after %d frames in %s", sess.ID(), status, stats.Frames, time.Since(start).Round(time.Millisecond))

	if j.database != nil {
		if err := j.database.FinishRun(context.WithoutCancel(ctx), sess.ID(), status, stats, runErr); err != nil {
			monitoring.Logf("run %s: failed to record status: %v", sess.ID(), err)
		}
	}

	records := collector.Records()
	if err := writeExports(records, j.csvPath, j.jsonPath); err != nil {
		return stats, errors.Join(runErr, err)
	}
	printRunSummary(out, sess.ID(), status, stats, records)
	return stats, runErr
}

func writeExports(records []aggregate.FrameRecord, csvPath, jsonPath string) error {
	write := func(path string, fn func(io.Writer) error) error {
		if path == "" {
			return nil
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		return f.Close()
	}
	if err := write(csvPath, func(w io.Writer) error { return export.WriteCSV(w, records) }); err != nil {
		return err
	}
	return write(jsonPath, func(w io.Writer) error { return export.WriteJSON(w, records) })
}

func printRunSummary(out io.Writer, runID string, status db.RunStatus, stats engine.RunStats, records []aggregate.FrameRecord) {
	fmt.Fprintf(out, "run %s %s\n", runID, status)
	fmt.Fprintf(out, "  frames:           %d\n", stats.Frames)
	fmt.Fprintf(out, "  unique vehicles:  %d\n", stats.UniqueVehicles)
	fmt.Fprintf(out, "  violations:       %d\n", stats.Violations)
	if stats.DetectorErrors > 0 || stats.Malformed > 0 || stats.Filtered > 0 {
		fmt.Fprintf(out, "  detector errors:  %d  malformed: %d  filtered: %d\n",
			stats.DetectorErrors, stats.Malformed, stats.Filtered)
	}
	if stats.Evicted > 0 {
		fmt.Fprintf(out, "  evicted ids:      %d\n", stats.Evicted)
	}
	sum, err := analytics.Summarize(records)
	fmt.Fprintf(out, "  violation %%:      %s\n", formatPercentage(sum, err))
}

func formatPercentage(s analytics.Summary, err error) string {
	if err != nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *s.ViolationPercentage)
}

func openDB(path string) (*db.DB, error) {
	if path == "" {
		return nil, nil
	}
	return db.NewDB(path)
}

func runProcess(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	outputs := addOutputFlags(fs)
	input := fs.String("input", "", "Detections file, one JSON frame per line (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return errors.New("-input is required")
	}

	cfg, err := loadConfig(*outputs.config)
	if err != nil {
		return err
	}
	src, err := detect.OpenReplay(*input)
	if err != nil {
		return err
	}
	defer src.Close()

	database, err := openDB(*outputs.dbPath)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	_, err = runJob{
		cfg:        cfg,
		source:     src,
		sourceName: *input,
		database:   database,
		csvPath:    *outputs.csvPath,
		jsonPath:   *outputs.jsonOut,
	}.execute(ctx, out)
	return err
}

func runDetectRemote(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("detect-remote", flag.ContinueOnError)
	outputs := addOutputFlags(fs)
	frames := fs.String("frames", "", "Directory of frame images (required)")
	endpoint := fs.String("endpoint", "", "Detector service URL (required)")
	timeout := fs.Duration("timeout", detect.DefaultDetectTimeout, "Per-frame detector timeout")
	retries := fs.Int("retries", 1, "Retries per frame on transport errors")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *frames == "" || *endpoint == "" {
		fs.Usage()
		return errors.New("-frames and -endpoint are required")
	}

	cfg, err := loadConfig(*outputs.config)
	if err != nil {
		return err
	}
	paths, err := detect.ListFrames(*frames)
	if err != nil {
		return err
	}
	src := detect.NewRemoteDetector(*endpoint, paths, detect.WithTimeout(*timeout), detect.WithRetries(*retries))
	defer src.Close()

	database, err := openDB(*outputs.dbPath)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	_, err = runJob{
		cfg:        cfg,
		source:     src,
		sourceName: *frames,
		database:   database,
		csvPath:    *outputs.csvPath,
		jsonPath:   *outputs.jsonOut,
	}.execute(ctx, out)
	return err
}
