package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/banshee-data/laneguard/internal/config"
	"github.com/banshee-data/laneguard/internal/db"
	"github.com/banshee-data/laneguard/internal/engine"
	"github.com/banshee-data/laneguard/internal/monitoring"
	"github.com/banshee-data/laneguard/internal/version"
)

const defaultDBPath = "laneguard.db"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	flag.Usage = func() { printUsage(os.Stderr) }
	dev := flag.Bool("dev", false, "Human-readable development logging")
	verbose := flag.Bool("v", false, "Log per-frame engine telemetry")
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	logger, err := monitoring.NewZap(*dev)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	monitoring.UseZap(logger)
	defer monitoring.Sync()
	setEngineLogging(logger, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "process":
		err = runProcess(ctx, args, os.Stdout)
	case "detect-remote":
		err = runDetectRemote(ctx, args, os.Stdout)
	case "serve":
		err = runServe(ctx, args, os.Stdout)
	case "summary":
		err = runSummary(ctx, args, os.Stdout)
	case "plot":
		err = runPlot(ctx, args, os.Stdout)
	case "migrate":
		err = runMigrate(args, os.Stdout)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		monitoring.Sync()
		fmt.Fprintf(os.Stderr, "laneguard %s: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `laneguard - lane-switching violation counter

Usage: laneguard [-dev] [-v] <command> [options]

Commands:
  process        Process a recorded detections file (JSON lines)
  detect-remote  Send a directory of frames to a detector service and process the results
  serve          Serve the HTTP API, dashboard and live feed
  summary        Print the summary of a stored run
  plot           Write a PNG chart of a stored run
  migrate        Manage the database schema (up, down, status, version N, force N)
  version        Show the laneguard version
  help           Show this help message

Environment (also read from .env):
  LANEGUARD_DB       Database path (default laneguard.db)
  LANEGUARD_CONFIG   Run configuration file (.json, .yaml or .yml)
  LANEGUARD_LISTEN   HTTP listen address for serve (default :8080)`)
}

// setEngineLogging routes the engine ops and diag streams to zap; the trace
// stream only when verbose.
func setEngineLogging(l *zap.Logger, verbose bool) {
	var trace io.Writer
	if verbose {
		trace = monitoring.ZapWriter(l, zapcore.DebugLevel, "engine.trace")
	}
	engine.SetLogWriters(
		monitoring.ZapWriter(l, zapcore.WarnLevel, "engine.ops"),
		monitoring.ZapWriter(l, zapcore.InfoLevel, "engine.diag"),
		trace,
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadConfig reads path, or returns the built-in Olaya Road defaults when
// path is empty.
func loadConfig(path string) (*config.RunConfig, error) {
	if path == "" {
		return &config.RunConfig{}, nil
	}
	return config.Load(path)
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("LANEGUARD_DB", defaultDBPath), "Database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, out)
}
