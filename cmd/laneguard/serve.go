package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/laneguard/internal/api"
	"github.com/banshee-data/laneguard/internal/config"
	"github.com/banshee-data/laneguard/internal/db"
	"github.com/banshee-data/laneguard/internal/detect"
	"github.com/banshee-data/laneguard/internal/engine"
	"github.com/banshee-data/laneguard/internal/monitoring"
)

// runServe serves the API until ctx is cancelled. With -input it also
// processes that replay, publishing every frame on /ws/live.
func runServe(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", envOr("LANEGUARD_LISTEN", ":8080"), "Listen address")
	dbPath := fs.String("db", envOr("LANEGUARD_DB", defaultDBPath), "Database path")
	cfgPath := fs.String("config", envOr("LANEGUARD_CONFIG", ""), "Run configuration file")
	input := fs.String("input", "", "Optional detections file to process while serving")
	pace := fs.Duration("pace", 0, "Delay between replayed frames, for watching the live feed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen == "" {
		return errors.New("listen address is required")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	database, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	hub := api.NewHub()
	defer hub.Close()

	mux := api.NewServer(database, hub, cfg).ServeMux()
	// mount the admin debugging routes (accessible only over loopback or Tailscale)
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	errc := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	if *input != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveReplay(ctx, cfg, *input, *pace, database, hub, out); err != nil {
				monitoring.Logf("replay %s: %v", *input, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cancelRun()
	hub.Close()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		monitoring.Logf("HTTP server shutdown error: %v", serr)
	}
	wg.Wait()
	return err
}

func serveReplay(ctx context.Context, cfg *config.RunConfig, input string, pace time.Duration, database *db.DB, hub *api.Hub, out io.Writer) error {
	src, err := detect.OpenReplay(input)
	if err != nil {
		return err
	}
	defer src.Close()

	sinks := []engine.Sink{hub}
	if pace > 0 {
		sinks = append(sinks, engine.SinkFunc(func(ctx context.Context, _ engine.FrameResult) error {
			select {
			case <-time.After(pace):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
	}

	_, err = runJob{
		cfg:        cfg,
		source:     src,
		sourceName: input,
		database:   database,
		sinks:      sinks,
	}.execute(ctx, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
