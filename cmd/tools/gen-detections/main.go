// Command gen-detections generates a synthetic detections file for the
// process and serve commands.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"

	"github.com/banshee-data/laneguard/internal/config"
	"github.com/banshee-data/laneguard/internal/detect"
)

func main() {
	output := flag.String("o", "sample.jsonl", "output path")
	cfgPath := flag.String("config", "", "run configuration supplying the lane layout")
	frames := flag.Int("n", 600, "number of frames")
	rate := flag.Float64("rate", 0.6, "mean vehicles entering per frame")
	switchProb := flag.Float64("switch", 0.01, "per-frame lane change probability")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	cfg := &config.RunConfig{}
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	layout, err := cfg.Layout()
	if err != nil {
		log.Fatalf("invalid layout: %v", err)
	}

	sc := detect.DefaultSyntheticConfig(layout)
	sc.Frames = *frames
	sc.ArrivalRate = *rate
	sc.SwitchProb = *switchProb
	sc.Seed = *seed
	src, err := detect.NewSyntheticSource(sc)
	if err != nil {
		log.Fatal(err)
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatal(err)
	}
	w := detect.NewReplayWriter(f)
	for i := 0; ; i++ {
		fr, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		if err := w.Write(fr); err != nil {
			log.Fatal(err)
		}
		if (i+1)%100 == 0 {
			log.Printf("%d/%d frames", i+1, *frames)
		}
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("✓ Created: %s", *output)
}
