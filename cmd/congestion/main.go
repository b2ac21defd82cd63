// Package main runs the congestion pipeline once and writes the GeoJSON result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/app"
	"github.com/roadpulse/roadpulse/internal/config"
	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/export"
	"github.com/roadpulse/roadpulse/internal/pipeline"
)

var (
	configPath = flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	out        = flag.String("out", "congestion.geojson", "output GeoJSON file, '-' for stdout")
	summary    = flag.Bool("summary", false, "print the text summary to stderr")
	synthetic  = flag.Bool("synthetic", false, "use synthetic traffic instead of the live provider")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()

	_ = godotenv.Load() //nolint:errcheck // .env is optional

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error().Err(err).Msg("congestion run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, log zerolog.Logger) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *synthetic {
		cfg.Traffic.Provider = config.TrafficProviderSynthetic
	}

	sources, err := app.NewSources(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sources.Close()

	runner, err := app.NewRunner(sources, log)
	if err != nil {
		return err
	}
	pcfg, err := cfg.Pipeline()
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx, pcfg)
	if err != nil {
		return err
	}

	if *out == "-" {
		err = writeResult(os.Stdout, res)
	} else {
		err = writeFile(*out, res)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", res.RunID).
		Str("provenance", string(res.Provenance)).
		Int("segments", len(res.Features)).
		Dur("duration", res.Duration).
		Str("out", *out).
		Msg("congestion written")

	if *summary {
		fmt.Fprintln(os.Stderr, congestion.Summary(res.Statistics))
	}
	return nil
}

func writeFile(path string, res *pipeline.Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return writeResult(f, res)
}

// writeResult encodes the run as an indented GeoJSON FeatureCollection.
func writeResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export.FeatureCollection(res)); err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	return nil
}
