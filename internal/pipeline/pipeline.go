// Package pipeline runs one congestion computation: it loads the road
// network and the current observations, normalizes them, matches
// observations to segments, aggregates and classifies.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/network"
	"github.com/roadpulse/roadpulse/internal/spatial"
	"github.com/roadpulse/roadpulse/internal/traffic"
)

// Provenance tells whether the observations of a run were measured or generated.
type Provenance string

const (
	ProvenanceLive      Provenance = "live"
	ProvenanceSynthetic Provenance = "synthetic"
)

// Fallback reason kinds, used as metric attributes.
const (
	reasonForced         = "forced"
	reasonTimeout        = "timeout"
	reasonNetwork        = "network"
	reasonBadResponse    = "bad_response"
	reasonSourceError    = "source_error"
	reasonNoObservations = "no_observations"
	reasonReferenceFrame = "reference_frame"
)

// Feature is one road segment joined with its classification.
type Feature struct {
	Segment *network.Segment
	Result  congestion.Result
}

// Result is the output of one run. Features holds every normalized segment
// exactly once, in network order.
type Result struct {
	RunID          string
	GeneratedAt    time.Time
	BBox           geo.BBox
	Provenance     Provenance
	TrafficSource  string
	FallbackReason string

	Features   []Feature
	Statistics congestion.Statistics
	Coverage   spatial.Coverage

	Observations         int
	RejectedObservations int
	Duration             time.Duration

	// Stale marks a cached result served after a failed recomputation.
	// Age is how long before serving it was computed.
	Stale bool
	Age   time.Duration
}

// Synthetic reports whether the run used generated observations.
func (r *Result) Synthetic() bool {
	return r.Provenance == ProvenanceSynthetic
}

// Results returns the classification results in feature order.
func (r *Result) Results() []congestion.Result {
	out := make([]congestion.Result, len(r.Features))
	for i, f := range r.Features {
		out[i] = f.Result
	}
	return out
}

// Feature returns the feature of a segment.
func (r *Result) Feature(segmentID string) (Feature, bool) {
	for _, f := range r.Features {
		if f.Segment.ID == segmentID {
			return f, true
		}
	}
	return Feature{}, false
}

// RunnerConfig holds the collaborators of a Runner.
type RunnerConfig struct {
	Roads   network.Source
	Traffic traffic.Source
	Logger  zerolog.Logger

	// Metrics is optional; nil disables recording.
	Metrics *Metrics

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// Runner executes pipeline runs against fixed sources. It keeps no state
// between runs and is safe for concurrent use.
type Runner struct {
	roads   network.Source
	traffic traffic.Source
	logger  zerolog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		roads:   cfg.Roads,
		traffic: cfg.Traffic,
		logger:  cfg.Logger.With().Str("component", "pipeline").Logger(),
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(instrumentationName),
		now:     now,
	}
}

// Run executes a single run with a default Runner.
func Run(ctx context.Context, roads network.Source, obs traffic.Source, cfg Config) (*Result, error) {
	return NewRunner(RunnerConfig{Roads: roads, Traffic: obs, Logger: zerolog.Nop()}).Run(ctx, cfg)
}

type roadLoad struct {
	raw []network.RawSegment
	err error
}

type trafficFetch struct {
	raw []traffic.RawObservation
	err error
}

// Run loads both inputs concurrently, then normalizes, matches, aggregates
// and classifies. Road failures return ErrRoadDataUnavailable. Traffic
// failures fall back to synthetic observations unless the configuration
// disables it.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	classifier, err := congestion.NewClassifier(cfg.Thresholds, cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	start := r.now()
	res := &Result{
		RunID:       uuid.NewString(),
		GeneratedAt: start,
		BBox:        cfg.BBox,
		Provenance:  ProvenanceLive,
	}
	log := r.logger.With().Str("run_id", res.RunID).Logger()

	ctx, span := r.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run.id", res.RunID),
		attribute.String("bbox", cfg.BBox.String()),
	))
	defer span.End()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.recordRun(ctx, res.Provenance, "error", time.Since(start))
		log.Error().Err(err).Msg("pipeline run failed")
		return nil, err
	}

	roads, fetched := r.load(ctx, cfg)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if roads.err != nil {
		return fail(fmt.Errorf("%w: %s: %w", ErrRoadDataUnavailable, r.roads.Name(), roads.err))
	}

	proj := geo.ProjectorFor(cfg.BBox)

	_, nspan := r.tracer.Start(ctx, "pipeline.NormalizeRoads")
	net, err := spatial.NormalizeRoads(roads.raw, proj)
	nspan.SetAttributes(attribute.Int("segments.raw", len(roads.raw)))
	nspan.End()
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrRoadDataUnavailable, err))
	}
	log.Info().Int("segments", net.Len()).Str("source", r.roads.Name()).Msg("road network loaded")

	set, err := r.observations(ctx, cfg, proj, fetched, res, log)
	if err != nil {
		return fail(err)
	}
	res.Observations = len(set.Observations)
	res.RejectedObservations = set.Rejected

	mctx, mspan := r.tracer.Start(ctx, "pipeline.Match")
	matches, err := spatial.NewMatcher(net, cfg.MaxDistanceM).MatchAll(mctx, set.Observations, spatial.MatchOptions{Workers: cfg.Workers})
	mspan.SetAttributes(attribute.Int("matches", len(matches)))
	mspan.End()
	if err != nil {
		return fail(err)
	}

	aggs := spatial.Aggregate(matches, set.Observations)

	cctx, cspan := r.tracer.Start(ctx, "pipeline.Classify")
	results, err := classifier.ClassifyAll(cctx, net.Segments(), aggs, cfg.Workers)
	cspan.End()
	if err != nil {
		return fail(err)
	}

	segments := net.Segments()
	res.Features = make([]Feature, len(segments))
	for i, seg := range segments {
		res.Features[i] = Feature{Segment: seg, Result: results[i]}
	}
	res.Statistics = congestion.ComputeStatistics(results)
	res.Coverage = spatial.ComputeCoverage(matches, net.Len(), len(set.Observations))
	res.Duration = r.now().Sub(start)

	span.SetAttributes(
		attribute.String("provenance", string(res.Provenance)),
		attribute.Int("segments", net.Len()),
		attribute.Int("observations", res.Observations),
		attribute.Int("matches", len(matches)),
	)
	r.metrics.recordObservations(ctx, res.Coverage.MatchedPoints, res.Coverage.UnmatchedPoints)
	r.metrics.recordRun(ctx, res.Provenance, "ok", time.Since(start))

	log.Info().
		Str("provenance", string(res.Provenance)).
		Int("segments", net.Len()).
		Int("observations", res.Observations).
		Int("rejected", res.RejectedObservations).
		Int("matched_roads", res.Coverage.MatchedRoads).
		Float64("coverage_rate", res.Coverage.CoverageRate).
		Dur("duration", res.Duration).
		Msg("pipeline run completed")

	return res, nil
}

// load reads the road network and fetches observations concurrently. The
// fetch is bounded by cfg.FetchTimeout.
func (r *Runner) load(ctx context.Context, cfg Config) (roadLoad, trafficFetch) {
	var (
		wg      sync.WaitGroup
		roads   roadLoad
		fetched trafficFetch
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		lctx, span := r.tracer.Start(ctx, "pipeline.LoadRoads")
		defer span.End()
		roads.raw, roads.err = r.roads.Load(lctx)
		if roads.err != nil {
			span.RecordError(roads.err)
		}
	}()

	if !cfg.ForceSynthetic && r.traffic != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx := ctx
			if cfg.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
				defer cancel()
			}
			fctx, span := r.tracer.Start(fctx, "pipeline.FetchTraffic")
			defer span.End()
			fetched.raw, fetched.err = r.traffic.Fetch(fctx, cfg.BBox)
			if fetched.err == nil {
				if err := fctx.Err(); err != nil {
					fetched.err = err
				}
			}
			if fetched.err != nil {
				span.RecordError(fetched.err)
			}
		}()
	}

	wg.Wait()
	return roads, fetched
}

// observations normalizes the fetched observations, substituting the
// synthetic set when the live data is unusable.
func (r *Runner) observations(ctx context.Context, cfg Config, proj geo.Projector, fetched trafficFetch, res *Result, log zerolog.Logger) (spatial.ObservationSet, error) {
	var (
		kind   string
		reason string
	)

	switch {
	case cfg.ForceSynthetic:
		kind, reason = reasonForced, "synthetic observations requested"
	case r.traffic == nil:
		kind, reason = reasonSourceError, "no traffic source configured"
	case fetched.err != nil:
		kind, reason = fetchReason(fetched.err), fetched.err.Error()
	case len(fetched.raw) == 0:
		kind, reason = reasonNoObservations, "traffic source returned no observations"
	}

	if kind == "" {
		res.TrafficSource = r.traffic.Name()
		set, err := spatial.NormalizeObservations(fetched.raw, cfg.BBox, proj)
		switch {
		case err != nil:
			kind, reason = reasonReferenceFrame, err.Error()
		case len(set.Observations) == 0:
			kind, reason = reasonNoObservations, fmt.Sprintf("all %d observations rejected", set.Rejected)
		default:
			if allSynthetic(set.Observations) {
				res.Provenance = ProvenanceSynthetic
			}
			log.Info().
				Str("source", res.TrafficSource).
				Int("observations", len(set.Observations)).
				Int("rejected", set.Rejected).
				Msg("traffic observations loaded")
			return set, nil
		}
	}

	if kind != reasonForced && !cfg.UseSyntheticFallback {
		return spatial.ObservationSet{}, fmt.Errorf("%w: %s", ErrTrafficDataUnavailable, reason)
	}

	if kind != reasonForced {
		log.Warn().Str("reason", reason).Msg("live traffic unavailable, using synthetic observations")
		r.metrics.recordFallback(ctx, kind)
	}

	res.Provenance = ProvenanceSynthetic
	res.TrafficSource = "synthetic"
	res.FallbackReason = reason

	set, err := spatial.NormalizeObservations(traffic.Synthesize(cfg.BBox, res.GeneratedAt), cfg.BBox, proj)
	if err != nil {
		return spatial.ObservationSet{}, fmt.Errorf("synthetic observations: %w", err)
	}
	return set, nil
}

func fetchReason(err error) string {
	var refErr *geo.ReferenceFrameError
	switch {
	case errors.Is(err, traffic.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, traffic.ErrNetwork):
		return reasonNetwork
	case errors.Is(err, traffic.ErrBadResponse):
		return reasonBadResponse
	case errors.As(err, &refErr):
		return reasonReferenceFrame
	default:
		return reasonSourceError
	}
}

func allSynthetic(observations []traffic.Observation) bool {
	for _, o := range observations {
		if !o.Synthetic {
			return false
		}
	}
	return len(observations) > 0
}
