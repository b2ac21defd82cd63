package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/network"
	"github.com/roadpulse/roadpulse/internal/network/ksj"
	"github.com/roadpulse/roadpulse/internal/pipeline"
	"github.com/roadpulse/roadpulse/internal/traffic"
)

var (
	center = orb.Point{139.7625, 35.702}
	area   = geo.BBoxAround(center, 2000)
	clock  = time.Date(2025, 3, 12, 14, 7, 0, 0, traffic.JST)
)

type roadSource struct {
	segments []network.RawSegment
	err      error
}

func (s *roadSource) Load(ctx context.Context) ([]network.RawSegment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.segments, nil
}

func (s *roadSource) Name() string { return "memory" }

type trafficSource struct {
	observations []traffic.RawObservation
	err          error
	block        bool
	calls        atomic.Int32
}

func (s *trafficSource) Fetch(ctx context.Context, _ geo.BBox) ([]traffic.RawObservation, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, &traffic.FetchError{Source: "memory", Kind: traffic.ErrTimeout, Err: ctx.Err()}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.observations, nil
}

func (s *trafficSource) Name() string { return "memory" }

// threeRoads returns three parallel east-west segments about 220 m apart.
func threeRoads() *roadSource {
	line := func(lat float64) orb.LineString {
		return orb.LineString{{139.760, lat}, {139.765, lat}}
	}
	return &roadSource{segments: []network.RawSegment{
		{ID: "001-1", RouteID: "001", Class: "3", CRS: geo.WGS84, Geometry: line(35.700)},
		{ID: "002-1", RouteID: "002", Class: "3", CRS: geo.WGS84, Geometry: line(35.702)},
		{ID: "003-1", RouteID: "003", Class: "4", CRS: geo.WGS84, Geometry: line(35.704)},
	}}
}

func observation(id string, lon, lat, speed float64) traffic.RawObservation {
	return traffic.RawObservation{
		ID:       id,
		Location: orb.Point{lon, lat},
		CRS:      geo.WGS84,
		SpeedKmh: traffic.Float(speed),
	}
}

func run(t *testing.T, roads network.Source, obs traffic.Source, cfg pipeline.Config) (*pipeline.Result, error) {
	t.Helper()
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Roads:   roads,
		Traffic: obs,
		Now:     func() time.Time { return clock },
	})
	return runner.Run(context.Background(), cfg)
}

func levels(res *pipeline.Result) map[string]congestion.Level {
	out := make(map[string]congestion.Level, len(res.Features))
	for _, f := range res.Features {
		out[f.Segment.ID] = f.Result.Level
	}
	return out
}

func TestRun_SingleFreeObservation(t *testing.T) {
	obs := &trafficSource{observations: []traffic.RawObservation{
		observation("o1", 139.762, 35.7001, 35),
	}}

	res, err := run(t, threeRoads(), obs, pipeline.DefaultConfig(area))
	require.NoError(t, err)

	assert.Equal(t, pipeline.ProvenanceLive, res.Provenance)
	assert.Equal(t, map[string]congestion.Level{
		"001-1": congestion.LevelFree,
		"002-1": congestion.LevelUnknown,
		"003-1": congestion.LevelUnknown,
	}, levels(res))

	f, ok := res.Feature("001-1")
	require.True(t, ok)
	require.NotNil(t, f.Result.MeanSpeedKmh)
	assert.Equal(t, 35.0, *f.Result.MeanSpeedKmh)
	assert.Equal(t, 1, f.Result.ObservationCount)
	assert.Greater(t, f.Result.Quality, 0.0)

	assert.Equal(t, 1, res.Coverage.MatchedRoads)
	assert.Equal(t, 1, res.Statistics.Distribution[congestion.LevelFree])
	assert.Equal(t, 2, res.Statistics.Distribution[congestion.LevelUnknown])
}

func TestRun_BoundaryMeanIsModerate(t *testing.T) {
	obs := &trafficSource{observations: []traffic.RawObservation{
		observation("o1", 139.761, 35.7001, 18),
		observation("o2", 139.763, 35.6999, 22),
	}}

	res, err := run(t, threeRoads(), obs, pipeline.DefaultConfig(area))
	require.NoError(t, err)

	f, ok := res.Feature("001-1")
	require.True(t, ok)
	require.NotNil(t, f.Result.MeanSpeedKmh)
	assert.Equal(t, 20.0, *f.Result.MeanSpeedKmh)
	assert.Equal(t, congestion.LevelModerate, f.Result.Level)
	assert.Equal(t, 2, f.Result.ObservationCount)
}

func TestRun_TrafficTimeoutFallsBackToSynthetic(t *testing.T) {
	obs := &trafficSource{err: &traffic.FetchError{
		Source: "memory",
		Kind:   traffic.ErrTimeout,
		Err:    context.DeadlineExceeded,
	}}

	res, err := run(t, threeRoads(), obs, pipeline.DefaultConfig(area))
	require.NoError(t, err)

	assert.Equal(t, pipeline.ProvenanceSynthetic, res.Provenance)
	assert.True(t, res.Synthetic())
	assert.Equal(t, "synthetic", res.TrafficSource)
	assert.NotEmpty(t, res.FallbackReason)
	assert.Len(t, res.Features, 3)
	assert.Equal(t, traffic.SyntheticPoints, res.Observations)
}

func TestRun_FetchTimeoutBoundsSlowSource(t *testing.T) {
	obs := &trafficSource{block: true}
	cfg := pipeline.DefaultConfig(area)
	cfg.FetchTimeout = 20 * time.Millisecond

	res, err := run(t, threeRoads(), obs, cfg)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ProvenanceSynthetic, res.Provenance)
	assert.Len(t, res.Features, 3)
}

func TestRun_MissingRoadArchiveFails(t *testing.T) {
	loader := ksj.NewLoader(ksj.LoaderConfig{Path: filepath.Join(t.TempDir(), "missing.zip")})
	obs := &trafficSource{observations: []traffic.RawObservation{
		observation("o1", 139.762, 35.7001, 35),
	}}

	res, err := run(t, loader, obs, pipeline.DefaultConfig(area))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pipeline.ErrRoadDataUnavailable)
	assert.ErrorIs(t, err, network.ErrFileNotFound)
}

func TestRun_RoadFailures(t *testing.T) {
	tests := []struct {
		name  string
		roads *roadSource
	}{
		{"format error", &roadSource{err: &network.FormatError{Source: "memory", Detail: "no layer"}}},
		{"other error", &roadSource{err: errors.New("disk on fire")}},
		{"reference frame", &roadSource{segments: []network.RawSegment{
			{ID: "x", CRS: geo.CRS("EPSG:2451"), Geometry: orb.LineString{{0, 0}, {1, 1}}},
		}}},
		{"undeclared frame", &roadSource{segments: []network.RawSegment{
			{ID: "x", Geometry: orb.LineString{{139.76, 35.70}, {139.77, 35.70}}},
		}}},
		{"duplicate ids", &roadSource{segments: []network.RawSegment{
			{ID: "x", CRS: geo.WGS84, Geometry: orb.LineString{{139.76, 35.70}, {139.77, 35.70}}},
			{ID: "x", CRS: geo.WGS84, Geometry: orb.LineString{{139.76, 35.71}, {139.77, 35.71}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := run(t, tt.roads, &trafficSource{}, pipeline.DefaultConfig(area))
			assert.Nil(t, res)
			assert.ErrorIs(t, err, pipeline.ErrRoadDataUnavailable)
		})
	}
}

func TestRun_RoadReferenceFrameErrorIsTyped(t *testing.T) {
	roads := &roadSource{segments: []network.RawSegment{
		{ID: "x", CRS: geo.CRS("EPSG:2451"), Geometry: orb.LineString{{0, 0}, {1, 1}}},
	}}

	_, err := run(t, roads, &trafficSource{}, pipeline.DefaultConfig(area))

	var refErr *geo.ReferenceFrameError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "x", refErr.FeatureID)
}

func TestRun_FallbackTriggers(t *testing.T) {
	tests := []struct {
		name string
		obs  *trafficSource
	}{
		{"network error", &trafficSource{err: &traffic.FetchError{Source: "memory", Kind: traffic.ErrNetwork, Err: errors.New("refused")}}},
		{"unclassified error", &trafficSource{err: errors.New("boom")}},
		{"empty", &trafficSource{}},
		{"all outside bbox", &trafficSource{observations: []traffic.RawObservation{
			observation("far", 135.5, 34.7, 40),
		}}},
		{"observation frame", &trafficSource{observations: []traffic.RawObservation{
			{ID: "o1", Location: orb.Point{139.762, 35.7001}, SpeedKmh: traffic.Float(30)},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := run(t, threeRoads(), tt.obs, pipeline.DefaultConfig(area))
			require.NoError(t, err)
			assert.Equal(t, pipeline.ProvenanceSynthetic, res.Provenance)
			assert.NotEmpty(t, res.FallbackReason)
			assert.Len(t, res.Features, 3)
		})
	}
}

func TestRun_FallbackDisabled(t *testing.T) {
	cfg := pipeline.DefaultConfig(area)
	cfg.UseSyntheticFallback = false

	res, err := run(t, threeRoads(), &trafficSource{err: errors.New("boom")}, cfg)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pipeline.ErrTrafficDataUnavailable)
}

func TestRun_ForceSyntheticSkipsSource(t *testing.T) {
	obs := &trafficSource{observations: []traffic.RawObservation{
		observation("o1", 139.762, 35.7001, 35),
	}}
	cfg := pipeline.DefaultConfig(area)
	cfg.ForceSynthetic = true
	cfg.UseSyntheticFallback = false

	res, err := run(t, threeRoads(), obs, cfg)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ProvenanceSynthetic, res.Provenance)
	assert.Equal(t, int32(0), obs.calls.Load())
}

func TestRun_SyntheticSourceIsTaggedSynthetic(t *testing.T) {
	src := traffic.NewSyntheticSource(func() time.Time { return clock })

	res, err := run(t, threeRoads(), src, pipeline.DefaultConfig(area))
	require.NoError(t, err)
	assert.Equal(t, pipeline.ProvenanceSynthetic, res.Provenance)
	assert.Empty(t, res.FallbackReason)
}

func TestRun_RejectedObservationsAreCounted(t *testing.T) {
	obs := &trafficSource{observations: []traffic.RawObservation{
		observation("o1", 139.762, 35.7001, 35),
		observation("o2", 139.762, 35.7001, -4),
		observation("o3", 135.5, 34.7, 40),
	}}

	res, err := run(t, threeRoads(), obs, pipeline.DefaultConfig(area))
	require.NoError(t, err)
	assert.Equal(t, pipeline.ProvenanceLive, res.Provenance)
	assert.Equal(t, 1, res.Observations)
	assert.Equal(t, 2, res.RejectedObservations)
}

func TestRun_IsDeterministic(t *testing.T) {
	var raws []traffic.RawObservation
	for i := 0; i < 60; i++ {
		lat := 35.700 + float64(i%3)*0.002 + 0.0001
		lon := 139.7605 + float64(i)*0.00006
		raws = append(raws, observation(fmt.Sprintf("o%02d", i), lon, lat, float64(5+i)))
	}
	obs := &trafficSource{observations: raws}

	first, err := run(t, threeRoads(), obs, pipeline.DefaultConfig(area))
	require.NoError(t, err)
	second, err := run(t, threeRoads(), obs, pipeline.DefaultConfig(area))
	require.NoError(t, err)

	assert.Equal(t, first.Results(), second.Results())
	assert.Equal(t, first.Statistics, second.Statistics)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_EverySegmentOnce(t *testing.T) {
	res, err := run(t, threeRoads(), &trafficSource{}, pipeline.DefaultConfig(area))
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, f := range res.Features {
		seen[f.Segment.ID]++
		if f.Result.ObservationCount == 0 {
			assert.Equal(t, congestion.LevelUnknown, f.Result.Level)
		} else {
			assert.NotEqual(t, congestion.LevelUnknown, f.Result.Level)
		}
	}
	assert.Equal(t, map[string]int{"001-1": 1, "002-1": 1, "003-1": 1}, seen)
	assert.Equal(t, "001-1", res.Features[0].Segment.ID)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := pipeline.NewRunner(pipeline.RunnerConfig{Roads: threeRoads(), Traffic: &trafficSource{}})
	res, err := runner.Run(ctx, pipeline.DefaultConfig(area))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := pipeline.DefaultConfig(area)
	cfg.MaxDistanceM = 0

	_, err := run(t, threeRoads(), &trafficSource{}, cfg)
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)

	cfg = pipeline.DefaultConfig(area)
	cfg.Thresholds = congestion.Thresholds{FreeKmh: 10, ModerateKmh: 20}
	_, err = run(t, threeRoads(), &trafficSource{}, cfg)
	assert.ErrorIs(t, err, congestion.ErrInvalidThresholds)
}

func TestRun_PackageFunction(t *testing.T) {
	obs := &trafficSource{observations: []traffic.RawObservation{
		observation("o1", 139.762, 35.7001, 12),
	}}

	res, err := pipeline.Run(context.Background(), threeRoads(), obs, pipeline.DefaultConfig(area))
	require.NoError(t, err)
	assert.Equal(t, congestion.LevelCongested, levels(res)["001-1"])
}
