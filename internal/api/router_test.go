package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/roadpulse/internal/api"
	"github.com/roadpulse/roadpulse/internal/api/models"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/network"
	"github.com/roadpulse/roadpulse/internal/pipeline"
	"github.com/roadpulse/roadpulse/internal/provider/resilience"
	"github.com/roadpulse/roadpulse/internal/snapshot"
	"github.com/roadpulse/roadpulse/internal/traffic"
	"github.com/roadpulse/roadpulse/pkg/polyline"
)

var area = geo.BBoxAround(orb.Point{139.7625, 35.702}, 2000)

type roadSource struct {
	err error
}

func (s *roadSource) Load(context.Context) ([]network.RawSegment, error) {
	if s.err != nil {
		return nil, s.err
	}
	line := func(lat float64) orb.LineString {
		return orb.LineString{{139.760, lat}, {139.765, lat}}
	}
	return []network.RawSegment{
		{ID: "001-1", RouteID: "001", Class: "3", Name: "本郷通り", CRS: geo.WGS84, Geometry: line(35.700)},
		{ID: "002-1", RouteID: "002", Class: "3", CRS: geo.WGS84, Geometry: line(35.702)},
		{ID: "003-1", RouteID: "003", Class: "4", CRS: geo.WGS84, Geometry: line(35.704)},
	}, nil
}

func (s *roadSource) Name() string { return "memory" }

type trafficSource struct{}

func (trafficSource) Fetch(context.Context, geo.BBox) ([]traffic.RawObservation, error) {
	return []traffic.RawObservation{
		{ID: "o1", Location: orb.Point{139.762, 35.7001}, CRS: geo.WGS84, SpeedKmh: traffic.Float(35)},
		{ID: "o2", Location: orb.Point{139.763, 35.7041}, CRS: geo.WGS84, SpeedKmh: traffic.Float(12)},
	}, nil
}

func (trafficSource) Name() string { return "memory" }

func newSnapshot(roads network.Source) *snapshot.Service {
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Roads:   roads,
		Traffic: trafficSource{},
		Logger:  zerolog.Nop(),
	})
	return snapshot.NewService(snapshot.ServiceConfig{
		Runner:   runner,
		Pipeline: pipeline.DefaultConfig(area),
		Logger:   zerolog.Nop(),
	})
}

func newTestRouterWith(snap api.SnapshotService) http.Handler {
	registry := resilience.NewRegistry()
	resilience.NewClient(resilience.ClientConfig{Name: "jartic", Registry: registry, Logger: zerolog.Nop()})

	return api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2025-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Snapshot:  snap,
		Registry:  registry,
	})
}

func newTestRouter() http.Handler {
	return newTestRouterWith(newSnapshot(&roadSource{}))
}

func serve(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/ops/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	router := newTestRouter()

	// Nothing computed yet, nothing failed.
	w := serve(t, router, http.MethodGet, "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	serve(t, router, http.MethodGet, "/v1/congestion")

	w = serve(t, router, http.MethodGet, "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, true, health.Details["hasData"])
}

func TestRouter_ReadinessCheck_FailsWithoutRoads(t *testing.T) {
	router := newTestRouterWith(newSnapshot(&roadSource{err: network.ErrFileNotFound}))

	serve(t, router, http.MethodGet, "/v1/congestion")

	w := serve(t, router, http.MethodGet, "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.NotEmpty(t, health.Details["lastError"])
}

func TestRouter_SystemStatus(t *testing.T) {
	router := newTestRouter()
	serve(t, router, http.MethodGet, "/v1/congestion")

	w := serve(t, router, http.MethodGet, "/v1/ops/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "pipeline", status.Subsystems[0].Name)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "jartic", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	require.NotNil(t, status.Snapshot)
	assert.True(t, status.Snapshot.HasData)
	assert.Equal(t, 3, status.Snapshot.Segments)
	assert.Equal(t, "live", status.Snapshot.Provenance)
}

func TestRouter_GetCongestion(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/congestion")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "live", w.Header().Get("X-Data-Provenance"))

	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)

	levels := map[string]string{}
	for _, f := range fc.Features {
		levels[f.Properties.MustString("segment_id")] = f.Properties.MustString("congestion_level")
	}
	assert.Equal(t, map[string]string{
		"001-1": "FREE",
		"002-1": "UNKNOWN",
		"003-1": "CONGESTED",
	}, levels)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "live", raw["provenance"])
	assert.NotEmpty(t, raw["runId"])
}

func TestRouter_GetCongestion_RoadDataUnavailable(t *testing.T) {
	router := newTestRouterWith(newSnapshot(&roadSource{err: network.ErrFileNotFound}))

	w := serve(t, router, http.MethodGet, "/v1/congestion")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeRoadDataUnavailable, problem.Type)
	assert.Equal(t, "/v1/congestion", problem.Instance)
}

func TestRouter_GetCongestion_MarksStaleData(t *testing.T) {
	roads := &roadSource{}
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	snap := snapshot.NewService(snapshot.ServiceConfig{
		Runner: pipeline.NewRunner(pipeline.RunnerConfig{
			Roads:   roads,
			Traffic: trafficSource{},
			Logger:  zerolog.Nop(),
		}),
		Pipeline: pipeline.DefaultConfig(area),
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return now },
	})
	router := newTestRouterWith(snap)

	fresh := serve(t, router, http.MethodGet, "/v1/congestion")
	require.Equal(t, http.StatusOK, fresh.Code)
	assert.Empty(t, fresh.Header().Get("X-Data-Stale"))
	assert.Empty(t, fresh.Header().Get("Age"))

	roads.err = network.ErrFileNotFound
	now = now.Add(10 * time.Minute)

	for _, path := range []string{"/v1/congestion", "/v1/congestion/segments", "/v1/congestion/statistics"} {
		w := serve(t, router, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "true", w.Header().Get("X-Data-Stale"), path)
		assert.Equal(t, "600", w.Header().Get("Age"), path)
	}
}

func TestRouter_ListSegments(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/congestion/segments")

	assert.Equal(t, http.StatusOK, w.Code)

	var list models.SegmentList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 3, list.Count)
	assert.Nil(t, list.Level)

	first := list.Segments[0]
	assert.Equal(t, "001-1", first.ID)
	assert.Equal(t, "本郷通り", first.Name)
	assert.Equal(t, "#00ff00", first.Color)
	assert.InDelta(t, 452, first.LengthM, 5)

	decoded, err := polyline.Decode(first.Polyline)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.InDelta(t, 139.760, decoded[0].Lon(), 1e-5)
	assert.InDelta(t, 35.700, decoded[0].Lat(), 1e-5)

	assert.Equal(t, network.DefaultRoadName, list.Segments[1].Name)
	assert.Nil(t, list.Segments[1].MeanSpeedKmh)
}

func TestRouter_ListSegments_FilterByLevel(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/congestion/segments?level=congested")

	assert.Equal(t, http.StatusOK, w.Code)

	var list models.SegmentList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.NotNil(t, list.Level)
	assert.Equal(t, "CONGESTED", *list.Level)
	require.Len(t, list.Segments, 1)
	assert.Equal(t, "003-1", list.Segments[0].ID)
	require.NotNil(t, list.Segments[0].MeanSpeedKmh)
	assert.Equal(t, 12.0, *list.Segments[0].MeanSpeedKmh)
}

func TestRouter_ListSegments_InvalidLevel(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/congestion/segments?level=jammed")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "level", problem.Errors[0].Field)
}

func TestRouter_GetStatistics(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/congestion/statistics")

	assert.Equal(t, http.StatusOK, w.Code)

	var stats models.CongestionStatistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))

	assert.Equal(t, 3, stats.Statistics.TotalRoads)
	assert.Equal(t, 1, stats.Statistics.Distribution["FREE"])
	assert.Equal(t, 33.3, stats.Statistics.Percentage["CONGESTED"])
	assert.Contains(t, stats.Trends, "3")
	assert.Contains(t, stats.Trends, "4")
	assert.Len(t, stats.SpeedRanges, 5)
	assert.Equal(t, 2, stats.Coverage.MatchedRoads)
	assert.Equal(t, 2, stats.Observations.Accepted)
	assert.Contains(t, stats.Summary, "対象道路数: 3路線")
}

func TestRouter_Refresh(t *testing.T) {
	router := newTestRouter()

	first := serve(t, router, http.MethodPost, "/v1/congestion:refresh")
	require.Equal(t, http.StatusOK, first.Code)
	second := serve(t, router, http.MethodPost, "/v1/congestion:refresh")
	require.Equal(t, http.StatusOK, second.Code)

	var a, b models.RefreshResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))

	assert.Equal(t, 3, a.Segments)
	assert.Equal(t, "live", a.Provenance)
	assert.Nil(t, a.FallbackReason)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/ops/health")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Greater(t, len(requestID), 10)
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "client-request-id-123")
	w := httptest.NewRecorder()

	newTestRouter().ServeHTTP(w, req)

	assert.Equal(t, "client-request-id-123", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodGet, "/v1/nonexistent")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeNotFound, problem.Type)
	assert.Equal(t, w.Header().Get("X-Request-Id"), problem.TraceID)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	w := serve(t, newTestRouter(), http.MethodDelete, "/v1/congestion")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeMethodNotAllowed, problem.Type)
}

func TestRouter_GetCongestion_NotAcceptable(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/congestion", http.NoBody)
	req.Header.Set("Accept", "text/csv")
	w := httptest.NewRecorder()

	newTestRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotAcceptable, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_GetCongestion_AcceptGeoJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/congestion", http.NoBody)
	req.Header.Set("Accept", "application/geo+json")
	w := httptest.NewRecorder()

	newTestRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger:      zerolog.Nop(),
		CORSOrigins: []string{"https://map.example"},
	})
	req := httptest.NewRequest(http.MethodOptions, "/v1/ops/status", http.NoBody)
	req.Header.Set("Origin", "https://map.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://map.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RequireTLS(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{Logger: zerolog.Nop(), RequireTLS: true})

	for proto, want := range map[string]int{"http": http.StatusForbidden, "https": http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
		req.Header.Set("X-Forwarded-Proto", proto)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, proto)
	}
}

func TestRouter_OpsOnlyWithoutSnapshot(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{Logger: zerolog.Nop()})

	assert.Equal(t, http.StatusOK, serve(t, router, http.MethodGet, "/v1/ops/status").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, router, http.MethodGet, "/v1/congestion").Code)
}

func TestRouter_CachesBetweenRequests(t *testing.T) {
	router := newTestRouter()

	read := func() string {
		w := serve(t, router, http.MethodGet, "/v1/congestion/statistics")
		var stats models.CongestionStatistics
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		return stats.RunID
	}

	assert.Equal(t, read(), read())
}
