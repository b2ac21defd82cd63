package handler

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/api/models"
	"github.com/roadpulse/roadpulse/internal/api/response"
	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/export"
	"github.com/roadpulse/roadpulse/internal/pipeline"
	"github.com/roadpulse/roadpulse/pkg/polyline"
)

// Snapshots serves cached congestion results.
type Snapshots interface {
	Current(ctx context.Context) (*pipeline.Result, error)
	Refresh(ctx context.Context) (*pipeline.Result, error)
	Invalidate()
}

// CongestionHandler handles congestion endpoints.
type CongestionHandler struct {
	snapshots Snapshots
	logger    zerolog.Logger
}

// NewCongestionHandler creates a new CongestionHandler.
func NewCongestionHandler(snapshots Snapshots, logger zerolog.Logger) *CongestionHandler {
	return &CongestionHandler{
		snapshots: snapshots,
		logger:    logger.With().Str("handler", "congestion").Logger(),
	}
}

// GetCongestion handles GET /v1/congestion - the classified network as GeoJSON.
func (h *CongestionHandler) GetCongestion(w http.ResponseWriter, r *http.Request) {
	res, err := h.snapshots.Current(r.Context())
	if err != nil {
		h.runError(w, r, err)
		return
	}

	dataHeaders(w, res)
	response.GeoJSON(w, r, http.StatusOK, export.FeatureCollection(res))
}

// ListSegments handles GET /v1/congestion/segments - compact segment list,
// optionally filtered by ?level=.
func (h *CongestionHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	var filter *congestion.Level
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, err := congestion.ParseLevel(raw)
		if err != nil {
			response.BadRequest(w, r, "invalid level", []models.FieldError{
				{Field: "level", Message: "must be one of FREE, MODERATE, CONGESTED, UNKNOWN"},
			})
			return
		}
		filter = &level
	}

	res, err := h.snapshots.Current(r.Context())
	if err != nil {
		h.runError(w, r, err)
		return
	}

	list := models.SegmentList{
		RunID:       res.RunID,
		GeneratedAt: models.Timestamp(res.GeneratedAt),
		Provenance:  string(res.Provenance),
		Segments:    make([]models.SegmentSummary, 0, len(res.Features)),
	}
	if filter != nil {
		level := string(*filter)
		list.Level = &level
	}

	for _, f := range res.Features {
		if filter != nil && f.Result.Level != *filter {
			continue
		}
		list.Segments = append(list.Segments, segmentSummary(f))
	}
	list.Count = len(list.Segments)

	dataHeaders(w, res)
	response.JSON(w, r, http.StatusOK, list)
}

// GetStatistics handles GET /v1/congestion/statistics.
func (h *CongestionHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	res, err := h.snapshots.Current(r.Context())
	if err != nil {
		h.runError(w, r, err)
		return
	}

	results := res.Results()
	stats := models.CongestionStatistics{
		RunID:       res.RunID,
		GeneratedAt: models.Timestamp(res.GeneratedAt),
		Provenance:  string(res.Provenance),
		BBox: models.BBox{
			MinLon: res.BBox.MinLon,
			MinLat: res.BBox.MinLat,
			MaxLon: res.BBox.MaxLon,
			MaxLat: res.BBox.MaxLat,
		},
		Statistics:  res.Statistics,
		Trends:      congestion.TrendsByRoadClass(results),
		SpeedRanges: congestion.SpeedRanges(results),
		Coverage:    res.Coverage,
		Summary:     congestion.Summary(res.Statistics),
		Observations: models.ObservationCounts{
			Accepted: res.Observations,
			Rejected: res.RejectedObservations,
		},
	}

	dataHeaders(w, res)
	response.JSON(w, r, http.StatusOK, stats)
}

// Refresh handles POST /v1/congestion:refresh - drop the cache and recompute.
func (h *CongestionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.snapshots.Invalidate()
	res, err := h.snapshots.Refresh(r.Context())
	if err != nil {
		h.runError(w, r, err)
		return
	}

	out := models.RefreshResult{
		RunID:       res.RunID,
		GeneratedAt: models.Timestamp(res.GeneratedAt),
		Provenance:  string(res.Provenance),
		Segments:    len(res.Features),
		DurationMs:  res.Duration.Milliseconds(),
	}
	if res.FallbackReason != "" {
		reason := res.FallbackReason
		out.FallbackReason = &reason
	}

	dataHeaders(w, res)
	response.JSON(w, r, http.StatusOK, out)
}

func (h *CongestionHandler) runError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRoadDataUnavailable):
		h.logger.Warn().Err(err).Msg("road data unavailable")
		response.RoadDataUnavailable(w, r, "road network could not be loaded")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(w, r, "congestion computation did not complete")
	default:
		h.logger.Error().Err(err).Msg("congestion computation failed")
		response.InternalError(w, r, "congestion computation failed")
	}
}

func dataHeaders(w http.ResponseWriter, res *pipeline.Result) {
	response.Provenance(w, string(res.Provenance))
	if res.Stale {
		response.Stale(w, res.Age)
	}
}

func segmentSummary(f pipeline.Feature) models.SegmentSummary {
	return models.SegmentSummary{
		ID:                f.Segment.ID,
		Name:              f.Segment.Name,
		RoadClass:         f.Segment.Class,
		Level:             string(f.Result.Level),
		Color:             f.Result.Level.Color(),
		Label:             f.Result.Level.Label(),
		MeanSpeedKmh:      f.Result.MeanSpeedKmh,
		MeanTravelTimeSec: f.Result.MeanTravelTimeSec,
		ObservationCount:  f.Result.ObservationCount,
		Quality:           f.Result.Quality,
		LengthM:           math.Round(polyline.Length(f.Segment.Geometry)*10) / 10,
		Polyline:          polyline.Encode(f.Segment.Geometry),
	}
}
