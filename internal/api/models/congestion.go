package models

import (
	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/spatial"
)

// SegmentList is the compact segment listing for list views.
type SegmentList struct {
	RunID       string           `json:"runId"`
	GeneratedAt Timestamp        `json:"generatedAt"`
	Provenance  string           `json:"provenance"`
	Level       *string          `json:"level,omitempty"`
	Count       int              `json:"count"`
	Segments    []SegmentSummary `json:"segments"`
}

// SegmentSummary is one classified segment with its geometry as an
// encoded polyline.
type SegmentSummary struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	RoadClass         string   `json:"roadClass"`
	Level             string   `json:"level"`
	Color             string   `json:"color"`
	Label             string   `json:"label"`
	MeanSpeedKmh      *float64 `json:"meanSpeedKmh,omitempty"`
	MeanTravelTimeSec *float64 `json:"meanTravelTimeSec,omitempty"`
	ObservationCount  int      `json:"observationCount"`
	Quality           float64  `json:"quality"`
	LengthM           float64  `json:"lengthM"`
	Polyline          string   `json:"polyline"`
}

// CongestionStatistics is the statistics view of the current snapshot.
type CongestionStatistics struct {
	RunID        string                           `json:"runId"`
	GeneratedAt  Timestamp                        `json:"generatedAt"`
	Provenance   string                           `json:"provenance"`
	BBox         BBox                             `json:"bbox"`
	Statistics   congestion.Statistics            `json:"statistics"`
	Trends       map[string]congestion.Statistics `json:"trends"`
	SpeedRanges  []congestion.SpeedRange          `json:"speedRanges"`
	Coverage     spatial.Coverage                 `json:"coverage"`
	Summary      string                           `json:"summary"`
	Observations ObservationCounts                `json:"observations"`
}

// ObservationCounts reports the inputs of the run.
type ObservationCounts struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// RefreshResult is returned by the refresh endpoint.
type RefreshResult struct {
	RunID          string    `json:"runId"`
	GeneratedAt    Timestamp `json:"generatedAt"`
	Provenance     string    `json:"provenance"`
	FallbackReason *string   `json:"fallbackReason,omitempty"`
	Segments       int       `json:"segments"`
	DurationMs     int64     `json:"durationMs"`
}
