// Package export renders pipeline results for map clients.
package export

import (
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/pipeline"
)

// Feature property keys.
const (
	PropSegmentID        = "segment_id"
	PropRoadName         = "road_name"
	PropRoadClass        = "road_class"
	PropLevel            = "congestion_level"
	PropColor            = "congestion_color"
	PropLabel            = "speed_category"
	PropMeanSpeed        = "mean_speed_kmh"
	PropSpeedStdDev      = "speed_std_dev"
	PropTravelTime       = "mean_travel_time_sec"
	PropObservationCount = "observation_count"
	PropQuality          = "quality"
	PropTooltip          = "tooltip"
)

// FeatureCollection joins every segment geometry with its classification.
// Run metadata is carried in top-level foreign members.
func FeatureCollection(res *pipeline.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range res.Features {
		fc.Append(Feature(f))
	}

	fc.ExtraMembers = geojson.Properties{
		"runId":       res.RunID,
		"generatedAt": res.GeneratedAt.UTC().Format(time.RFC3339),
		"provenance":  string(res.Provenance),
		"bbox":        []float64{res.BBox.MinLon, res.BBox.MinLat, res.BBox.MaxLon, res.BBox.MaxLat},
		"statistics":  res.Statistics,
		"summary":     congestion.Summary(res.Statistics),
	}
	if res.FallbackReason != "" {
		fc.ExtraMembers["fallbackReason"] = res.FallbackReason
	}
	return fc
}

// Feature renders one segment. Unknown segments carry no speed properties.
func Feature(f pipeline.Feature) *geojson.Feature {
	gf := geojson.NewFeature(f.Segment.Geometry)
	gf.ID = f.Segment.ID

	r := f.Result
	gf.Properties[PropSegmentID] = f.Segment.ID
	gf.Properties[PropRoadName] = f.Segment.Name
	gf.Properties[PropRoadClass] = f.Segment.Class
	gf.Properties[PropLevel] = string(r.Level)
	gf.Properties[PropColor] = r.Level.Color()
	gf.Properties[PropLabel] = r.Level.Label()
	gf.Properties[PropObservationCount] = r.ObservationCount
	gf.Properties[PropQuality] = r.Quality
	gf.Properties[PropTooltip] = Tooltip(f)

	if r.MeanSpeedKmh != nil {
		gf.Properties[PropMeanSpeed] = *r.MeanSpeedKmh
		gf.Properties[PropSpeedStdDev] = r.SpeedStdDev
	}
	if r.MeanTravelTimeSec != nil {
		gf.Properties[PropTravelTime] = *r.MeanTravelTimeSec
	}
	return gf
}

// Tooltip is the one-line hover text of a segment.
func Tooltip(f pipeline.Feature) string {
	text := fmt.Sprintf("%s: %s", f.Segment.Name, f.Result.Level.Label())
	if f.Result.MeanSpeedKmh != nil {
		text += fmt.Sprintf(" (%.1fkm/h)", *f.Result.MeanSpeedKmh)
	}
	return text
}
