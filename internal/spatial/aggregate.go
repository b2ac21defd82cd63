package spatial

import (
	"github.com/roadpulse/roadpulse/internal/stats"
	"github.com/roadpulse/roadpulse/internal/traffic"
)

// SegmentAggregate summarizes the observations matched to one segment.
// Means over optional measurements only count observations reporting them
// and are nil when none do.
type SegmentAggregate struct {
	SegmentID         string   `json:"segmentId"`
	ObservationCount  int      `json:"observationCount"`
	SpeedSamples      int      `json:"speedSamples"`
	MeanSpeedKmh      *float64 `json:"meanSpeedKmh,omitempty"`
	SpeedStdDev       float64  `json:"speedStdDev"`
	MinSpeedKmh       *float64 `json:"minSpeedKmh,omitempty"`
	MaxSpeedKmh       *float64 `json:"maxSpeedKmh,omitempty"`
	MeanTravelTimeSec *float64 `json:"meanTravelTimeSec,omitempty"`
	MeanLinkLengthM   *float64 `json:"meanLinkLengthM,omitempty"`
	MeanDistanceM     float64  `json:"meanDistanceM"`
}

// Aggregate groups matches by segment. Segments without matches are absent.
// ObservationCount always equals the segment's match count; a match naming
// an unknown observation counts toward it and the mean distance but adds no
// measurements.
func Aggregate(matches []Match, observations []traffic.Observation) map[string]SegmentAggregate {
	byID := make(map[string]*traffic.Observation, len(observations))
	for i := range observations {
		byID[observations[i].ID] = &observations[i]
	}

	type group struct {
		count       int
		speeds      []float64
		travel      []float64
		lengths     []float64
		distanceSum float64
	}
	groups := make(map[string]*group)
	for _, m := range matches {
		g := groups[m.SegmentID]
		if g == nil {
			g = &group{}
			groups[m.SegmentID] = g
		}
		g.count++
		g.distanceSum += m.DistanceM

		obs, ok := byID[m.ObservationID]
		if !ok {
			continue
		}
		if obs.SpeedKmh != nil {
			g.speeds = append(g.speeds, *obs.SpeedKmh)
		}
		if obs.TravelTimeSec != nil {
			g.travel = append(g.travel, *obs.TravelTimeSec)
		}
		if obs.LinkLengthM != nil {
			g.lengths = append(g.lengths, *obs.LinkLengthM)
		}
	}

	out := make(map[string]SegmentAggregate, len(groups))
	for id, g := range groups {
		agg := SegmentAggregate{
			SegmentID:         id,
			ObservationCount:  g.count,
			SpeedSamples:      len(g.speeds),
			MeanSpeedKmh:      meanOrNil(g.speeds),
			SpeedStdDev:       stats.StdDev(g.speeds),
			MeanTravelTimeSec: meanOrNil(g.travel),
			MeanLinkLengthM:   meanOrNil(g.lengths),
			MeanDistanceM:     g.distanceSum / float64(g.count),
		}
		if len(g.speeds) > 0 {
			lo, hi := g.speeds[0], g.speeds[0]
			for _, v := range g.speeds[1:] {
				lo, hi = min(lo, v), max(hi, v)
			}
			agg.MinSpeedKmh, agg.MaxSpeedKmh = &lo, &hi
		}
		out[id] = agg
	}
	return out
}

func meanOrNil(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := stats.Mean(values)
	return &m
}
