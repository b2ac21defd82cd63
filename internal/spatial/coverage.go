package spatial

import (
	"github.com/roadpulse/roadpulse/internal/stats"
)

// Coverage describes how much of the network the observations reached.
type Coverage struct {
	TotalRoads          int            `json:"totalRoads"`
	MatchedRoads        int            `json:"matchedRoads"`
	CoverageRate        float64        `json:"coverageRate"`
	TrafficPoints       int            `json:"trafficPoints"`
	MatchedPoints       int            `json:"matchedPoints"`
	UnmatchedPoints     int            `json:"unmatchedPoints"`
	MatchDistanceMeters *stats.Summary `json:"matchDistanceMeters,omitempty"`
}

// ComputeCoverage summarizes matches against the network and observation counts.
func ComputeCoverage(matches []Match, totalRoads, trafficPoints int) Coverage {
	roads := make(map[string]struct{}, len(matches))
	distances := make([]float64, 0, len(matches))
	for _, m := range matches {
		roads[m.SegmentID] = struct{}{}
		distances = append(distances, m.DistanceM)
	}

	c := Coverage{
		TotalRoads:          totalRoads,
		MatchedRoads:        len(roads),
		TrafficPoints:       trafficPoints,
		MatchedPoints:       len(matches),
		UnmatchedPoints:     trafficPoints - len(matches),
		MatchDistanceMeters: stats.Summarize(distances),
	}
	if totalRoads > 0 {
		c.CoverageRate = stats.Round(float64(len(roads))/float64(totalRoads)*100, 2)
	}
	return c
}
