package congestion

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roadpulse/roadpulse/internal/stats"
)

// ObservationStats summarizes observation density over segments with data.
type ObservationStats struct {
	TotalObservations int     `json:"totalObservations"`
	MeanPerRoad       float64 `json:"meanPerRoad"`
	MaxPerRoad        int     `json:"maxPerRoad"`
	RoadsWithData     int     `json:"roadsWithData"`
}

// Statistics describes a set of classified segments.
type Statistics struct {
	TotalRoads   int               `json:"totalRoads"`
	Distribution map[Level]int     `json:"distribution"`
	Percentage   map[Level]float64 `json:"percentage"`
	Speed        *stats.Summary    `json:"speed,omitempty"`
	TravelTime   *stats.Summary    `json:"travelTime,omitempty"`
	Observations *ObservationStats `json:"observations,omitempty"`
	MeanQuality  float64           `json:"meanQuality"`
}

// ComputeStatistics summarizes results. Percentages are rounded to one decimal.
func ComputeStatistics(results []Result) Statistics {
	s := Statistics{
		TotalRoads:   len(results),
		Distribution: make(map[Level]int, 4),
		Percentage:   make(map[Level]float64, 4),
	}
	for _, l := range Levels() {
		s.Distribution[l] = 0
		s.Percentage[l] = 0
	}
	if len(results) == 0 {
		return s
	}

	var speeds, travel, quality []float64
	obs := ObservationStats{}
	for _, r := range results {
		s.Distribution[r.Level]++
		if r.MeanSpeedKmh != nil {
			speeds = append(speeds, *r.MeanSpeedKmh)
			quality = append(quality, r.Quality)
		}
		if r.MeanTravelTimeSec != nil {
			travel = append(travel, *r.MeanTravelTimeSec)
		}
		if r.ObservationCount > 0 {
			obs.RoadsWithData++
			obs.TotalObservations += r.ObservationCount
			obs.MaxPerRoad = max(obs.MaxPerRoad, r.ObservationCount)
		}
	}
	for l, n := range s.Distribution {
		s.Percentage[l] = stats.Round(float64(n)/float64(len(results))*100, 1)
	}

	s.Speed = stats.Summarize(speeds)
	s.TravelTime = stats.Summarize(travel)
	if obs.RoadsWithData > 0 {
		obs.MeanPerRoad = float64(obs.TotalObservations) / float64(obs.RoadsWithData)
		s.Observations = &obs
	}
	s.MeanQuality = stats.Mean(quality)
	return s
}

// TrendsByRoadClass computes statistics per road class. Segments without a
// class are grouped under "unknown".
func TrendsByRoadClass(results []Result) map[string]Statistics {
	groups := make(map[string][]Result)
	for _, r := range results {
		class := r.RoadClass
		if class == "" {
			class = "unknown"
		}
		groups[class] = append(groups[class], r)
	}

	out := make(map[string]Statistics, len(groups))
	for class, rs := range groups {
		out[class] = ComputeStatistics(rs)
	}
	return out
}

// SpeedRange is one bucket of the speed histogram.
type SpeedRange struct {
	Name       string  `json:"name"`
	Label      string  `json:"label"`
	MinKmh     float64 `json:"minKmh"`
	MaxKmh     float64 `json:"maxKmh,omitempty"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

var speedBuckets = []struct {
	name, label string
	lo, hi      float64
}{
	{"very_slow", "極低速", 0, 10},
	{"slow", "低速", 10, 20},
	{"medium", "中速", 20, 30},
	{"fast", "高速", 30, 50},
	{"very_fast", "極高速", 50, math.Inf(1)},
}

// SpeedRanges buckets segment mean speeds into [lo, hi) ranges. Segments
// without speed are not counted.
func SpeedRanges(results []Result) []SpeedRange {
	out := make([]SpeedRange, len(speedBuckets))
	total := 0
	for i, b := range speedBuckets {
		out[i] = SpeedRange{Name: b.name, Label: b.label, MinKmh: b.lo}
		if !math.IsInf(b.hi, 1) {
			out[i].MaxKmh = b.hi
		}
	}
	for _, r := range results {
		if r.MeanSpeedKmh == nil {
			continue
		}
		total++
		v := *r.MeanSpeedKmh
		for i, b := range speedBuckets {
			if v >= b.lo && v < b.hi {
				out[i].Count++
				break
			}
		}
	}
	if total > 0 {
		for i := range out {
			out[i].Percentage = stats.Round(float64(out[i].Count)/float64(total)*100, 1)
		}
	}
	return out
}

// Summary renders a one-line description of the statistics, e.g.
// "対象道路数: 120路線 | 空いている: 40.0% | 混雑: 10.0% | 平均速度: 31.2km/h".
func Summary(s Statistics) string {
	if s.TotalRoads == 0 {
		return "データがありません。"
	}

	parts := []string{fmt.Sprintf("対象道路数: %d路線", s.TotalRoads)}
	known := false
	for _, l := range []Level{LevelFree, LevelModerate, LevelCongested} {
		if pct := s.Percentage[l]; pct > 0 {
			parts = append(parts, fmt.Sprintf("%s: %.1f%%", l.Label(), pct))
			known = true
		}
	}
	if !known {
		return parts[0] + "（混雑度データなし）"
	}
	if s.Speed != nil && s.Speed.Mean > 0 {
		parts = append(parts, fmt.Sprintf("平均速度: %.1fkm/h", s.Speed.Mean))
	}
	return strings.Join(parts, " | ")
}

// SortedClasses returns the keys of a trends map in ascending order.
func SortedClasses(trends map[string]Statistics) []string {
	classes := make([]string, 0, len(trends))
	for c := range trends {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}
