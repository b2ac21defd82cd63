// Package congestion classifies road segments into congestion levels and
// summarizes the classified network.
package congestion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/roadpulse/roadpulse/internal/network"
	"github.com/roadpulse/roadpulse/internal/spatial"
)

// Level is a congestion category.
type Level string

// Congestion levels.
const (
	LevelFree      Level = "FREE"
	LevelModerate  Level = "MODERATE"
	LevelCongested Level = "CONGESTED"
	LevelUnknown   Level = "UNKNOWN"
)

// Levels lists every level in display order.
func Levels() []Level {
	return []Level{LevelFree, LevelModerate, LevelCongested, LevelUnknown}
}

// Color returns the map color of the level.
func (l Level) Color() string {
	switch l {
	case LevelFree:
		return "#00ff00"
	case LevelModerate:
		return "#ffff00"
	case LevelCongested:
		return "#ff0000"
	default:
		return "#808080"
	}
}

// Label returns the display label of the level.
func (l Level) Label() string {
	switch l {
	case LevelFree:
		return "空いている"
	case LevelModerate:
		return "やや混雑"
	case LevelCongested:
		return "混雑"
	default:
		return "データなし"
	}
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels() {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown congestion level %q", s)
}

// ErrInvalidThresholds is returned for thresholds not satisfying Free > Moderate > 0.
var ErrInvalidThresholds = errors.New("invalid congestion thresholds")

// Thresholds are speed boundaries in km/h.
type Thresholds struct {
	FreeKmh     float64 `json:"freeKmh"`
	ModerateKmh float64 `json:"moderateKmh"`
}

// DefaultThresholds returns 30 km/h (free) and 20 km/h (moderate).
func DefaultThresholds() Thresholds {
	return Thresholds{FreeKmh: 30, ModerateKmh: 20}
}

// Validate checks Free > Moderate > 0.
func (t Thresholds) Validate() error {
	if t.ModerateKmh <= 0 || t.FreeKmh <= t.ModerateKmh {
		return fmt.Errorf("%w: free %.1f, moderate %.1f", ErrInvalidThresholds, t.FreeKmh, t.ModerateKmh)
	}
	return nil
}

// LevelFor classifies a mean speed.
func (t Thresholds) LevelFor(speed float64) Level {
	switch {
	case speed >= t.FreeKmh:
		return LevelFree
	case speed >= t.ModerateKmh:
		return LevelModerate
	default:
		return LevelCongested
	}
}

// Result is the classification of one segment.
type Result struct {
	SegmentID         string   `json:"segmentId"`
	RoadClass         string   `json:"roadClass"`
	Level             Level    `json:"level"`
	MeanSpeedKmh      *float64 `json:"meanSpeedKmh,omitempty"`
	SpeedStdDev       float64  `json:"speedStdDev"`
	MeanTravelTimeSec *float64 `json:"meanTravelTimeSec,omitempty"`
	ObservationCount  int      `json:"observationCount"`
	MeanDistanceM     float64  `json:"meanDistanceM"`
	Quality           float64  `json:"quality"`
}

// Classifier classifies aggregates with fixed thresholds and quality parameters.
type Classifier struct {
	thresholds Thresholds
	quality    QualityParams
}

// NewClassifier validates the parameters and returns a classifier.
func NewClassifier(t Thresholds, q QualityParams) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: t, quality: q}, nil
}

// Classify classifies one segment. A nil aggregate or one without speed
// samples is UNKNOWN with quality 0.
func (c *Classifier) Classify(seg *network.Segment, agg *spatial.SegmentAggregate) Result {
	r := Result{SegmentID: seg.ID, RoadClass: seg.Class, Level: LevelUnknown}
	if agg == nil {
		return r
	}

	r.ObservationCount = agg.ObservationCount
	r.MeanDistanceM = agg.MeanDistanceM
	r.MeanTravelTimeSec = agg.MeanTravelTimeSec
	if agg.MeanSpeedKmh == nil {
		return r
	}

	r.Level = c.thresholds.LevelFor(*agg.MeanSpeedKmh)
	r.MeanSpeedKmh = agg.MeanSpeedKmh
	r.SpeedStdDev = agg.SpeedStdDev
	r.Quality = Quality(agg.ObservationCount, agg.MeanDistanceM, c.quality)
	return r
}

// ClassifyAll classifies every segment, in segment order, fanning out
// across workers.
func (c *Classifier) ClassifyAll(ctx context.Context, segments []*network.Segment, aggs map[string]spatial.SegmentAggregate, workers int) ([]Result, error) {
	results := make([]Result, len(segments))
	if workers > runtime.GOMAXPROCS(0) {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int, len(segments))
	for i := range segments {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				seg := segments[i]
				if agg, ok := aggs[seg.ID]; ok {
					results[i] = c.Classify(seg, &agg)
				} else {
					results[i] = c.Classify(seg, nil)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
