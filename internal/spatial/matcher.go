package spatial

import (
	"context"
	"math"
	"runtime"
	"sync"

	"github.com/paulmach/orb"

	"github.com/roadpulse/roadpulse/internal/network"
	"github.com/roadpulse/roadpulse/internal/traffic"
)

// DefaultMaxDistanceM is the default match radius in meters.
const DefaultMaxDistanceM = 50.0

// Match links one observation to its nearest segment.
type Match struct {
	SegmentID     string  `json:"segmentId"`
	ObservationID string  `json:"observationId"`
	DistanceM     float64 `json:"distanceM"`
}

// MatchOptions tunes matching.
type MatchOptions struct {
	// Workers splits the observations across goroutines; <= 1 matches serially.
	Workers int
}

// Matcher finds the nearest segment of a network for working-plane points.
type Matcher struct {
	segments    []*network.Segment
	maxDistance float64
	grid        *gridIndex
}

// NewMatcher prepares a matcher. Networks smaller than bruteForceThreshold
// are scanned linearly; larger ones are indexed on a grid.
func NewMatcher(n *network.Network, maxDistance float64) *Matcher {
	m := &Matcher{segments: n.Segments(), maxDistance: maxDistance}
	if len(m.segments) >= bruteForceThreshold {
		m.grid = newGridIndex(m.segments, maxDistance)
	}
	return m
}

// Nearest returns the closest segment within the maximum distance. Ties go
// to the lowest segment id. Points exactly at the maximum are kept.
func (m *Matcher) Nearest(p orb.Point) (*network.Segment, float64, bool) {
	var buf []int
	return m.nearest(p, &buf)
}

func (m *Matcher) nearest(p orb.Point, buf *[]int) (*network.Segment, float64, bool) {
	var best *network.Segment
	bestDist := math.Inf(1)

	consider := func(s *network.Segment) {
		d := s.DistanceTo(p)
		if d > m.maxDistance {
			return
		}
		if d < bestDist || (d == bestDist && s.ID < best.ID) {
			best, bestDist = s, d
		}
	}

	if m.grid == nil {
		for _, s := range m.segments {
			consider(s)
		}
	} else {
		*buf = m.grid.candidates(p, m.maxDistance, *buf)
		for _, i := range *buf {
			consider(m.segments[i])
		}
	}

	if best == nil {
		return nil, 0, false
	}
	return best, bestDist, true
}

// MatchAll matches every observation and returns the matches in observation
// order. Observations with no segment within range are omitted.
func (m *Matcher) MatchAll(ctx context.Context, observations []traffic.Observation, opts MatchOptions) ([]Match, error) {
	type slot struct {
		match Match
		ok    bool
	}
	slots := make([]slot, len(observations))

	workers := opts.Workers
	if workers > runtime.GOMAXPROCS(0) {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 || len(observations) < 2*workers {
		workers = 1
	}

	chunk := (len(observations) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, len(observations))
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			var buf []int
			for i := start; i < end; i++ {
				if i%256 == 0 && ctx.Err() != nil {
					return
				}
				obs := observations[i]
				seg, d, ok := m.nearest(obs.Projected, &buf)
				if ok {
					slots[i] = slot{match: Match{SegmentID: seg.ID, ObservationID: obs.ID, DistanceM: d}, ok: true}
				}
			}
		}(start, end)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(observations))
	for _, s := range slots {
		if s.ok {
			matches = append(matches, s.match)
		}
	}
	return matches, nil
}

// MatchObservations matches observations against n serially.
func MatchObservations(observations []traffic.Observation, n *network.Network, maxDistance float64) []Match {
	matches, _ := NewMatcher(n, maxDistance).MatchAll(context.Background(), observations, MatchOptions{})
	return matches
}
