// Package spatial normalizes geometries into the working plane, matches
// observations to their nearest road segment and aggregates the matches.
package spatial

import (
	"errors"
	"fmt"

	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/network"
	"github.com/roadpulse/roadpulse/internal/traffic"
)

// NormalizeRoads converts every raw segment to WGS84 and the working plane.
// A segment in an unsupported frame aborts the whole set with a
// *geo.ReferenceFrameError. Vertex order is preserved.
func NormalizeRoads(raw []network.RawSegment, proj geo.Projector) (*network.Network, error) {
	segments := make([]*network.Segment, 0, len(raw))
	for _, r := range raw {
		toWGS84, err := geo.ToWGS84(r.CRS, r.ID)
		if err != nil {
			return nil, err
		}
		wgs := geo.TransformLineString(r.Geometry, toWGS84)
		seg, err := network.NewSegment(r, wgs, proj.LineString(wgs))
		if err != nil {
			return nil, &network.FormatError{Source: "normalize", Detail: "road segment", Err: err}
		}
		segments = append(segments, seg)
	}

	n, err := network.NewNetwork(segments)
	if err != nil {
		return nil, &network.FormatError{Source: "normalize", Detail: "road network", Err: err}
	}
	return n, nil
}

// ObservationSet is the normalized observation set with the number of rows
// rejected by validation.
type ObservationSet struct {
	Observations []traffic.Observation
	Rejected     int
}

// NormalizeObservations converts observations to WGS84 and the working
// plane. An observation in an unsupported frame aborts the whole set.
// Observations failing validation (outside bbox, negative values) are
// counted in Rejected. Duplicate ids are made unique with the lowest "#n"
// suffix that no other observation in the set uses.
func NormalizeObservations(raw []traffic.RawObservation, bbox geo.BBox, proj geo.Projector) (ObservationSet, error) {
	set := ObservationSet{Observations: make([]traffic.Observation, 0, len(raw))}
	taken := make(map[string]bool, len(raw))
	for _, r := range raw {
		taken[r.ID] = true
	}
	seen := make(map[string]int, len(raw))

	for _, r := range raw {
		toWGS84, err := geo.ToWGS84(r.CRS, r.ID)
		if err != nil {
			return ObservationSet{}, err
		}

		if n := seen[r.ID]; n > 0 {
			id := fmt.Sprintf("%s#%d", r.ID, n)
			for taken[id] {
				n++
				id = fmt.Sprintf("%s#%d", r.ID, n)
			}
			seen[r.ID] = n + 1
			taken[id] = true
			r.ID = id
		} else {
			seen[r.ID] = 1
		}

		loc := toWGS84(r.Location)
		obs, err := traffic.NewObservation(r, loc, proj.Forward(loc), bbox)
		if err != nil {
			if errors.Is(err, traffic.ErrInvalidObservation) {
				set.Rejected++
				continue
			}
			return ObservationSet{}, err
		}
		set.Observations = append(set.Observations, obs)
	}

	return set, nil
}
