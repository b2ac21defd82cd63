// Package network holds the road-centerline network: raw segments as loaded
// from a source, and normalized segments carrying their metric geometry.
package network

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/roadpulse/roadpulse/internal/geo"
)

// DefaultRoadName is used when a source carries no road name.
const DefaultRoadName = "未分類道路"

var (
	// ErrInvalidSegment is returned when a segment violates its invariants.
	ErrInvalidSegment = errors.New("invalid road segment")
	// ErrDuplicateSegment is returned when two segments share an id.
	ErrDuplicateSegment = errors.New("duplicate road segment id")
)

// RawSegment is a road segment as read from a source, in its declared frame.
type RawSegment struct {
	ID       string
	RouteID  string
	Class    string
	Name     string
	CRS      geo.CRS
	Geometry orb.LineString
}

// Segment is a normalized road segment. Geometry is WGS84 lon/lat and
// Projected is the same polyline in the metric working plane.
type Segment struct {
	ID        string
	RouteID   string
	Class     string
	Name      string
	Geometry  orb.LineString
	Projected orb.LineString

	bound orb.Bound
}

// NewSegment validates and builds a segment. Both geometries must have the
// same number of vertices, at least two.
func NewSegment(raw RawSegment, geometry, projected orb.LineString) (*Segment, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidSegment)
	}
	if len(geometry) < 2 {
		return nil, fmt.Errorf("%w: segment %q has %d vertices", ErrInvalidSegment, raw.ID, len(geometry))
	}
	if len(projected) != len(geometry) {
		return nil, fmt.Errorf("%w: segment %q projected vertex count mismatch", ErrInvalidSegment, raw.ID)
	}

	name := raw.Name
	if name == "" {
		name = DefaultRoadName
	}

	return &Segment{
		ID:        raw.ID,
		RouteID:   raw.RouteID,
		Class:     raw.Class,
		Name:      name,
		Geometry:  geometry,
		Projected: projected,
		bound:     projected.Bound(),
	}, nil
}

// Bound returns the bounding box of the projected geometry.
func (s *Segment) Bound() orb.Bound {
	return s.bound
}

// DistanceTo returns the minimum planar distance from p (working plane) to
// the projected polyline.
func (s *Segment) DistanceTo(p orb.Point) float64 {
	best := math.Inf(1)
	for i := 0; i+1 < len(s.Projected); i++ {
		d := planar.DistanceFromSegment(s.Projected[i], s.Projected[i+1], p)
		if d < best {
			best = d
		}
	}
	return best
}

// Network is an immutable snapshot of normalized segments keyed by id.
type Network struct {
	segments []*Segment
	byID     map[string]int
}

// NewNetwork indexes segments by id, rejecting duplicates.
func NewNetwork(segments []*Segment) (*Network, error) {
	byID := make(map[string]int, len(segments))
	for i, s := range segments {
		if _, ok := byID[s.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSegment, s.ID)
		}
		byID[s.ID] = i
	}
	return &Network{segments: segments, byID: byID}, nil
}

// Segments returns the segments in load order. The slice must not be modified.
func (n *Network) Segments() []*Segment {
	return n.segments
}

// Len returns the number of segments.
func (n *Network) Len() int {
	return len(n.segments)
}

// Get returns the segment with the given id.
func (n *Network) Get(id string) (*Segment, bool) {
	i, ok := n.byID[id]
	if !ok {
		return nil, false
	}
	return n.segments[i], true
}

// IDAllocator numbers the segments of each route: "<route>-1", "<route>-2", ...
type IDAllocator struct {
	next map[string]int
}

// NewIDAllocator creates an empty allocator.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: make(map[string]int)}
}

// Next returns the next id for route.
func (a *IDAllocator) Next(route string) string {
	a.next[route]++
	return fmt.Sprintf("%s-%d", route, a.next[route])
}
