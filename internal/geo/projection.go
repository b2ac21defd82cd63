package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projector converts WGS84 lon/lat to the metric working plane: Web Mercator
// scaled by cos(reference latitude), so that planar distances near the
// reference latitude read as ground meters.
type Projector struct {
	refLat float64
	scale  float64
}

// NewProjector creates a projector anchored at the given latitude.
func NewProjector(refLat float64) Projector {
	return Projector{
		refLat: refLat,
		scale:  math.Cos(refLat * math.Pi / 180),
	}
}

// ProjectorFor anchors a projector at the center of bbox.
func ProjectorFor(bbox BBox) Projector {
	return NewProjector(bbox.Center()[1])
}

// RefLat returns the reference latitude in degrees.
func (p Projector) RefLat() float64 {
	return p.refLat
}

// Forward projects a WGS84 point onto the working plane.
func (p Projector) Forward(pt orb.Point) orb.Point {
	m := project.WGS84.ToMercator(pt)
	return orb.Point{m[0] * p.scale, m[1] * p.scale}
}

// Inverse maps a working-plane point back to WGS84.
func (p Projector) Inverse(pt orb.Point) orb.Point {
	return project.Mercator.ToWGS84(orb.Point{pt[0] / p.scale, pt[1] / p.scale})
}

// LineString projects every vertex of ls, preserving order.
func (p Projector) LineString(ls orb.LineString) orb.LineString {
	return TransformLineString(ls, p.Forward)
}
