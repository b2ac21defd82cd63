package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// metersPerDegreeLat is the mean length of one degree of latitude.
const metersPerDegreeLat = 111320.0

// ErrInvalidBBox is returned for a box with inverted or out-of-range corners.
var ErrInvalidBBox = errors.New("invalid bounding box")

// BBox is an axis-aligned WGS84 rectangle. Edges are inclusive.
type BBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// NewBBox validates and returns a bounding box.
func NewBBox(minLon, minLat, maxLon, maxLat float64) (BBox, error) {
	b := BBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

// BBoxAround builds the box extending halfWidthMeters from center in each
// direction. center is (lon, lat).
func BBoxAround(center orb.Point, halfWidthMeters float64) BBox {
	dLat := halfWidthMeters / metersPerDegreeLat
	dLon := halfWidthMeters / (metersPerDegreeLat * math.Cos(center[1]*math.Pi/180))
	return BBox{
		MinLon: center[0] - dLon,
		MinLat: center[1] - dLat,
		MaxLon: center[0] + dLon,
		MaxLat: center[1] + dLat,
	}
}

// Validate checks corner ordering and coordinate ranges.
func (b BBox) Validate() error {
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: corners out of order (%s)", ErrInvalidBBox, b)
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: coordinates out of range (%s)", ErrInvalidBBox, b)
	}
	return nil
}

// Contains reports whether p (lon, lat) lies inside the box or on its edge.
func (b BBox) Contains(p orb.Point) bool {
	return p[0] >= b.MinLon && p[0] <= b.MaxLon && p[1] >= b.MinLat && p[1] <= b.MaxLat
}

// Center returns the (lon, lat) midpoint.
func (b BBox) Center() orb.Point {
	return orb.Point{(b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2}
}

// Bound returns the box as an orb.Bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// Pad grows the box by deg degrees on every side.
func (b BBox) Pad(deg float64) BBox {
	return BBox{MinLon: b.MinLon - deg, MinLat: b.MinLat - deg, MaxLon: b.MaxLon + deg, MaxLat: b.MaxLat + deg}
}

// Intersects reports whether the bound overlaps the box.
func (b BBox) Intersects(bound orb.Bound) bool {
	return b.Bound().Intersects(bound)
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}
