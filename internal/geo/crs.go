// Package geo provides reference frames, the metric working projection and
// bounding boxes shared by road and traffic geometries.
package geo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// CRS names a coordinate reference frame by its EPSG code, e.g. "EPSG:4326".
type CRS string

// Reference frames understood by the normalizer.
const (
	WGS84       CRS = "EPSG:4326"
	JGD2000     CRS = "EPSG:4612"
	JGD2011     CRS = "EPSG:6668"
	TokyoDatum  CRS = "EPSG:4301"
	WebMercator CRS = "EPSG:3857"
)

// ErrReferenceFrame is matched by every ReferenceFrameError.
var ErrReferenceFrame = errors.New("unsupported reference frame")

// ReferenceFrameError reports a geometry whose reference frame is missing or
// cannot be converted to WGS84.
type ReferenceFrameError struct {
	CRS       CRS
	FeatureID string
}

func (e *ReferenceFrameError) Error() string {
	if e.CRS == "" {
		return fmt.Sprintf("feature %q: reference frame not declared", e.FeatureID)
	}
	return fmt.Sprintf("feature %q: unsupported reference frame %s", e.FeatureID, e.CRS)
}

func (e *ReferenceFrameError) Unwrap() error {
	return ErrReferenceFrame
}

// ParseCRS normalizes the common spellings of an EPSG reference:
// "EPSG:4612", "epsg:4612", "4612" and "urn:ogc:def:crs:EPSG::4612".
// An empty or unrecognizable string yields the empty CRS.
func ParseCRS(s string) CRS {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "URN:OGC:DEF:CRS:") {
		upper = upper[strings.LastIndex(upper, ":")+1:]
	} else if idx := strings.Index(upper, "EPSG:"); idx >= 0 {
		upper = upper[idx+len("EPSG:"):]
	}
	if upper == "CRS84" || upper == "OGC:1.3:CRS84" {
		return WGS84
	}
	for _, r := range upper {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return CRS("EPSG:" + upper)
}

// CRSFromWKT detects the reference frame described by an ESRI .prj WKT
// string. Projected systems are not supported and yield the empty CRS.
func CRSFromWKT(wkt string) CRS {
	w := strings.ToUpper(wkt)
	if strings.HasPrefix(strings.TrimSpace(w), "PROJCS") {
		return ""
	}
	switch {
	case strings.Contains(w, "JGD_2011") || strings.Contains(w, "JGD2011"):
		return JGD2011
	case strings.Contains(w, "JGD_2000") || strings.Contains(w, "JGD2000"):
		return JGD2000
	case strings.Contains(w, "TOKYO"):
		return TokyoDatum
	case strings.Contains(w, "WGS_1984") || strings.Contains(w, "WGS 84") || strings.Contains(w, "WGS84"):
		return WGS84
	}
	return ""
}

// ToWGS84 returns the projection moving lon/lat points of the given frame
// into WGS84. featureID is only used in the returned error.
func ToWGS84(crs CRS, featureID string) (orb.Projection, error) {
	switch crs {
	case WGS84, JGD2000, JGD2011:
		// JGD2000/2011 sit on GRS80 and agree with WGS84 well below map precision.
		return identity, nil
	case TokyoDatum:
		return tokyoToWGS84, nil
	default:
		return nil, &ReferenceFrameError{CRS: crs, FeatureID: featureID}
	}
}

func identity(p orb.Point) orb.Point {
	return p
}

// tokyoToWGS84 is the grid-free approximation published for the Japanese
// archipelago; error stays within a few meters.
func tokyoToWGS84(p orb.Point) orb.Point {
	lon, lat := p[0], p[1]
	return orb.Point{
		lon - 0.000046038*lat - 0.000083043*lon + 0.010040,
		lat - 0.00010695*lat + 0.000017464*lon + 0.0046017,
	}
}

// TransformLineString returns a copy of ls with proj applied to every vertex.
func TransformLineString(ls orb.LineString, proj orb.Projection) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[i] = proj(p)
	}
	return out
}
