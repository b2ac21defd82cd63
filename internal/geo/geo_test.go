package geo_test

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/roadpulse/internal/geo"
)

func TestParseCRS(t *testing.T) {
	tests := []struct {
		in   string
		want geo.CRS
	}{
		{"EPSG:4612", geo.JGD2000},
		{"epsg:4326", geo.WGS84},
		{"6668", geo.JGD2011},
		{"urn:ogc:def:crs:EPSG::4301", geo.TokyoDatum},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", geo.WGS84},
		{"", ""},
		{"EPSG:abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, geo.ParseCRS(tt.in))
		})
	}
}

func TestCRSFromWKT(t *testing.T) {
	assert.Equal(t, geo.JGD2000, geo.CRSFromWKT(`GEOGCS["GCS_JGD_2000",DATUM["D_JGD_2000",SPHEROID["GRS_1980",6378137.0,298.257222101]]]`))
	assert.Equal(t, geo.JGD2011, geo.CRSFromWKT(`GEOGCS["JGD2011",DATUM["Japanese_Geodetic_Datum_2011"]]`))
	assert.Equal(t, geo.TokyoDatum, geo.CRSFromWKT(`GEOGCS["GCS_Tokyo",DATUM["D_Tokyo"]]`))
	assert.Equal(t, geo.WGS84, geo.CRSFromWKT(`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]`))
	assert.Equal(t, geo.CRS(""), geo.CRSFromWKT(`PROJCS["JGD2000 / Japan Plane Rectangular CS IX"]`))
}

func TestToWGS84_Identity(t *testing.T) {
	for _, crs := range []geo.CRS{geo.WGS84, geo.JGD2000, geo.JGD2011} {
		proj, err := geo.ToWGS84(crs, "f1")
		require.NoError(t, err)
		assert.Equal(t, orb.Point{139.76, 35.70}, proj(orb.Point{139.76, 35.70}))
	}
}

func TestToWGS84_TokyoDatumShift(t *testing.T) {
	proj, err := geo.ToWGS84(geo.TokyoDatum, "f1")
	require.NoError(t, err)

	got := proj(orb.Point{139.76, 35.70})

	// Around Tokyo the datum shift is roughly -0.0032 lon / +0.0032 lat.
	assert.InDelta(t, 139.7568, got[0], 0.0005)
	assert.InDelta(t, 35.7032, got[1], 0.0005)
}

func TestToWGS84_Unsupported(t *testing.T) {
	_, err := geo.ToWGS84("EPSG:2451", "road-7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, geo.ErrReferenceFrame))

	var rfe *geo.ReferenceFrameError
	require.True(t, errors.As(err, &rfe))
	assert.Equal(t, "road-7", rfe.FeatureID)
	assert.Equal(t, geo.CRS("EPSG:2451"), rfe.CRS)

	_, err = geo.ToWGS84("", "road-8")
	assert.ErrorContains(t, err, "not declared")
}

func TestProjector_DistancesAreMeters(t *testing.T) {
	p := geo.NewProjector(35.7)

	a := p.Forward(orb.Point{139.76, 35.70})
	north := p.Forward(orb.Point{139.76, 35.701})
	east := p.Forward(orb.Point{139.761, 35.70})

	// 0.001 degree latitude is about 111 m, 0.001 degree longitude at 35.7N about 90 m.
	assert.InDelta(t, 111.0, planar.Distance(a, north), 1.0)
	assert.InDelta(t, 90.3, planar.Distance(a, east), 1.0)
}

func TestProjector_RoundTrip(t *testing.T) {
	p := geo.ProjectorFor(geo.BBoxAround(orb.Point{139.7644, 35.7056}, 5000))
	in := orb.Point{139.75, 35.68}

	out := p.Inverse(p.Forward(in))

	assert.InDelta(t, in[0], out[0], 1e-9)
	assert.InDelta(t, in[1], out[1], 1e-9)
}

func TestBBox(t *testing.T) {
	b := geo.BBoxAround(orb.Point{139.7644, 35.7056}, 5000)
	require.NoError(t, b.Validate())

	assert.InDelta(t, 35.6607, b.MinLat, 0.001)
	assert.InDelta(t, 35.7505, b.MaxLat, 0.001)
	assert.True(t, b.Contains(orb.Point{139.7644, 35.7056}))
	assert.True(t, b.Contains(orb.Point{b.MinLon, b.MinLat}))
	assert.False(t, b.Contains(orb.Point{139.9, 35.7}))
	assert.InDelta(t, 139.7644, b.Center()[0], 1e-9)

	_, err := geo.NewBBox(1, 1, 0, 2)
	assert.ErrorIs(t, err, geo.ErrInvalidBBox)
	_, err = geo.NewBBox(170, 1, 190, 2)
	assert.ErrorIs(t, err, geo.ErrInvalidBBox)
}
