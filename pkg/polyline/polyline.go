// Package polyline encodes road geometry with Google's polyline algorithm.
// The algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// DefaultPrecision is the standard 5 decimal places.
const DefaultPrecision = 5

// ErrTruncated is returned when the encoded string ends mid-value.
var ErrTruncated = errors.New("polyline: truncated input")

// Encode encodes a line with DefaultPrecision. Points are (lon, lat);
// the wire order is lat then lon.
func Encode(ls orb.LineString) string {
	return EncodePrecision(ls, DefaultPrecision)
}

// EncodePrecision encodes a line using the given number of decimal places.
func EncodePrecision(ls orb.LineString, precision int) string {
	if len(ls) == 0 {
		return ""
	}

	factor := math.Pow10(precision)
	encoded := make([]byte, 0, len(ls)*8)
	prevLat, prevLon := 0, 0

	for _, p := range ls {
		lat := int(math.Round(p.Lat() * factor))
		lon := int(math.Round(p.Lon() * factor))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lon-prevLon)

		prevLat, prevLon = lat, lon
	}

	return string(encoded)
}

// encodeValue appends a single signed delta.
func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// Decode decodes a string produced by Encode.
func Decode(encoded string) (orb.LineString, error) {
	return DecodePrecision(encoded, DefaultPrecision)
}

// DecodePrecision decodes a string encoded with the given precision.
func DecodePrecision(encoded string, precision int) (orb.LineString, error) {
	if encoded == "" {
		return nil, nil
	}

	factor := math.Pow10(precision)
	var ls orb.LineString
	index, lat, lon := 0, 0, 0

	for index < len(encoded) {
		latDelta, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		lonDelta, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next
		lat += latDelta
		lon += lonDelta

		ls = append(ls, orb.Point{float64(lon) / factor, float64(lat) / factor})
	}

	return ls, nil
}

func decodeValue(encoded string, index int) (int, int, error) {
	shift, result := 0, 0

	for {
		if index >= len(encoded) {
			return 0, index, ErrTruncated
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}

// Length returns the geodesic length of the line in meters.
func Length(ls orb.LineString) float64 {
	return geo.Length(ls)
}
