// Package traffic provides point traffic observations: the source contract,
// validation, and the deterministic synthetic generator.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/roadpulse/roadpulse/internal/geo"
)

// MaxPlausibleSpeedKmh bounds reported speeds; faster readings are sensor noise.
const MaxPlausibleSpeedKmh = 150.0

var (
	// ErrInvalidObservation is returned when an observation violates its invariants.
	ErrInvalidObservation = errors.New("invalid traffic observation")
	// ErrNetwork classifies transport failures talking to a traffic provider.
	ErrNetwork = errors.New("traffic source network error")
	// ErrTimeout classifies deadline and timeout failures.
	ErrTimeout = errors.New("traffic source timeout")
	// ErrBadResponse classifies payloads that could not be decoded.
	ErrBadResponse = errors.New("traffic source bad response")
)

// RawObservation is an observation as produced by a source, in its declared frame.
type RawObservation struct {
	ID            string
	Location      orb.Point
	CRS           geo.CRS
	SpeedKmh      *float64
	TravelTimeSec *float64
	LinkLengthM   *float64
	TimeCode      string
	Synthetic     bool
}

// Observation is a validated observation. Location is WGS84 lon/lat and
// Projected the same point in the metric working plane.
type Observation struct {
	ID            string
	Location      orb.Point
	Projected     orb.Point
	SpeedKmh      *float64
	TravelTimeSec *float64
	LinkLengthM   *float64
	TimeCode      string
	Synthetic     bool
}

// NewObservation validates raw against bbox. location and projected are the
// already transformed WGS84 and working-plane points.
func NewObservation(raw RawObservation, location, projected orb.Point, bbox geo.BBox) (Observation, error) {
	if raw.ID == "" {
		return Observation{}, fmt.Errorf("%w: empty id", ErrInvalidObservation)
	}
	if !bbox.Contains(location) {
		return Observation{}, fmt.Errorf("%w: %q outside bounding box", ErrInvalidObservation, raw.ID)
	}
	if raw.SpeedKmh != nil && *raw.SpeedKmh < 0 {
		return Observation{}, fmt.Errorf("%w: %q negative speed", ErrInvalidObservation, raw.ID)
	}
	if raw.TravelTimeSec != nil && *raw.TravelTimeSec < 0 {
		return Observation{}, fmt.Errorf("%w: %q negative travel time", ErrInvalidObservation, raw.ID)
	}

	return Observation{
		ID:            raw.ID,
		Location:      location,
		Projected:     projected,
		SpeedKmh:      raw.SpeedKmh,
		TravelTimeSec: raw.TravelTimeSec,
		LinkLengthM:   raw.LinkLengthM,
		TimeCode:      raw.TimeCode,
		Synthetic:     raw.Synthetic,
	}, nil
}

// Source fetches raw observations for an area.
type Source interface {
	// Fetch returns the current observations inside bbox.
	Fetch(ctx context.Context, bbox geo.BBox) ([]RawObservation, error)
	// Name identifies the source in logs and provenance.
	Name() string
}

// FetchError wraps a provider failure with its classification
// (ErrNetwork, ErrTimeout or ErrBadResponse).
type FetchError struct {
	Source string
	Kind   error
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Float returns a pointer to v, for optional measurements.
func Float(v float64) *float64 {
	return &v
}

// JST is the zone JARTIC time codes and the synthetic rush hours refer to.
var JST = time.FixedZone("JST", 9*60*60)

const timeCodeLayout = "200601021504"

// TimeCode returns the five-minute slot code (YYYYMMDDhhmm, JST) of the most
// recent complete slot: now minus five minutes, floored to five minutes.
func TimeCode(now time.Time) string {
	t := now.In(JST).Add(-5 * time.Minute)
	t = t.Truncate(time.Minute)
	t = t.Add(-time.Duration(t.Minute()%5) * time.Minute)
	return t.Format(timeCodeLayout)
}
