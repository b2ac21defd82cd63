package traffic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/traffic"
)

var tokyo = geo.BBoxAround(orb.Point{139.7644, 35.7056}, 5000)

func jst(hour int) time.Time {
	return time.Date(2026, 10, 19, hour, 0, 0, 0, traffic.JST)
}

func TestNewObservation(t *testing.T) {
	inside := orb.Point{139.76, 35.70}

	obs, err := traffic.NewObservation(traffic.RawObservation{ID: "o1", SpeedKmh: traffic.Float(42)}, inside, orb.Point{1, 2}, tokyo)
	require.NoError(t, err)
	assert.Equal(t, "o1", obs.ID)
	assert.Equal(t, orb.Point{1, 2}, obs.Projected)
	assert.Equal(t, 42.0, *obs.SpeedKmh)

	// Missing speed is valid.
	_, err = traffic.NewObservation(traffic.RawObservation{ID: "o2"}, inside, inside, tokyo)
	assert.NoError(t, err)

	_, err = traffic.NewObservation(traffic.RawObservation{ID: "o3"}, orb.Point{140.5, 35.7}, inside, tokyo)
	assert.ErrorIs(t, err, traffic.ErrInvalidObservation)

	_, err = traffic.NewObservation(traffic.RawObservation{ID: "o4", SpeedKmh: traffic.Float(-1)}, inside, inside, tokyo)
	assert.ErrorIs(t, err, traffic.ErrInvalidObservation)

	_, err = traffic.NewObservation(traffic.RawObservation{ID: "o5", TravelTimeSec: traffic.Float(-3)}, inside, inside, tokyo)
	assert.ErrorIs(t, err, traffic.ErrInvalidObservation)

	_, err = traffic.NewObservation(traffic.RawObservation{}, inside, inside, tokyo)
	assert.ErrorIs(t, err, traffic.ErrInvalidObservation)
}

func TestFetchError_Classification(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&traffic.FetchError{Source: "jartic", Kind: traffic.ErrNetwork, Err: cause})

	assert.ErrorIs(t, err, traffic.ErrNetwork)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, traffic.ErrTimeout)
}

func TestTimeCode(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"mid slot", time.Date(2026, 10, 19, 8, 13, 42, 0, traffic.JST), "202610190805"},
		{"slot boundary", time.Date(2026, 10, 19, 8, 15, 0, 0, traffic.JST), "202610190810"},
		{"crosses midnight", time.Date(2026, 10, 19, 0, 2, 0, 0, traffic.JST), "202610182355"},
		{"utc input", time.Date(2026, 10, 18, 23, 13, 0, 0, time.UTC), "202610190805"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, traffic.TimeCode(tt.now))
		})
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	a := traffic.Synthesize(tokyo, jst(12))
	b := traffic.Synthesize(tokyo, jst(12))

	require.Len(t, a, traffic.SyntheticPoints)
	assert.Equal(t, a, b)
}

func TestSynthesize_Invariants(t *testing.T) {
	for _, obs := range traffic.Synthesize(tokyo, jst(12)) {
		assert.True(t, tokyo.Contains(obs.Location), "%s outside bbox", obs.ID)
		assert.True(t, obs.Synthetic)
		assert.Equal(t, geo.WGS84, obs.CRS)

		require.NotNil(t, obs.SpeedKmh)
		assert.GreaterOrEqual(t, *obs.SpeedKmh, 5.0)
		assert.LessOrEqual(t, *obs.SpeedKmh, 80.0)

		require.NotNil(t, obs.LinkLengthM)
		assert.GreaterOrEqual(t, *obs.LinkLengthM, 50.0)
		assert.Less(t, *obs.LinkLengthM, 200.0)

		require.NotNil(t, obs.TravelTimeSec)
		assert.InDelta(t, *obs.LinkLengthM/1000/(*obs.SpeedKmh/3600), *obs.TravelTimeSec, 1e-9)
	}
}

func TestSynthesize_TimeOfDay(t *testing.T) {
	mean := func(obs []traffic.RawObservation) float64 {
		sum := 0.0
		for _, o := range obs {
			sum += *o.SpeedKmh
		}
		return sum / float64(len(obs))
	}

	rush := mean(traffic.Synthesize(tokyo, jst(8)))
	midday := mean(traffic.Synthesize(tokyo, jst(12)))
	night := mean(traffic.Synthesize(tokyo, jst(23)))

	assert.Less(t, rush, midday)
	assert.Less(t, midday, night)
}

func TestSyntheticSource(t *testing.T) {
	at := jst(12)
	src := traffic.NewSyntheticSource(func() time.Time { return at })

	obs, err := src.Fetch(context.Background(), tokyo)
	require.NoError(t, err)
	assert.Equal(t, traffic.Synthesize(tokyo, at), obs)
	assert.Equal(t, "synthetic", src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Fetch(ctx, tokyo)
	assert.ErrorIs(t, err, context.Canceled)
}
