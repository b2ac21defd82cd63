package congestion

import (
	"fmt"
)

// QualityParams shape the quality score.
//
// quality = n/(n+HalfCount) * 1/(1+d/HalfDistanceM)
//
// where n is the number of matched observations and d the mean match distance.
// Each factor is 0.5 at its half point; the score lies in [0, 1), rising
// with n and falling with d.
type QualityParams struct {
	HalfCount     float64 `json:"halfCount"`
	HalfDistanceM float64 `json:"halfDistanceM"`
}

// DefaultQualityParams returns K=2 samples and D=25 m.
func DefaultQualityParams() QualityParams {
	return QualityParams{HalfCount: 2, HalfDistanceM: 25}
}

// Validate checks both parameters are positive.
func (q QualityParams) Validate() error {
	if q.HalfCount <= 0 || q.HalfDistanceM <= 0 {
		return fmt.Errorf("quality parameters must be positive: %+v", q)
	}
	return nil
}

// Quality scores a classification backed by n samples at mean distance d.
func Quality(n int, meanDistanceM float64, q QualityParams) float64 {
	if n <= 0 {
		return 0
	}
	if meanDistanceM < 0 {
		meanDistanceM = 0
	}
	count := float64(n) / (float64(n) + q.HalfCount)
	distance := 1 / (1 + meanDistanceM/q.HalfDistanceM)
	return count * distance
}
