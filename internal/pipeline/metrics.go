package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/roadpulse/roadpulse/internal/pipeline"

// Metrics holds the pipeline's OpenTelemetry instruments.
type Metrics struct {
	runs         metric.Int64Counter
	fallbacks    metric.Int64Counter
	observations metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	runs, err := meter.Int64Counter(
		"congestion.pipeline.runs",
		metric.WithDescription("Pipeline runs by provenance and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter(
		"congestion.pipeline.fallbacks",
		metric.WithDescription("Runs that substituted synthetic observations"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	observations, err := meter.Int64Counter(
		"congestion.pipeline.observations",
		metric.WithDescription("Observations processed, by match outcome"),
		metric.WithUnit("{observation}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"congestion.pipeline.duration",
		metric.WithDescription("Duration of pipeline runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runs:         runs,
		fallbacks:    fallbacks,
		observations: observations,
		duration:     duration,
	}, nil
}

func (m *Metrics) recordRun(ctx context.Context, provenance Provenance, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provenance", string(provenance)),
		attribute.String("outcome", outcome),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) recordFallback(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", kind)))
}

func (m *Metrics) recordObservations(ctx context.Context, matched, unmatched int) {
	if m == nil {
		return
	}
	m.observations.Add(ctx, int64(matched), metric.WithAttributes(attribute.String("outcome", "matched")))
	m.observations.Add(ctx, int64(unmatched), metric.WithAttributes(attribute.String("outcome", "unmatched")))
}
