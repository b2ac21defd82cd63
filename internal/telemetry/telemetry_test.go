package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/roadpulse/roadpulse/internal/config"
	"github.com/roadpulse/roadpulse/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "roadpulse-test",
		OTLPEndpoint: "localhost:4317",
		Enabled:      false,
	})
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))

	// Propagation works without exporters.
	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}

func TestConfig_Resource(t *testing.T) {
	cfg := telemetry.Config{ServiceName: "roadpulse-api", ServiceVersion: "1.2.3", Environment: "test"}

	res, err := cfg.Resource(context.Background())
	require.NoError(t, err)

	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "roadpulse-api", name.AsString())

	version, ok := res.Set().Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", version.AsString())
}

func TestConfig_Sampler(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{"unset samples everything", 0, "AlwaysOnSampler"},
		{"full ratio samples everything", 1, "AlwaysOnSampler"},
		{"partial ratio", 0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler := telemetry.Config{SampleRatio: tt.ratio}.Sampler()
			assert.Contains(t, sampler.Description(), "ParentBased")
			assert.Contains(t, sampler.Description(), tt.want)
		})
	}
}

func TestFromConfig(t *testing.T) {
	c := config.Default()
	c.App.Environment = "staging"
	c.Telemetry.Enabled = true
	c.Telemetry.SampleRatio = 0.5

	cfg := telemetry.FromConfig(c, "roadpulse-worker", "1.2.3")

	assert.Equal(t, "roadpulse-worker", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 0.5, cfg.SampleRatio)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
	assert.True(t, cfg.Insecure)
}
