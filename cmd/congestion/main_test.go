package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/pipeline"
)

func emptyResult() *pipeline.Result {
	return &pipeline.Result{
		RunID:       "run-cli",
		GeneratedAt: time.Date(2025, 3, 12, 5, 7, 0, 0, time.UTC),
		BBox:        geo.BBoxAround(orb.Point{139.7644, 35.7056}, 500),
		Provenance:  pipeline.ProvenanceLive,
		Statistics:  congestion.ComputeStatistics(nil),
	}
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, emptyResult()))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
	assert.Equal(t, "run-cli", fc.ExtraMembers["runId"])
	assert.Equal(t, "live", fc.ExtraMembers["provenance"])
	assert.Contains(t, buf.String(), "\n  \"type\": \"FeatureCollection\"")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.geojson")
	require.NoError(t, writeFile(path, emptyResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"runId": "run-cli"`)
}

func TestWriteFile_BadPath(t *testing.T) {
	err := writeFile(filepath.Join(t.TempDir(), "missing", "out.geojson"), emptyResult())
	assert.ErrorContains(t, err, "create output")
}
