package network

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/roadpulse/roadpulse/internal/geo"
)

// PostgresSource loads segments from the road_segments table:
//
//	id TEXT PRIMARY KEY, road_class TEXT, name TEXT, crs TEXT, geom_wkt TEXT,
//	min_lon, min_lat, max_lon, max_lat DOUBLE PRECISION
//
// Rows whose extent does not intersect the bounding box are skipped.
type PostgresSource struct {
	pool *pgxpool.Pool
	bbox geo.BBox
}

// NewPostgresSource creates a road source backed by PostgreSQL.
func NewPostgresSource(pool *pgxpool.Pool, bbox geo.BBox) *PostgresSource {
	return &PostgresSource{pool: pool, bbox: bbox}
}

// Name identifies the source.
func (s *PostgresSource) Name() string {
	return "postgres"
}

// Load reads every segment intersecting the bounding box, ordered by id.
func (s *PostgresSource) Load(ctx context.Context) ([]RawSegment, error) {
	query := `
		SELECT id, COALESCE(road_class, ''), COALESCE(name, ''), COALESCE(crs, ''), geom_wkt
		FROM road_segments
		WHERE max_lon >= $1 AND min_lon <= $3
		  AND max_lat >= $2 AND min_lat <= $4
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, s.bbox.MinLon, s.bbox.MinLat, s.bbox.MaxLon, s.bbox.MaxLat)
	if err != nil {
		return nil, fmt.Errorf("query road segments: %w", err)
	}
	defer rows.Close()

	var segments []RawSegment
	for rows.Next() {
		var id, class, name, crs, geomWKT string
		if err := rows.Scan(&id, &class, &name, &crs, &geomWKT); err != nil {
			return nil, fmt.Errorf("scan road segment: %w", err)
		}

		parts, err := SegmentsFromWKT(id, class, name, geo.ParseCRS(crs), geomWKT)
		if err != nil {
			return nil, &FormatError{Source: s.Name(), Detail: fmt.Sprintf("segment %q", id), Err: err}
		}
		segments = append(segments, parts...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate road segments: %w", err)
	}

	return segments, nil
}

// SegmentsFromWKT parses a LINESTRING or MULTILINESTRING into raw segments.
// A multi-part geometry yields one segment per part, suffixed "-1", "-2", ...
func SegmentsFromWKT(id, class, name string, crs geo.CRS, geomWKT string) ([]RawSegment, error) {
	geom, err := wkt.Unmarshal(geomWKT)
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}

	base := RawSegment{ID: id, RouteID: id, Class: class, Name: name, CRS: crs}

	switch g := geom.(type) {
	case orb.LineString:
		base.Geometry = g
		return []RawSegment{base}, nil
	case orb.MultiLineString:
		if len(g) == 1 {
			base.Geometry = g[0]
			return []RawSegment{base}, nil
		}
		out := make([]RawSegment, 0, len(g))
		for i, ls := range g {
			part := base
			part.ID = fmt.Sprintf("%s-%d", id, i+1)
			part.Geometry = ls
			out = append(out, part)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported geometry %s", geom.GeoJSONType())
	}
}
