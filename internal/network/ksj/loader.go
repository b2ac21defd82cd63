// Package ksj loads road centerlines from a zipped National Land Numerical
// Information (KSJ) N01 dataset.
package ksj

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/japanese"

	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/network"
)

// KSJ N01 attribute columns.
const (
	ColumnClass = "N01_001"
	ColumnID    = "N01_002"
	ColumnName  = "N01_003"
)

// bboxPadDegrees loosens the bbox filter so that segments in a shifted
// datum are not dropped before they are normalized.
const bboxPadDegrees = 0.01

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Path is the zip archive on disk.
	Path string
	// DeclaredCRS applies when the archive carries no .prj; empty means the
	// frame stays undeclared and normalization fails.
	DeclaredCRS geo.CRS
	// BBox filters segments by extent when non-nil.
	BBox   *geo.BBox
	Logger zerolog.Logger
}

// Loader reads road segments from a KSJ archive.
type Loader struct {
	path        string
	declaredCRS geo.CRS
	bbox        *geo.BBox
	logger      zerolog.Logger
}

// NewLoader creates a KSJ loader.
func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{
		path:        cfg.Path,
		declaredCRS: cfg.DeclaredCRS,
		bbox:        cfg.BBox,
		logger:      cfg.Logger,
	}
}

// Name identifies the source.
func (l *Loader) Name() string {
	return "ksj"
}

// Load reads the road layer of the archive.
func (l *Loader) Load(ctx context.Context) ([]network.RawSegment, error) {
	if _, err := os.Stat(l.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", network.ErrFileNotFound, l.path)
		}
		return nil, l.formatError("stat archive", err)
	}

	zr, err := zip.OpenReader(l.path)
	if err != nil {
		return nil, l.formatError("open archive", err)
	}
	members := listMembers(&zr.Reader)

	var segments []network.RawSegment
	switch {
	case members.shapefile != "":
		crs := l.declaredCRS
		if prj := members.prjFor(members.shapefile); prj != nil {
			if detected := readPRJ(prj); detected != "" {
				crs = detected
			}
		}
		_ = zr.Close()
		segments, err = l.readShapefile(ctx, members.shapefile, crs)
	case members.geojson != nil:
		segments, err = l.readGeoJSON(ctx, members.geojson)
		_ = zr.Close()
	default:
		_ = zr.Close()
		return nil, &network.FormatError{Source: l.Name(), Detail: "no road layer in archive"}
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("archive", l.path).
		Int("segments", len(segments)).
		Msg("road network loaded")

	return segments, nil
}

type archiveMembers struct {
	shapefile string
	geojson   *zip.File
	prj       map[string]*zip.File
}

// listMembers picks the road layer: a shapefile whose name mentions "road",
// else the first shapefile, else the first GeoJSON member.
func listMembers(r *zip.Reader) archiveMembers {
	m := archiveMembers{prj: make(map[string]*zip.File)}
	var firstShp string
	for _, f := range r.File {
		name := f.Name
		lower := strings.ToLower(name)
		switch path.Ext(lower) {
		case ".shp":
			if firstShp == "" {
				firstShp = name
			}
			if m.shapefile == "" && strings.Contains(strings.ToLower(path.Base(name)), "road") {
				m.shapefile = name
			}
		case ".geojson":
			if m.geojson == nil {
				m.geojson = f
			}
		case ".prj":
			m.prj[strings.TrimSuffix(lower, ".prj")] = f
		}
	}
	if m.shapefile == "" {
		m.shapefile = firstShp
	}
	return m
}

func (m archiveMembers) prjFor(shapefile string) *zip.File {
	if f, ok := m.prj[strings.TrimSuffix(strings.ToLower(shapefile), ".shp")]; ok {
		return f
	}
	for _, f := range m.prj {
		return f
	}
	return nil
}

func readPRJ(f *zip.File) geo.CRS {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return geo.CRSFromWKT(string(data))
}

func (l *Loader) readShapefile(ctx context.Context, name string, crs geo.CRS) ([]network.RawSegment, error) {
	reader, err := shp.OpenShapeFromZip(l.path, name)
	if err != nil {
		return nil, l.formatError("open shapefile "+name, err)
	}
	defer func() { _ = reader.Close() }()

	columns := make(map[string]int)
	for i, f := range reader.Fields() {
		columns[strings.ToUpper(strings.TrimRight(f.String(), "\x00 "))] = i
	}
	attr := func(column string) string {
		i, ok := columns[column]
		if !ok {
			return ""
		}
		return decodeAttribute(reader.Attribute(i))
	}

	ids := network.NewIDAllocator()
	var segments []network.RawSegment
	row := 0
	for reader.Next() {
		if row%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		_, shape := reader.Shape()
		parts := polylineParts(shape)
		rec := record{
			class: attr(ColumnClass),
			route: routeID(attr(ColumnID), row),
			name:  attr(ColumnName),
		}
		row++
		if parts == nil {
			continue
		}
		segments = l.appendParts(segments, ids, rec, crs, parts)
	}
	if err := reader.Err(); err != nil {
		return nil, l.formatError("read shapefile "+name, err)
	}

	return segments, nil
}

func (l *Loader) readGeoJSON(ctx context.Context, f *zip.File) ([]network.RawSegment, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, l.formatError("open "+f.Name, err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, l.formatError("read "+f.Name, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, l.formatError("parse "+f.Name, err)
	}

	// RFC 7946 documents are WGS84; older files may name another frame.
	crs := geo.WGS84
	var header struct {
		CRS *struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	}
	if err := json.Unmarshal(data, &header); err == nil && header.CRS != nil {
		crs = geo.ParseCRS(header.CRS.Properties.Name)
		if crs == "" {
			crs = l.declaredCRS
		}
	}

	ids := network.NewIDAllocator()
	var segments []network.RawSegment
	for i, feature := range fc.Features {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var parts []orb.LineString
		switch g := feature.Geometry.(type) {
		case orb.LineString:
			parts = []orb.LineString{g}
		case orb.MultiLineString:
			parts = g
		default:
			continue
		}
		rec := record{
			class: propString(feature.Properties, ColumnClass),
			route: routeID(propString(feature.Properties, ColumnID), i),
			name:  propString(feature.Properties, ColumnName),
		}
		segments = l.appendParts(segments, ids, rec, crs, parts)
	}

	return segments, nil
}

type record struct {
	class string
	route string
	name  string
}

func (l *Loader) appendParts(segments []network.RawSegment, ids *network.IDAllocator, rec record, crs geo.CRS, parts []orb.LineString) []network.RawSegment {
	for _, part := range parts {
		if len(part) < 2 {
			continue
		}
		if l.bbox != nil && !l.bbox.Pad(bboxPadDegrees).Intersects(part.Bound()) {
			continue
		}
		segments = append(segments, network.RawSegment{
			ID:       ids.Next(rec.route),
			RouteID:  rec.route,
			Class:    rec.class,
			Name:     rec.name,
			CRS:      crs,
			Geometry: part,
		})
	}
	return segments
}

// polylineParts splits a shapefile polyline into its parts.
func polylineParts(shape shp.Shape) []orb.LineString {
	var parts []int32
	var points []shp.Point
	switch s := shape.(type) {
	case *shp.PolyLine:
		parts, points = s.Parts, s.Points
	case *shp.PolyLineZ:
		parts, points = s.Parts, s.Points
	case *shp.PolyLineM:
		parts, points = s.Parts, s.Points
	default:
		return nil
	}

	out := make([]orb.LineString, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		ls := make(orb.LineString, 0, end-start)
		for _, p := range points[start:end] {
			ls = append(ls, orb.Point{p.X, p.Y})
		}
		out = append(out, ls)
	}
	return out
}

// routeID zero-pads the KSJ route number to three digits, or numbers the row
// when the column is missing.
func routeID(raw string, row int) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Sprintf("%06d", row)
	}
	if len(raw) < 3 {
		raw = strings.Repeat("0", 3-len(raw)) + raw
	}
	return raw
}

// propString reads a property that may be encoded as a string or a number.
func propString(props geojson.Properties, key string) string {
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// decodeAttribute trims DBF padding and converts Shift_JIS text, which KSJ
// distributes by default, to UTF-8.
func decodeAttribute(s string) string {
	s = strings.TrimRight(s, "\x00 ")
	s = strings.TrimSpace(s)
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := japanese.ShiftJIS.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return decoded
}

func (l *Loader) formatError(detail string, err error) error {
	return &network.FormatError{Source: l.Name(), Detail: detail, Err: err}
}
