// Package jartic fetches five-minute traffic measurements from the JARTIC
// open-traffic WFS endpoint.
package jartic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/provider/resilience"
	"github.com/roadpulse/roadpulse/internal/traffic"
)

const (
	// ProviderName identifies JARTIC in the provider registry.
	ProviderName = "jartic"
	// DefaultBaseURL is the public geoserver root.
	DefaultBaseURL = "https://api.jartic-open-traffic.org/geoserver"
	// DefaultRoadType selects general roads (道路種別 3).
	DefaultRoadType = 3
	// LayerName is the five-minute measurement layer.
	LayerName = "t_travospublic_measure_5m"
)

// Feature property names.
const (
	propSpeed      = "平均速度"
	propTravelTime = "旅行時間"
	propLinkLength = "リンク長"
	propTimeCode   = "時間コード"
)

// Fetcher is the subset of the resilient client used here.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL  string
	RoadType int
	HTTP     Fetcher
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Client is a traffic.Source backed by JARTIC.
type Client struct {
	baseURL  string
	roadType int
	http     Fetcher
	now      func() time.Time
	logger   zerolog.Logger
}

// NewClient creates a JARTIC client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RoadType == 0 {
		cfg.RoadType = DefaultRoadType
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HTTP == nil {
		cfg.HTTP = resilience.NewClient(resilience.ClientConfig{Name: ProviderName, Logger: cfg.Logger})
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		roadType: cfg.RoadType,
		http:     cfg.HTTP,
		now:      cfg.Now,
		logger:   cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
}

// Name identifies the source.
func (c *Client) Name() string {
	return ProviderName
}

// Fetch returns the measurements of the latest complete five-minute slot
// inside bbox. Rows with implausible values are dropped.
func (c *Client) Fetch(ctx context.Context, bbox geo.BBox) ([]traffic.RawObservation, error) {
	timeCode := traffic.TimeCode(c.now())
	requestURL := c.BuildURL(bbox, timeCode)

	c.logger.Debug().Str("time_code", timeCode).Str("bbox", bbox.String()).Msg("fetching traffic")

	body, err := c.http.Get(ctx, requestURL, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, &traffic.FetchError{Source: ProviderName, Kind: classify(err), Err: err}
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, &traffic.FetchError{Source: ProviderName, Kind: traffic.ErrBadResponse, Err: err}
	}

	observations, dropped := parseFeatures(fc, timeCode)
	c.logger.Info().
		Str("time_code", timeCode).
		Int("features", len(fc.Features)).
		Int("observations", len(observations)).
		Int("dropped", dropped).
		Msg("traffic fetched")

	return observations, nil
}

// BuildURL returns the WFS GetFeature URL for bbox and slot.
func (c *Client) BuildURL(bbox geo.BBox, timeCode string) string {
	filter := fmt.Sprintf(
		"道路種別=%d AND 時間コード=%s AND BBOX(\"ジオメトリ\",%f,%f,%f,%f,'EPSG:4326')",
		c.roadType, timeCode, bbox.MinLon, bbox.MinLat, bbox.MaxLon, bbox.MaxLat,
	)

	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", "2.0.0")
	q.Set("request", "GetFeature")
	q.Set("typeNames", LayerName)
	q.Set("srsName", "EPSG:4326")
	q.Set("outputFormat", "application/json")
	q.Set("exceptions", "application/json")
	q.Set("cql_filter", filter)

	return c.baseURL + "?" + q.Encode()
}

func parseFeatures(fc *geojson.FeatureCollection, timeCode string) ([]traffic.RawObservation, int) {
	out := make([]traffic.RawObservation, 0, len(fc.Features))
	dropped := 0
	for i, f := range fc.Features {
		loc, ok := location(f.Geometry)
		if !ok {
			dropped++
			continue
		}

		speed := number(f.Properties, propSpeed)
		travel := number(f.Properties, propTravelTime)
		if speed != nil && (*speed < 0 || *speed > traffic.MaxPlausibleSpeedKmh) {
			dropped++
			continue
		}
		if travel != nil && *travel < 0 {
			dropped++
			continue
		}

		code := timeCode
		if v := number(f.Properties, propTimeCode); v != nil {
			code = strconv.FormatFloat(*v, 'f', 0, 64)
		}

		out = append(out, traffic.RawObservation{
			ID:            featureID(f, i),
			Location:      loc,
			CRS:           geo.WGS84,
			SpeedKmh:      speed,
			TravelTimeSec: travel,
			LinkLengthM:   number(f.Properties, propLinkLength),
			TimeCode:      code,
		})
	}
	return out, dropped
}

// location reduces a measurement geometry to a point. Link geometries are
// represented by their midpoint vertex.
func location(g orb.Geometry) (orb.Point, bool) {
	switch v := g.(type) {
	case orb.Point:
		return v, true
	case orb.MultiPoint:
		if len(v) > 0 {
			return v[0], true
		}
	case orb.LineString:
		if len(v) > 0 {
			return v[len(v)/2], true
		}
	case orb.MultiLineString:
		if len(v) > 0 && len(v[0]) > 0 {
			return v[0][len(v[0])/2], true
		}
	}
	return orb.Point{}, false
}

func featureID(f *geojson.Feature, index int) string {
	switch id := f.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return fmt.Sprintf("%s.%d", LayerName, index)
}

// number reads a numeric property that may arrive as a JSON number or string.
func number(props geojson.Properties, key string) *float64 {
	switch v := props[key].(type) {
	case float64:
		return traffic.Float(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		return traffic.Float(f)
	default:
		return nil
	}
}

// classify maps a transport error to ErrTimeout or ErrNetwork.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return traffic.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return traffic.ErrTimeout
	}
	if errors.Is(err, resilience.ErrBodyTooLarge) {
		return traffic.ErrBadResponse
	}
	return traffic.ErrNetwork
}
