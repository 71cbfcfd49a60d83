package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
)

const (
	defaultBaseURL              = "https://api.mapbox.com"
	directionsPath              = "directions/v5/mapbox/driving"
	geocodingPath               = "geocoding/v5/mapbox.places"
	responseBodyReadLimit int64 = 1024
)

var errTokenRequired = errors.New("mapbox access token is required")

// Mapbox wraps the Mapbox Directions and Geocoding APIs.
type Mapbox struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Mapbox)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Mapbox) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithBaseURL overrides the Mapbox API base URL.
func WithBaseURL(baseURL string) Option {
	return func(m *Mapbox) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			m.baseURL = trimmed
		}
	}
}

// NewMapbox builds the client given an access token.
func NewMapbox(token string, opts ...Option) (*Mapbox, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}
	m := &Mapbox{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Route asks the driving directions API for distance and duration from one point to another.
// Distance is rounded to two decimals, duration is rounded up to whole minutes.
func (m *Mapbox) Route(ctx context.Context, from, to geo.Point) (Route, error) {
	if m == nil {
		return Route{}, apperr.New(apperr.CodeRetrieval, "mapbox client not configured")
	}
	coords := fmt.Sprintf("%f,%f;%f,%f", from.Lng, from.Lat, to.Lng, to.Lat)
	q := url.Values{}
	q.Set("access_token", m.token)
	q.Set("overview", "false")

	var apiResp struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
	}
	if err := m.get(ctx, directionsPath+"/"+coords, q, &apiResp, "directions"); err != nil {
		return Route{}, err
	}
	if len(apiResp.Routes) == 0 {
		return Route{}, apperr.Newf(apperr.CodeRetrieval, "no route found (code %s)", apiResp.Code)
	}
	r := apiResp.Routes[0]
	return Route{
		DistanceKm: roundKm(r.Distance / 1000),
		ETAMinutes: int(math.Ceil(r.Duration / 60)),
	}, nil
}

// Place is a geocoding match.
type Place struct {
	Point   geo.Point
	Address string
}

// Geocode resolves a free-form address to the best matching coordinates.
func (m *Mapbox) Geocode(ctx context.Context, address string) (*Place, error) {
	if m == nil {
		return nil, apperr.New(apperr.CodeRetrieval, "mapbox client not configured")
	}
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return nil, apperr.New(apperr.CodeValidation, "address is required")
	}
	q := url.Values{}
	q.Set("access_token", m.token)
	q.Set("limit", "1")

	var apiResp struct {
		Features []struct {
			Center    []float64 `json:"center"`
			PlaceName string    `json:"place_name"`
		} `json:"features"`
	}
	if err := m.get(ctx, geocodingPath+"/"+url.PathEscape(trimmed)+".json", q, &apiResp, "geocoding"); err != nil {
		return nil, err
	}
	if len(apiResp.Features) == 0 || len(apiResp.Features[0].Center) < 2 {
		return nil, apperr.Newf(apperr.CodeNotFound, "no location found for %q", trimmed)
	}
	f := apiResp.Features[0]
	return &Place{Point: geo.Point{Lat: f.Center[1], Lng: f.Center[0]}, Address: f.PlaceName}, nil
}

func (m *Mapbox) get(ctx context.Context, path string, q url.Values, out any, op string) error {
	u := fmt.Sprintf("%s/%s?%s", strings.TrimRight(m.baseURL, "/"), path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeRetrieval, err, "build "+op+" request")
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeRetrieval, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return apperr.Wrap(apperr.CodeRetrieval, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.CodeRetrieval, err, "decode "+op+" response")
	}
	return nil
}
