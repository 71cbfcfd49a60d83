package routing

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}, nil
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Mapbox {
	t.Helper()
	m, err := NewMapbox("pk.test", WithBaseURL("http://mapbox.test"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return m
}

func TestMapboxRoute(t *testing.T) {
	var captured *http.Request
	m := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		return respond(http.StatusOK, `{"code":"Ok","routes":[{"distance":2345.6,"duration":301}]}`)(req)
	})
	r, err := m.Route(context.Background(), geo.Point{Lat: 12.98, Lng: 77.60}, geo.Point{Lat: 12.97, Lng: 77.59})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if r.DistanceKm != 2.35 || r.ETAMinutes != 6 {
		t.Fatalf("unexpected route %+v", r)
	}
	if !strings.HasPrefix(captured.URL.Path, "/directions/v5/mapbox/driving/77.600000,12.980000;77.590000,12.970000") {
		t.Fatalf("unexpected path %q", captured.URL.Path)
	}
	if captured.URL.Query().Get("access_token") != "pk.test" {
		t.Fatalf("access token missing")
	}
}

func TestMapboxRouteFailures(t *testing.T) {
	cases := map[string]roundTripFunc{
		"status":   respond(http.StatusUnauthorized, `{"message":"Not Authorized"}`),
		"no route": respond(http.StatusOK, `{"code":"NoRoute","routes":[]}`),
		"garbage":  respond(http.StatusOK, `<html>`),
	}
	for name, rt := range cases {
		m := newTestClient(t, rt)
		_, err := m.Route(context.Background(), geo.Point{}, geo.Point{Lat: 1})
		if !apperr.IsCode(err, apperr.CodeRetrieval) {
			t.Fatalf("%s: expected retrieval error, got %v", name, err)
		}
	}
}

func TestMapboxGeocode(t *testing.T) {
	m := newTestClient(t, respond(http.StatusOK, `{"features":[{"center":[77.5946,12.9716],"place_name":"MG Road, Bengaluru"}]}`))
	p, err := m.Geocode(context.Background(), "MG Road")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if p.Point.Lat != 12.9716 || p.Point.Lng != 77.5946 || p.Address != "MG Road, Bengaluru" {
		t.Fatalf("unexpected place %+v", p)
	}

	m = newTestClient(t, respond(http.StatusOK, `{"features":[]}`))
	if _, err := m.Geocode(context.Background(), "nowhere"); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewMapboxRequiresToken(t *testing.T) {
	if _, err := NewMapbox("  "); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestEstimator(t *testing.T) {
	e := NewEstimator(20)
	// 0.1 degree of latitude is ~11.12 km, 33.4 minutes at 20 km/h.
	r, err := e.Route(context.Background(), geo.Point{Lat: 0.1}, geo.Point{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if r.DistanceKm != 11.12 || r.ETAMinutes != 34 {
		t.Fatalf("unexpected estimate %+v", r)
	}
	if _, err := NewEstimator(0).Route(context.Background(), geo.Point{}, geo.Point{}); err == nil {
		t.Fatalf("expected error for zero speed")
	}
}
