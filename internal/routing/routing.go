package routing

import (
	"context"
	"math"

	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
)

// Route is the travel estimate between two points.
type Route struct {
	DistanceKm float64 `json:"distance_km"`
	ETAMinutes int     `json:"eta_minutes"`
}

// Estimator derives routes from great-circle distance and an average travel speed.
// It needs no network and is used when no routing provider is configured.
type Estimator struct {
	SpeedKmh float64
}

// NewEstimator returns an estimator travelling at speedKmh.
func NewEstimator(speedKmh float64) *Estimator {
	return &Estimator{SpeedKmh: speedKmh}
}

func (e *Estimator) Route(_ context.Context, from, to geo.Point) (Route, error) {
	if e == nil || e.SpeedKmh <= 0 {
		return Route{}, apperr.New(apperr.CodeRetrieval, "estimator speed not configured")
	}
	km := geo.Distance(from, to)
	return Route{
		DistanceKm: roundKm(km),
		ETAMinutes: int(math.Ceil(km / e.SpeedKmh * 60)),
	}, nil
}

func roundKm(km float64) float64 {
	return math.Round(km*100) / 100
}
