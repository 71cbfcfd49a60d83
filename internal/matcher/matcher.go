package matcher

import (
	"context"

	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
	"sarathi/models"
)

// MaxActiveRequests is the load cap: a collector carrying this many open orders is not eligible.
const MaxActiveRequests = 10

// Match is the selected collector and its distance from the pickup point.
type Match struct {
	Collector  models.Collector
	DistanceKm float64
}

// Eligible reports whether c may be assigned a new order, ignoring distance.
func Eligible(c *models.Collector) bool {
	return c != nil && c.Online && c.Approved && c.ActiveRequests < MaxActiveRequests && c.HasLocation()
}

// FindNearest returns the eligible collector strictly closest to (lat, lng) and inside the
// service radius. Ties keep the candidate that appears first in pool.
// The pool is not modified.
func FindNearest(lat, lng float64, pool []models.Collector) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for i := range pool {
		c := &pool[i]
		if !Eligible(c) {
			continue
		}
		d := geo.DistanceKm(lat, lng, *c.CurrentLat, *c.CurrentLng)
		if d >= geo.ServiceRadiusKm {
			continue
		}
		if !found || d < best.DistanceKm {
			best = Match{Collector: *c, DistanceKm: d}
			found = true
		}
	}
	return best, found
}

// CandidateSource lists the collectors that may be considered for assignment.
type CandidateSource interface {
	ListAvailable(ctx context.Context) ([]*models.Collector, error)
}

// Finder runs FindNearest against a store-backed candidate pool.
type Finder struct {
	Source CandidateSource
}

// NewFinder creates a Finder over src.
func NewFinder(src CandidateSource) *Finder {
	return &Finder{Source: src}
}

// Nearest loads the candidate pool and selects the nearest collector.
// A pool that cannot be loaded yields a RETRIEVAL_ERROR; callers keep the order pending.
func (f *Finder) Nearest(ctx context.Context, lat, lng float64) (Match, bool, error) {
	if f == nil || f.Source == nil {
		return Match{}, false, apperr.New(apperr.CodeRetrieval, "collector source not configured")
	}
	list, err := f.Source.ListAvailable(ctx)
	if err != nil {
		return Match{}, false, apperr.Wrap(apperr.CodeRetrieval, err, "load collector pool")
	}
	pool := make([]models.Collector, 0, len(list))
	for _, c := range list {
		if c != nil {
			pool = append(pool, *c)
		}
	}
	m, ok := FindNearest(lat, lng, pool)
	return m, ok, nil
}
