package tracking

import (
	"context"
	"math"
	"sync"
	"time"

	"sarathi/internal/changefeed"
	"sarathi/internal/geo"
	"sarathi/models"
)

// PositionFeed reports positions of the collector serving a target.
// The returned stop func releases the upstream listener and is safe to call repeatedly.
type PositionFeed interface {
	Watch(ctx context.Context, t Target, onPosition func(geo.Point)) (stop func(), err error)
}

// ChangefeedPositions follows collector documents on a change feed.
type ChangefeedPositions struct {
	Feed changefeed.Feed
}

func (f ChangefeedPositions) Watch(ctx context.Context, t Target, onPosition func(geo.Point)) (func(), error) {
	return f.Feed.Subscribe(ctx, changefeed.CollectionCollectors, t.CollectorID, func(c changefeed.Change) {
		var col models.Collector
		if err := c.Decode(&col); err != nil || !col.HasLocation() {
			return
		}
		onPosition(geo.Point{Lat: *col.CurrentLat, Lng: *col.CurrentLng})
	})
}

const (
	defaultSyntheticOffset = 0.01
	defaultSyntheticStep   = 0.001
)

// SyntheticFeed simulates a collector approaching the pickup point. Movement starts
// Offset degrees north-east of the destination and closes in by Step degrees per tick
// on each axis until it arrives.
type SyntheticFeed struct {
	Interval time.Duration
	Offset   float64
	Step     float64
}

func (f SyntheticFeed) Watch(_ context.Context, t Target, onPosition func(geo.Point)) (func(), error) {
	interval, offset, step := f.Interval, f.Offset, f.Step
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if offset == 0 {
		offset = defaultSyntheticOffset
	}
	if step <= 0 {
		step = defaultSyntheticStep
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pos := geo.Point{Lat: t.Destination.Lat + offset, Lng: t.Destination.Lng + offset}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			pos.Lat = approach(pos.Lat, t.Destination.Lat, step)
			pos.Lng = approach(pos.Lng, t.Destination.Lng, step)
			if ctx.Err() != nil {
				return
			}
			onPosition(pos)
			if pos == t.Destination {
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// approach moves from toward to by at most step, landing exactly on to when close.
func approach(from, to, step float64) float64 {
	d := to - from
	if math.Abs(d) <= step {
		return to
	}
	return from + math.Copysign(step, d)
}
