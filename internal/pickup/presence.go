package pickup

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sarathi/internal/auth"
	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
	"sarathi/internal/tracking"
	"sarathi/models"
)

// UpdateCollectorLocation records the collector's current position and publishes it to
// tracking sessions.
func (s *Service) UpdateCollectorLocation(ctx context.Context, collectorID string, lat, lng float64) (*models.Collector, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperr.New(apperr.CodeValidation, "coordinates out of range").
			WithDetails(map[string]float64{"lat": lat, "lng": lng})
	}
	ctx = s.logg.WithCollectorID(ctx, collectorID)
	if err := s.collectors.UpdateLocation(ctx, collectorID, lat, lng, s.now().UTC()); err != nil {
		return nil, collectorWriteError(err, collectorID, "update collector location")
	}
	s.publishCollector(ctx, collectorID)
	return s.resolveCollector(ctx, collectorID)
}

// SetCollectorOnline toggles whether the collector takes new requests.
func (s *Service) SetCollectorOnline(ctx context.Context, collectorID string, online bool) (*models.Collector, error) {
	ctx = s.logg.WithCollectorID(ctx, collectorID)
	if err := s.collectors.SetOnline(ctx, collectorID, online); err != nil {
		return nil, collectorWriteError(err, collectorID, "update collector availability")
	}
	s.publishCollector(ctx, collectorID)
	return s.resolveCollector(ctx, collectorID)
}

// RegisterCollector onboards a collector. New collectors are offline and unapproved.
func (s *Service) RegisterCollector(ctx context.Context, name, phone string) (*models.Collector, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" || phone == "" {
		return nil, apperr.New(apperr.CodeValidation, "collector name and phone are required")
	}
	c, err := s.collectors.Create(ctx, &models.Collector{Name: name, Phone: phone, CreatedAt: s.now().UTC()})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "create collector")
	}
	s.logg.Info(s.logg.WithCollectorID(ctx, c.ID), "collector registered")
	return c, nil
}

// ApproveCollector makes a registered collector eligible for assignment.
func (s *Service) ApproveCollector(ctx context.Context, collectorID string) (*models.Collector, error) {
	ctx = s.logg.WithCollectorID(ctx, collectorID)
	if err := s.collectors.Approve(ctx, collectorID); err != nil {
		return nil, collectorWriteError(err, collectorID, "approve collector")
	}
	s.publishCollector(ctx, collectorID)
	return s.resolveCollector(ctx, collectorID)
}

func collectorWriteError(err error, id, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.CodeNotFound, "collector %s not found", id)
	}
	return apperr.Wrap(apperr.CodeRetrieval, err, msg)
}

// TrackOrder starts a live tracking session for clientID on an assigned, unfinished order.
// The session ends on Stop, when the same client tracks the order again, or when the order
// completes or is cancelled.
func (s *Service) TrackOrder(ctx context.Context, p auth.Principal, clientID, orderID string, display func(tracking.Update)) (*tracking.Session, error) {
	if s.tracker == nil {
		return nil, apperr.New(apperr.CodeRetrieval, "live tracking is not available")
	}
	o, err := s.GetOrder(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, apperr.Newf(apperr.CodeInvalidTransition, "order %s is %s", o.ID, o.Status)
	}
	if o.Collector == nil {
		return nil, apperr.Newf(apperr.CodeInvalidTransition, "order %s has no collector yet", o.ID)
	}
	if clientID == "" {
		clientID = p.Kind + ":" + p.ID
	}
	ctx = s.logg.WithOrderID(ctx, o.ID)
	session, err := s.tracker.Start(ctx, clientID, tracking.Target{
		OrderID:     o.ID,
		CollectorID: o.Collector.ID,
		Destination: geo.Point{Lat: o.Lat, Lng: o.Lng},
	}, display)
	if err != nil {
		return nil, err
	}

	// The order may have finished or been reassigned between the first read and the
	// subscriptions, in which case its stop signal was missed.
	cur, err := s.loadOrder(ctx, o.ID)
	if err != nil {
		s.tracker.Stop(session)
		return nil, err
	}
	if cur.Status.Terminal() || cur.CollectorID() != o.Collector.ID {
		s.tracker.Stop(session)
		return nil, apperr.Newf(apperr.CodeInvalidTransition, "order %s is %s", cur.ID, cur.Status)
	}
	return session, nil
}

// StopTracking ends a session returned by TrackOrder.
func (s *Service) StopTracking(session *tracking.Session) {
	if s.tracker != nil {
		s.tracker.Stop(session)
	}
}
