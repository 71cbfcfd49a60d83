package pickup

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
	"sarathi/internal/lifecycle"
	"sarathi/internal/matcher"
	"sarathi/models"
)

const (
	pickupDateLayout = "2006-01-02"
	pickupTimeLayout = "15:04"
)

// Assignment outcomes recorded in metrics.
const (
	assignmentMatched     = "matched"
	assignmentUnavailable = "unavailable"
	assignmentError       = "error"
)

// CreateOrderInput is what a citizen submits when booking a pickup.
// Coordinates come from Lat/Lng when both are set, else from MapLink, else from geocoding Address.
type CreateOrderInput struct {
	Name       string
	Phone      string
	Address    string
	MapLink    string
	Lat        *float64
	Lng        *float64
	Category   models.WasteCategory
	WeightKg   int
	PickupDate string
	PickupTime string
	Notes      string
}

// Assignment describes the collector matched at creation.
type Assignment struct {
	CollectorID    string  `json:"collector_id"`
	CollectorName  string  `json:"collector_name"`
	CollectorPhone string  `json:"collector_phone"`
	DistanceKm     float64 `json:"distance_km"`
}

// CreateOrderResult is returned by CreateOrder. A nil Assignment means no collector was
// available and the order stays pending.
type CreateOrderResult struct {
	Order      *models.Order `json:"order"`
	Assignment *Assignment   `json:"assignment,omitempty"`
	QRPayload  string        `json:"qr_payload"`
}

// CreateOrder validates and stores a new pickup order for citizenID and tries to match it
// with the nearest available collector.
func (s *Service) CreateOrder(ctx context.Context, citizenID string, in CreateOrderInput) (*CreateOrderResult, error) {
	if citizenID == "" {
		return nil, apperr.New(apperr.CodeValidation, "citizen id is required")
	}
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}
	pt, err := s.resolveLocation(ctx, in)
	if err != nil {
		return nil, err
	}
	id, err := s.newID()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generate order id")
	}

	if err := s.citizens.Ensure(ctx, &models.Citizen{ID: citizenID, Name: in.Name, Phone: in.Phone}); err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "save citizen")
	}
	o, err := s.orders.Create(ctx, &models.Order{
		ID:         id,
		CitizenID:  citizenID,
		Name:       in.Name,
		Phone:      in.Phone,
		Address:    in.Address,
		MapLink:    in.MapLink,
		Lat:        pt.Lat,
		Lng:        pt.Lng,
		Category:   in.Category,
		WeightKg:   in.WeightKg,
		PickupDate: in.PickupDate,
		PickupTime: in.PickupTime,
		Notes:      in.Notes,
		Status:     models.OrderStatusPending,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "save order")
	}
	ctx = s.logg.WithOrderID(ctx, o.ID)
	s.metrics.IncOrderCreated()
	s.logg.Info(ctx, "order created")
	s.publishOrder(ctx, o)

	res := &CreateOrderResult{Order: o}
	if assigned, a := s.autoAssign(ctx, o); a != nil {
		res.Order, res.Assignment = assigned, a
	}
	payload, err := lifecycle.EncodePayload(res.Order)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "encode qr payload")
	}
	res.QRPayload = payload
	return res, nil
}

// autoAssign matches o with the nearest collector. Any failure leaves the order pending.
func (s *Service) autoAssign(ctx context.Context, o *models.Order) (*models.Order, *Assignment) {
	m, ok, err := s.finder.Nearest(ctx, o.Lat, o.Lng)
	if err != nil {
		s.metrics.IncAssignment(assignmentError)
		s.logg.WarnErr(ctx, "collector matching failed; order stays pending", err)
		return nil, nil
	}
	if !ok {
		s.metrics.IncAssignment(assignmentUnavailable)
		s.logg.Info(ctx, "no collector available; order stays pending")
		return nil, nil
	}
	col := m.Collector
	ctx = s.logg.WithCollectorID(ctx, col.ID)
	reserved, err := s.collectors.ReserveRequest(ctx, col.ID, matcher.MaxActiveRequests)
	if err != nil {
		s.metrics.IncAssignment(assignmentError)
		s.logg.WarnErr(ctx, "reserve collector slot", err)
		return nil, nil
	}
	if !reserved {
		s.metrics.IncAssignment(assignmentUnavailable)
		s.logg.Info(ctx, "matched collector reached the request limit; order stays pending")
		return nil, nil
	}
	assigned, eff, err := s.transition(ctx, o, lifecycle.Input{Event: lifecycle.EventCollectorMatched, Collector: col.Ref()})
	if err != nil || eff.Noop || assigned.CollectorID() != col.ID {
		s.adjustCollectorLoad(ctx, col.ID, -1)
		s.metrics.IncAssignment(assignmentError)
		if err != nil {
			s.logg.WarnErr(ctx, "assign collector", err)
		}
		return nil, nil
	}
	s.publishCollector(ctx, col.ID)
	s.metrics.IncAssignment(assignmentMatched)
	return assigned, &Assignment{
		CollectorID:    col.ID,
		CollectorName:  col.Name,
		CollectorPhone: col.Phone,
		DistanceKm:     m.DistanceKm,
	}
}

func (s *Service) validateCreate(in *CreateOrderInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.MapLink = strings.TrimSpace(in.MapLink)
	in.Notes = strings.TrimSpace(in.Notes)

	fields := map[string]string{}
	if in.Name == "" {
		fields["name"] = "required"
	}
	if in.Phone == "" {
		fields["phone"] = "required"
	}
	if in.Address == "" {
		fields["address"] = "required"
	}
	if !in.Category.Valid() {
		fields["category"] = fmt.Sprintf("unknown category %q", in.Category)
	}
	if in.WeightKg < 0 {
		fields["weight_kg"] = "must not be negative"
	}
	if (in.Lat == nil) != (in.Lng == nil) {
		fields["location"] = "lat and lng must be given together"
	}
	if in.Lat != nil && in.Lng != nil && (*in.Lat < -90 || *in.Lat > 90 || *in.Lng < -180 || *in.Lng > 180) {
		fields["location"] = "coordinates out of range"
	}
	when, err := time.ParseInLocation(pickupDateLayout+" "+pickupTimeLayout, in.PickupDate+" "+in.PickupTime, s.loc)
	if err != nil {
		fields["pickup"] = "pickup_date must be YYYY-MM-DD and pickup_time HH:MM"
	} else if !when.After(s.now()) {
		fields["pickup"] = "pickup must be in the future"
	}
	if len(fields) > 0 {
		return apperr.New(apperr.CodeValidation, "invalid pickup request").WithDetails(fields)
	}
	return nil
}

func (s *Service) resolveLocation(ctx context.Context, in CreateOrderInput) (geo.Point, error) {
	if in.Lat != nil && in.Lng != nil {
		return geo.Point{Lat: *in.Lat, Lng: *in.Lng}, nil
	}
	if pt, ok := geo.ParseMapLink(in.MapLink); ok {
		return pt, nil
	}
	if s.geocoder == nil {
		return geo.Point{}, apperr.New(apperr.CodeValidation, "location is required: give coordinates or a map link with coordinates")
	}
	place, err := s.geocoder.Geocode(ctx, in.Address)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return geo.Point{}, apperr.New(apperr.CodeValidation, "address could not be located")
	}
	if err != nil {
		return geo.Point{}, apperr.Wrap(apperr.CodeRetrieval, err, "geocode address")
	}
	return place.Point, nil
}

// AcceptOrder lets a collector claim a pending order from the open request list.
// The collector's request slot is taken in the store before the order moves, so the
// load cap holds under concurrent claims.
func (s *Service) AcceptOrder(ctx context.Context, collectorID, orderID string) (*models.Order, error) {
	col, err := s.resolveCollector(ctx, collectorID)
	if err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderStatusAccepted && o.CollectorID() != col.ID {
		return nil, apperr.New(apperr.CodeInvalidTransition, "order was accepted by another collector")
	}
	ctx = s.logg.WithCollectorID(ctx, col.ID)
	if o.Status != models.OrderStatusPending {
		next, _, err := s.transition(ctx, o, lifecycle.Input{Event: lifecycle.EventCollectorMatched, Collector: col.Ref()})
		return next, err
	}

	if !matcher.Eligible(col) {
		return nil, ineligible()
	}
	reserved, err := s.collectors.ReserveRequest(ctx, col.ID, matcher.MaxActiveRequests)
	if err != nil {
		return nil, collectorWriteError(err, col.ID, "reserve collector slot")
	}
	if !reserved {
		return nil, ineligible()
	}
	next, eff, err := s.transition(ctx, o, lifecycle.Input{Event: lifecycle.EventCollectorMatched, Collector: col.Ref()})
	switch {
	case err != nil:
		s.adjustCollectorLoad(ctx, col.ID, -1)
		return nil, err
	case next.CollectorID() != col.ID:
		s.adjustCollectorLoad(ctx, col.ID, -1)
		return nil, apperr.New(apperr.CodeInvalidTransition, "order was accepted by another collector")
	case eff.Noop:
		s.adjustCollectorLoad(ctx, col.ID, -1)
		return next, nil
	}
	s.publishCollector(ctx, col.ID)
	return next, nil
}

func ineligible() error {
	return apperr.New(apperr.CodeForbidden, "collector must be approved, online, located and below the request limit")
}

// MarkArrived records that the assigned collector reached the pickup point.
func (s *Service) MarkArrived(ctx context.Context, collectorID, orderID string) (*models.Order, error) {
	return s.collectorStep(ctx, collectorID, orderID, lifecycle.Input{Event: lifecycle.EventCollectorArrived})
}

// VerifyQR checks the scanned QR text against the order and advances it to qr_verified.
func (s *Service) VerifyQR(ctx context.Context, collectorID, orderID, scanned string) (*models.Order, error) {
	p, err := lifecycle.DecodePayload(scanned)
	if err != nil {
		return nil, err
	}
	return s.collectorStep(ctx, collectorID, orderID, lifecycle.Input{Event: lifecycle.EventPayloadValidated, Payload: p})
}

// CompleteCollection confirms the handover. The citizen is credited with eco-points and the
// collector's slot is released.
func (s *Service) CompleteCollection(ctx context.Context, collectorID, orderID string) (*models.Order, error) {
	return s.collectorStep(ctx, collectorID, orderID, lifecycle.Input{Event: lifecycle.EventCollectionConfirmed})
}

func (s *Service) collectorStep(ctx context.Context, collectorID, orderID string, in lifecycle.Input) (*models.Order, error) {
	if collectorID == "" {
		return nil, apperr.New(apperr.CodeValidation, "collector id is required")
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireAssigned(o, collectorID); err != nil {
		return nil, err
	}
	next, _, err := s.transition(s.logg.WithCollectorID(ctx, collectorID), o, in)
	return next, err
}

// CancelOrder cancels a non-terminal order on behalf of its owner.
func (s *Service) CancelOrder(ctx context.Context, citizenID, orderID string) (*models.Order, error) {
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(o, citizenID); err != nil {
		return nil, err
	}
	next, _, err := s.transition(ctx, o, lifecycle.Input{Event: lifecycle.EventCancelled})
	return next, err
}
