package pickup

import (
	"context"
	"sort"
	"time"

	"sarathi/internal/auth"
	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
	"sarathi/internal/lifecycle"
	"sarathi/models"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
	openRequestScanLimit     = 200
	defaultHistoryLimit      = 50
	maxHistoryLimit          = 200
)

// GetOrder returns an order visible to p: citizens see their own orders, collectors the
// orders assigned to them, admins everything.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, orderID string) (*models.Order, error) {
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case auth.KindAdmin:
	case auth.KindCitizen:
		err = requireOwner(o, p.ID)
	case auth.KindCollector:
		err = requireAssigned(o, p.ID)
	default:
		err = apperr.New(apperr.CodeForbidden, "unknown principal kind")
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// QRPayload returns the QR text the citizen shows the collector at pickup.
func (s *Service) QRPayload(ctx context.Context, citizenID, orderID string) (string, error) {
	o, err := s.GetOrder(ctx, auth.Principal{ID: citizenID, Kind: auth.KindCitizen}, orderID)
	if err != nil {
		return "", err
	}
	return lifecycle.EncodePayload(o)
}

// ListCitizenOrders returns the citizen's orders, newest first.
func (s *Service) ListCitizenOrders(ctx context.Context, citizenID string) ([]*models.Order, error) {
	if citizenID == "" {
		return nil, apperr.New(apperr.CodeValidation, "citizen id is required")
	}
	list, err := s.orders.ListByCitizen(ctx, citizenID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "list citizen orders")
	}
	return list, nil
}

// CollectorTasks is the collector dashboard: work already assigned plus open requests nearby.
type CollectorTasks struct {
	Assigned []*models.Order `json:"assigned"`
	Open     []*OpenRequest  `json:"open"`
}

// OpenRequest is a pending order within reach of the collector.
type OpenRequest struct {
	Order      *models.Order `json:"order"`
	DistanceKm float64       `json:"distance_km"`
}

// ListCollectorTasks returns the collector's non-terminal orders and, when the collector's
// position is known, pending orders inside the service radius ordered by distance.
func (s *Service) ListCollectorTasks(ctx context.Context, collectorID string) (*CollectorTasks, error) {
	col, err := s.resolveCollector(ctx, collectorID)
	if err != nil {
		return nil, err
	}
	mine, err := s.orders.ListByCollector(ctx, col.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "list collector orders")
	}
	tasks := &CollectorTasks{Assigned: []*models.Order{}, Open: []*OpenRequest{}}
	for _, o := range mine {
		if !o.Status.Terminal() {
			tasks.Assigned = append(tasks.Assigned, o)
		}
	}
	if !col.HasLocation() {
		return tasks, nil
	}
	here := geo.Point{Lat: *col.CurrentLat, Lng: *col.CurrentLng}
	pending, err := s.orders.ListPendingWithin(ctx, geo.BoundingBox(here, geo.ServiceRadiusKm), openRequestScanLimit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "list open requests")
	}
	for _, o := range pending {
		d := geo.Distance(here, geo.Point{Lat: o.Lat, Lng: o.Lng})
		if d < geo.ServiceRadiusKm {
			tasks.Open = append(tasks.Open, &OpenRequest{Order: o, DistanceKm: d})
		}
	}
	sort.SliceStable(tasks.Open, func(i, j int) bool { return tasks.Open[i].DistanceKm < tasks.Open[j].DistanceKm })
	return tasks, nil
}

// CollectorHistory returns the collector's completed collections, most recently completed first.
func (s *Service) CollectorHistory(ctx context.Context, collectorID string, limit int) ([]*models.Order, error) {
	col, err := s.resolveCollector(ctx, collectorID)
	if err != nil {
		return nil, err
	}
	mine, err := s.orders.ListByCollector(ctx, col.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "list collector orders")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	done := []*models.Order{}
	for _, o := range mine {
		if o.Status == models.OrderStatusCompleted {
			done = append(done, o)
		}
	}
	sort.SliceStable(done, func(i, j int) bool { return completedAt(done[i]).After(completedAt(done[j])) })
	if len(done) > limit {
		done = done[:limit]
	}
	return done, nil
}

func completedAt(o *models.Order) time.Time {
	if o.CompletedAt != nil {
		return *o.CompletedAt
	}
	return o.CreatedAt
}

// Notifications returns the citizen's most recent in-app notices.
func (s *Service) Notifications(ctx context.Context, citizenID string, limit int) ([]*models.Notification, error) {
	if citizenID == "" {
		return nil, apperr.New(apperr.CodeValidation, "citizen id is required")
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	list, err := s.notifications.ListByCitizen(ctx, citizenID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "list notifications")
	}
	return list, nil
}

// CitizenStats summarises a citizen's activity.
type CitizenStats struct {
	ActiveOrders    int `json:"active_orders"`
	CompletedOrders int `json:"completed_orders"`
	TotalKg         int `json:"total_kg"`
	EcoPoints       int `json:"eco_points"`
}

func (s *Service) CitizenStats(ctx context.Context, citizenID string) (*CitizenStats, error) {
	list, err := s.ListCitizenOrders(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	st := &CitizenStats{}
	earned := 0
	for _, o := range list {
		switch {
		case o.Status == models.OrderStatusCompleted:
			st.CompletedOrders++
			st.TotalKg += o.WeightKg
			earned += o.EcoPoints
		case !o.Status.Terminal():
			st.ActiveOrders++
		}
	}
	c, err := s.citizens.GetByID(ctx, citizenID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "load citizen")
	}
	if c != nil {
		st.EcoPoints = c.EcoPoints
	} else {
		st.EcoPoints = earned
	}
	return st, nil
}

// CollectorStats summarises a collector's workload for the current day.
type CollectorStats struct {
	OpenTasks      int `json:"open_tasks"`
	CompletedToday int `json:"completed_today"`
	KgToday        int `json:"kg_today"`
}

func (s *Service) CollectorStats(ctx context.Context, collectorID string) (*CollectorStats, error) {
	col, err := s.resolveCollector(ctx, collectorID)
	if err != nil {
		return nil, err
	}
	list, err := s.orders.ListByCollector(ctx, col.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "list collector orders")
	}
	today := s.now().In(s.loc).Format(pickupDateLayout)
	st := &CollectorStats{}
	for _, o := range list {
		if !o.Status.Terminal() {
			st.OpenTasks++
			continue
		}
		if o.Status == models.OrderStatusCompleted && o.CompletedAt != nil &&
			o.CompletedAt.In(s.loc).Format(pickupDateLayout) == today {
			st.CompletedToday++
			st.KgToday += o.WeightKg
		}
	}
	return st, nil
}
