// Package pickup coordinates pickup orders: creation and assignment, the lifecycle
// transitions driven by citizens and collectors, dashboard queries and live tracking.
package pickup

import (
	"context"
	"errors"
	"time"

	"sarathi/internal/changefeed"
	apperr "sarathi/internal/errors"
	"sarathi/internal/lifecycle"
	"sarathi/internal/logger"
	"sarathi/internal/matcher"
	"sarathi/internal/metrics"
	"sarathi/internal/notify"
	"sarathi/internal/orderid"
	"sarathi/internal/routing"
	"sarathi/internal/tracking"
	"sarathi/models"
	"sarathi/repository"
)

// Geocoder resolves a street address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*routing.Place, error)
}

// Deps are the collaborators of a Service. The four repositories are required;
// everything else is optional.
type Deps struct {
	Orders        repository.OrderRepositoryI
	Collectors    repository.CollectorRepositoryI
	Citizens      repository.CitizenRepositoryI
	Notifications repository.NotificationRepositoryI

	Feed     changefeed.Feed
	Geocoder Geocoder
	SMS      notify.Notifier
	Tracker  *tracking.Tracker
	Logger   *logger.Logger
	Metrics  *metrics.Pickup

	// Now and NewID default to the wall clock and orderid.New.
	Now   func() time.Time
	NewID func() (string, error)
	// Location is the time zone pickup slots are expressed in. Defaults to time.Local.
	Location *time.Location
}

// Service implements the pickup use cases.
type Service struct {
	orders        repository.OrderRepositoryI
	collectors    repository.CollectorRepositoryI
	citizens      repository.CitizenRepositoryI
	notifications repository.NotificationRepositoryI

	feed       changefeed.Feed
	geocoder   Geocoder
	tracker    *tracking.Tracker
	finder     *matcher.Finder
	dispatcher *notify.Dispatcher
	logg       *logger.Logger
	metrics    *metrics.Pickup
	now        func() time.Time
	newID      func() (string, error)
	loc        *time.Location
}

func New(d Deps) (*Service, error) {
	if d.Orders == nil || d.Collectors == nil || d.Citizens == nil || d.Notifications == nil {
		return nil, errors.New("pickup: orders, collectors, citizens and notifications repositories are required")
	}
	logg := d.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	s := &Service{
		orders:        d.Orders,
		collectors:    d.Collectors,
		citizens:      d.Citizens,
		notifications: d.Notifications,
		feed:          d.Feed,
		geocoder:      d.Geocoder,
		tracker:       d.Tracker,
		finder:        matcher.NewFinder(d.Collectors),
		dispatcher:    notify.NewDispatcher(d.Notifications, d.SMS, logg, d.Metrics),
		logg:          logg,
		metrics:       d.Metrics,
		now:           d.Now,
		newID:         d.NewID,
		loc:           d.Location,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		gen := orderid.Generator{Now: s.now}
		s.newID = gen.Next
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	return s, nil
}

// loadOrder fetches an order, mapping a missing row to NOT_FOUND.
func (s *Service) loadOrder(ctx context.Context, id string) (*models.Order, error) {
	if id == "" {
		return nil, apperr.New(apperr.CodeValidation, "order id is required")
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "load order")
	}
	if o == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "order %s not found", id)
	}
	return o, nil
}

// resolveCollector fetches the acting collector.
func (s *Service) resolveCollector(ctx context.Context, id string) (*models.Collector, error) {
	if id == "" {
		return nil, apperr.New(apperr.CodeValidation, "collector id is required")
	}
	c, err := s.collectors.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "load collector")
	}
	if c == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "collector %s not found", id)
	}
	return c, nil
}

func requireOwner(o *models.Order, citizenID string) error {
	if o.CitizenID != citizenID {
		return apperr.New(apperr.CodeForbidden, "order belongs to another citizen")
	}
	return nil
}

func requireAssigned(o *models.Order, collectorID string) error {
	if o.CollectorID() != collectorID {
		return apperr.New(apperr.CodeForbidden, "order is not assigned to this collector")
	}
	return nil
}

// transition applies in to a copy of o, persists it guarded on the current status and
// carries out the side effects. The returned order is the stored state.
func (s *Service) transition(ctx context.Context, o *models.Order, in lifecycle.Input) (*models.Order, lifecycle.Effects, error) {
	if in.At.IsZero() {
		in.At = s.now()
	}
	next := *o
	eff, err := lifecycle.Apply(&next, in)
	if err != nil {
		return nil, eff, err
	}
	if eff.Noop {
		return o, eff, nil
	}
	if err := s.orders.SaveTransition(ctx, &next, eff.From); err != nil {
		if !errors.Is(err, repository.ErrStatusChanged) {
			return nil, eff, apperr.Wrap(apperr.CodeRetrieval, err, "save order")
		}
		// Someone else moved the order first; re-evaluate against what is stored.
		cur, lerr := s.loadOrder(ctx, o.ID)
		if lerr != nil {
			return nil, eff, lerr
		}
		if target, _ := lifecycle.TargetOf(in.Event); cur.Status == target {
			return cur, lifecycle.Effects{From: cur.Status, To: target, Noop: true}, nil
		}
		return nil, eff, apperr.Newf(apperr.CodeInvalidTransition, "order %s is now %s", cur.ID, cur.Status).
			WithDetails(map[string]string{"from": string(cur.Status), "event": string(in.Event)})
	}

	ctx = s.logg.WithOrderID(ctx, next.ID)
	s.metrics.IncTransition(string(eff.To))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"from": eff.From, "to": eff.To}), "order status changed")
	s.publishOrder(ctx, &next)
	s.applyEffects(ctx, &next, eff)
	return &next, eff, nil
}

// applyEffects runs the follow-up work of a persisted transition. The order is already
// saved, so failures here are logged and do not fail the transition.
func (s *Service) applyEffects(ctx context.Context, o *models.Order, eff lifecycle.Effects) {
	if eff.ReleaseCollector {
		s.adjustCollectorLoad(ctx, o.CollectorID(), -1)
	}
	if eff.To == models.OrderStatusCompleted && o.EcoPoints > 0 {
		if err := s.citizens.AddEcoPoints(ctx, o.CitizenID, o.EcoPoints); err != nil {
			s.logg.Error(ctx, "credit eco-points", err)
		}
	}
	if eff.StopTracking && s.tracker != nil {
		s.tracker.StopOrder(o.ID)
	}
	s.dispatcher.Dispatch(ctx, o, eff.Notices)
}

func (s *Service) adjustCollectorLoad(ctx context.Context, collectorID string, delta int) {
	if collectorID == "" {
		return
	}
	ctx = s.logg.WithCollectorID(ctx, collectorID)
	if err := s.collectors.AdjustActiveRequests(ctx, collectorID, delta); err != nil {
		s.logg.Error(ctx, "adjust collector load", err)
		return
	}
	s.publishCollector(ctx, collectorID)
}

func (s *Service) publishOrder(ctx context.Context, o *models.Order) {
	if s.feed == nil {
		return
	}
	c, err := changefeed.NewChange(changefeed.CollectionOrders, o.ID, o)
	if err == nil {
		err = s.feed.Publish(ctx, c)
	}
	if err != nil {
		s.logg.WarnErr(ctx, "publish order change", err)
	}
}

func (s *Service) publishCollector(ctx context.Context, id string) {
	if s.feed == nil {
		return
	}
	col, err := s.collectors.GetByID(ctx, id)
	if err != nil || col == nil {
		s.logg.WarnErr(ctx, "reload collector for change feed", err)
		return
	}
	c, err := changefeed.NewChange(changefeed.CollectionCollectors, col.ID, col)
	if err == nil {
		err = s.feed.Publish(ctx, c)
	}
	if err != nil {
		s.logg.WarnErr(ctx, "publish collector change", err)
	}
}
