package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sarathi/internal/geo"
	"sarathi/models"
	"sarathi/repository"
)

var (
	_ repository.OrderRepositoryI        = (*Orders)(nil)
	_ repository.CollectorRepositoryI    = (*Collectors)(nil)
	_ repository.CitizenRepositoryI      = (*Citizens)(nil)
	_ repository.NotificationRepositoryI = (*Notifications)(nil)
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func keepTime(stored, next *time.Time) *time.Time {
	if stored != nil {
		return stored
	}
	return cloneTime(next)
}

// Orders implements the order repository over the local file.
type Orders struct{ s *Store }

func (s *Store) Orders() *Orders { return &Orders{s: s} }

func (r *Orders) Create(_ context.Context, o *models.Order) (*models.Order, error) {
	if o == nil || o.ID == "" {
		return nil, errors.New("order id is required")
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	err := r.s.update(func(d *document) error {
		if _, exists := d.Orders[o.ID]; exists {
			return fmt.Errorf("order %s already exists", o.ID)
		}
		d.Orders[o.ID] = cloneOrder(o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneOrder(o), nil
}

func (r *Orders) GetByID(_ context.Context, id string) (*models.Order, error) {
	var out *models.Order
	r.s.view(func(d *document) { out = cloneOrder(d.Orders[id]) })
	return out, nil
}

func (r *Orders) SaveTransition(_ context.Context, o *models.Order, from models.OrderStatus) error {
	if o == nil {
		return errors.New("order is nil")
	}
	return r.s.update(func(d *document) error {
		cur, ok := d.Orders[o.ID]
		if !ok || cur.Status != from {
			return repository.ErrStatusChanged
		}
		next := cloneOrder(cur)
		next.Status = o.Status
		next.EcoPoints = o.EcoPoints
		next.Collector = nil
		if o.Collector != nil {
			ref := *o.Collector
			next.Collector = &ref
		}
		next.AcceptedAt = keepTime(cur.AcceptedAt, o.AcceptedAt)
		next.ArrivedAt = keepTime(cur.ArrivedAt, o.ArrivedAt)
		next.VerifiedAt = keepTime(cur.VerifiedAt, o.VerifiedAt)
		next.CompletedAt = keepTime(cur.CompletedAt, o.CompletedAt)
		next.CancelledAt = keepTime(cur.CancelledAt, o.CancelledAt)
		d.Orders[o.ID] = next
		return nil
	})
}

func (r *Orders) list(match func(*models.Order) bool, newestFirst bool) []*models.Order {
	var out []*models.Order
	r.s.view(func(d *document) {
		for _, o := range d.Orders {
			if match(o) {
				out = append(out, cloneOrder(o))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return out
}

func (r *Orders) ListByCitizen(_ context.Context, citizenID string) ([]*models.Order, error) {
	return r.list(func(o *models.Order) bool { return o.CitizenID == citizenID }, true), nil
}

func (r *Orders) ListByCollector(_ context.Context, collectorID string) ([]*models.Order, error) {
	return r.list(func(o *models.Order) bool { return o.CollectorID() == collectorID }, true), nil
}

func (r *Orders) ListPendingWithin(_ context.Context, area geo.Box, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	out := r.list(func(o *models.Order) bool {
		return o.Status == models.OrderStatusPending && area.Contains(geo.Point{Lat: o.Lat, Lng: o.Lng})
	}, false)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Collectors implements the collector repository over the local file.
type Collectors struct{ s *Store }

func (s *Store) Collectors() *Collectors { return &Collectors{s: s} }

func (r *Collectors) Create(_ context.Context, c *models.Collector) (*models.Collector, error) {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return nil, errors.New("collector name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := r.s.update(func(d *document) error {
		if _, exists := d.Collectors[c.ID]; exists {
			return fmt.Errorf("collector %s already exists", c.ID)
		}
		d.Collectors[c.ID] = cloneCollector(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Collectors) GetByID(_ context.Context, id string) (*models.Collector, error) {
	var out *models.Collector
	r.s.view(func(d *document) { out = cloneCollector(d.Collectors[id]) })
	return out, nil
}

func (r *Collectors) list(match func(*models.Collector) bool) []*models.Collector {
	var out []*models.Collector
	r.s.view(func(d *document) {
		for _, c := range d.Collectors {
			if match(c) {
				out = append(out, cloneCollector(c))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Collectors) List(context.Context) ([]*models.Collector, error) {
	return r.list(func(*models.Collector) bool { return true }), nil
}

func (r *Collectors) ListAvailable(context.Context) ([]*models.Collector, error) {
	return r.list(func(c *models.Collector) bool { return c.Online && c.Approved && c.HasLocation() }), nil
}

func (r *Collectors) mutate(id string, fn func(c *models.Collector)) error {
	return r.s.update(func(d *document) error {
		c, ok := d.Collectors[id]
		if !ok {
			return sql.ErrNoRows
		}
		fn(c)
		return nil
	})
}

func (r *Collectors) UpdateLocation(_ context.Context, id string, lat, lng float64, at time.Time) error {
	return r.mutate(id, func(c *models.Collector) {
		at := at.UTC()
		c.CurrentLat, c.CurrentLng, c.LocationAt = &lat, &lng, &at
	})
}

func (r *Collectors) SetOnline(_ context.Context, id string, online bool) error {
	return r.mutate(id, func(c *models.Collector) { c.Online = online })
}

func (r *Collectors) Approve(_ context.Context, id string) error {
	return r.mutate(id, func(c *models.Collector) { c.Approved = true })
}

func (r *Collectors) AdjustActiveRequests(_ context.Context, id string, delta int) error {
	return r.mutate(id, func(c *models.Collector) {
		c.ActiveRequests += delta
		if c.ActiveRequests < 0 {
			c.ActiveRequests = 0
		}
	})
}

func (r *Collectors) ReserveRequest(_ context.Context, id string, limit int) (bool, error) {
	reserved := false
	err := r.s.update(func(d *document) error {
		c, ok := d.Collectors[id]
		if !ok {
			return sql.ErrNoRows
		}
		if c.ActiveRequests < limit {
			c.ActiveRequests++
			reserved = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

// Citizens implements the citizen repository over the local file.
type Citizens struct{ s *Store }

func (s *Store) Citizens() *Citizens { return &Citizens{s: s} }

func (r *Citizens) Ensure(_ context.Context, c *models.Citizen) error {
	if c == nil || c.ID == "" {
		return errors.New("citizen id is required")
	}
	return r.s.update(func(d *document) error {
		cur, ok := d.Citizens[c.ID]
		if !ok {
			d.Citizens[c.ID] = &models.Citizen{ID: c.ID, Name: c.Name, Phone: c.Phone}
			return nil
		}
		if c.Name != "" {
			cur.Name = c.Name
		}
		if c.Phone != "" {
			cur.Phone = c.Phone
		}
		return nil
	})
}

func (r *Citizens) GetByID(_ context.Context, id string) (*models.Citizen, error) {
	var out *models.Citizen
	r.s.view(func(d *document) {
		if c, ok := d.Citizens[id]; ok {
			v := *c
			out = &v
		}
	})
	return out, nil
}

func (r *Citizens) AddEcoPoints(_ context.Context, id string, points int) error {
	return r.s.update(func(d *document) error {
		c, ok := d.Citizens[id]
		if !ok {
			c = &models.Citizen{ID: id}
			d.Citizens[id] = c
		}
		c.EcoPoints += points
		return nil
	})
}

// Notifications implements the notification repository over the local file.
type Notifications struct{ s *Store }

func (s *Store) Notifications() *Notifications { return &Notifications{s: s} }

func (r *Notifications) Create(_ context.Context, n *models.Notification) (*models.Notification, error) {
	if n == nil {
		return nil, errors.New("notification is nil")
	}
	if n.Level == "" {
		n.Level = models.NotificationInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	err := r.s.update(func(d *document) error {
		d.NextNoticeID++
		n.ID = d.NextNoticeID
		v := *n
		d.Notifications = append(d.Notifications, &v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *Notifications) ListByCitizen(_ context.Context, citizenID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.Notification
	r.s.view(func(d *document) {
		for i := len(d.Notifications) - 1; i >= 0 && len(out) < limit; i-- {
			if n := d.Notifications[i]; n.CitizenID == citizenID {
				v := *n
				out = append(out, &v)
			}
		}
	})
	return out, nil
}
