package repository

import (
	"context"
	"errors"
	"time"

	"sarathi/internal/geo"
	"sarathi/models"
)

// ErrStatusChanged is returned by SaveTransition when the stored status no longer
// matches the status the transition was computed from.
var ErrStatusChanged = errors.New("order status changed concurrently")

// OrderRepositoryI defines operations on Order documents.
type OrderRepositoryI interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	// SaveTransition persists status, collector reference, timestamps and eco-points of o,
	// provided the stored status is still from.
	SaveTransition(ctx context.Context, o *models.Order, from models.OrderStatus) error
	ListByCitizen(ctx context.Context, citizenID string) ([]*models.Order, error)
	ListByCollector(ctx context.Context, collectorID string) ([]*models.Order, error)
	// ListPendingWithin returns up to limit unassigned orders inside area, oldest first.
	ListPendingWithin(ctx context.Context, area geo.Box, limit int) ([]*models.Order, error)
}

// CollectorRepositoryI defines operations on Collector documents.
type CollectorRepositoryI interface {
	Create(ctx context.Context, c *models.Collector) (*models.Collector, error)
	GetByID(ctx context.Context, id string) (*models.Collector, error)
	List(ctx context.Context) ([]*models.Collector, error)
	// ListAvailable returns online, approved collectors with a known position in creation order.
	ListAvailable(ctx context.Context) ([]*models.Collector, error)
	UpdateLocation(ctx context.Context, id string, lat, lng float64, at time.Time) error
	SetOnline(ctx context.Context, id string, online bool) error
	Approve(ctx context.Context, id string) error
	// ReserveRequest takes one request slot if the collector carries fewer than limit,
	// reporting whether a slot was taken.
	ReserveRequest(ctx context.Context, id string, limit int) (bool, error)
	// AdjustActiveRequests adds delta to the active request count, never going below zero.
	AdjustActiveRequests(ctx context.Context, id string, delta int) error
}

// CitizenRepositoryI defines operations on Citizen documents.
type CitizenRepositoryI interface {
	// Ensure creates the citizen or refreshes its contact details.
	Ensure(ctx context.Context, c *models.Citizen) error
	GetByID(ctx context.Context, id string) (*models.Citizen, error)
	AddEcoPoints(ctx context.Context, id string, points int) error
}

// NotificationRepositoryI defines operations on in-app notifications.
type NotificationRepositoryI interface {
	Create(ctx context.Context, n *models.Notification) (*models.Notification, error)
	ListByCitizen(ctx context.Context, citizenID string, limit int) ([]*models.Notification, error)
}

var (
	_ OrderRepositoryI        = (*OrderRepository)(nil)
	_ CollectorRepositoryI    = (*CollectorRepository)(nil)
	_ CitizenRepositoryI      = (*CitizenRepository)(nil)
	_ NotificationRepositoryI = (*NotificationRepository)(nil)
)
