package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sarathi/models"
)

// OrderRepository is the SQLite store for Order documents.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, citizen_id, name, phone, address, map_link, lat, lng, category, weight_kg,
pickup_date, pickup_time, notes, status, eco_points, collector_id, collector_name, collector_phone,
created_at, accepted_at, collector_arrived_at, qr_verified_at, completed_at, cancelled_at`

// Create inserts a new order. Status defaults to 'pending' if empty.
// The id is generated by the caller; a duplicate id fails with the driver's constraint error.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o == nil {
		return nil, errors.New("order is nil")
	}
	if o.ID == "" {
		return nil, errors.New("order id is required")
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var collectorID, collectorName, collectorPhone any
	if o.Collector != nil {
		collectorID, collectorName, collectorPhone = o.Collector.ID, o.Collector.Name, o.Collector.Phone
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.CitizenID, o.Name, o.Phone, o.Address, o.MapLink, o.Lat, o.Lng, string(o.Category), o.WeightKg,
		o.PickupDate, o.PickupTime, o.Notes, string(o.Status), o.EcoPoints, collectorID, collectorName, collectorPhone,
		formatTime(o.CreatedAt), nullableTime(o.AcceptedAt), nullableTime(o.ArrivedAt), nullableTime(o.VerifiedAt),
		nullableTime(o.CompletedAt), nullableTime(o.CancelledAt))
	if err != nil {
		return nil, err
	}
	o2, err := r.GetByID(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if o2 == nil {
		return nil, fmt.Errorf("created order not found: id=%s", o.ID)
	}
	return o2, nil
}

// GetByID fetches an order by its ID. A missing order is (nil, nil).
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// SaveTransition writes the lifecycle-owned fields of o, guarded on the stored status still being from.
// Timestamps already set in the store are kept.
func (r *OrderRepository) SaveTransition(ctx context.Context, o *models.Order, from models.OrderStatus) error {
	if o == nil {
		return errors.New("order is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var collectorID, collectorName, collectorPhone any
	if o.Collector != nil {
		collectorID, collectorName, collectorPhone = o.Collector.ID, o.Collector.Name, o.Collector.Phone
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE orders SET
  status = ?,
  eco_points = ?,
  collector_id = ?, collector_name = ?, collector_phone = ?,
  accepted_at = COALESCE(accepted_at, ?),
  collector_arrived_at = COALESCE(collector_arrived_at, ?),
  qr_verified_at = COALESCE(qr_verified_at, ?),
  completed_at = COALESCE(completed_at, ?),
  cancelled_at = COALESCE(cancelled_at, ?)
WHERE id = ? AND status = ?`,
		string(o.Status), o.EcoPoints, collectorID, collectorName, collectorPhone,
		nullableTime(o.AcceptedAt), nullableTime(o.ArrivedAt), nullableTime(o.VerifiedAt),
		nullableTime(o.CompletedAt), nullableTime(o.CancelledAt),
		o.ID, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusChanged
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                                                   models.Order
		category, status, createdAt                         string
		collectorID, collectorName, collectorPhone          sql.NullString
		acceptedAt, arrivedAt, verifiedAt, completedAt, cxl sql.NullString
	)
	err := row.Scan(&o.ID, &o.CitizenID, &o.Name, &o.Phone, &o.Address, &o.MapLink, &o.Lat, &o.Lng, &category, &o.WeightKg,
		&o.PickupDate, &o.PickupTime, &o.Notes, &status, &o.EcoPoints, &collectorID, &collectorName, &collectorPhone,
		&createdAt, &acceptedAt, &arrivedAt, &verifiedAt, &completedAt, &cxl)
	if err != nil {
		return nil, err
	}
	o.Category = models.WasteCategory(category)
	o.Status = models.OrderStatus(status)
	if collectorID.Valid && collectorID.String != "" {
		o.Collector = &models.CollectorRef{ID: collectorID.String, Name: collectorName.String, Phone: collectorPhone.String}
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("order %s created_at: %w", o.ID, err)
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&o.AcceptedAt, acceptedAt},
		{&o.ArrivedAt, arrivedAt},
		{&o.VerifiedAt, verifiedAt},
		{&o.CompletedAt, completedAt},
		{&o.CancelledAt, cxl},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, fmt.Errorf("order %s timestamp: %w", o.ID, err)
		}
	}
	return &o, nil
}
