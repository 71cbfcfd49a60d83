package repository

import (
	"context"
	"database/sql"
	"time"

	"sarathi/internal/geo"
	"sarathi/models"
)

// ListByCitizen returns all orders of a citizen, newest first.
func (r *OrderRepository) ListByCitizen(ctx context.Context, citizenID string) ([]*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE citizen_id = ? ORDER BY created_at DESC, id DESC`, citizenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListByCollector returns all orders assigned to a collector, newest first.
func (r *OrderRepository) ListByCollector(ctx context.Context, collectorID string) ([]*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE collector_id = ? ORDER BY created_at DESC, id DESC`, collectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListPendingWithin returns unassigned orders inside area, oldest first.
func (r *OrderRepository) ListPendingWithin(ctx context.Context, area geo.Box, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
WHERE status = ? AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
ORDER BY created_at ASC, id ASC LIMIT ?`,
		string(models.OrderStatusPending), area.MinLat, area.MaxLat, area.MinLng, area.MaxLng, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

func scanOrderRows(rows *sql.Rows) ([]*models.Order, error) {
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
