package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sarathi/models"
)

type CollectorRepository struct {
	db *sql.DB
}

func NewCollectorRepository(db *sql.DB) *CollectorRepository {
	return &CollectorRepository{db: db}
}

const collectorColumns = `id, name, phone, online, approved, current_lat, current_lng, location_updated_at, active_requests, created_at`

// Create inserts a new collector. A random id is assigned when none is given.
// New collectors start offline and unapproved unless set otherwise.
func (r *CollectorRepository) Create(ctx context.Context, c *models.Collector) (*models.Collector, error) {
	if c == nil {
		return nil, errors.New("collector is nil")
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, errors.New("collector name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO collectors (`+collectorColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Phone, c.Online, c.Approved, c.CurrentLat, c.CurrentLng, nullableTime(c.LocationAt),
		c.ActiveRequests, formatTime(c.CreatedAt))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CollectorRepository) GetByID(ctx context.Context, id string) (*models.Collector, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	c, err := scanCollector(r.db.QueryRowContext(ctx, `SELECT `+collectorColumns+` FROM collectors WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *CollectorRepository) List(ctx context.Context) ([]*models.Collector, error) {
	return r.query(ctx, `SELECT `+collectorColumns+` FROM collectors ORDER BY created_at, id`)
}

func (r *CollectorRepository) ListAvailable(ctx context.Context) ([]*models.Collector, error) {
	return r.query(ctx, `SELECT `+collectorColumns+` FROM collectors
WHERE online = 1 AND approved = 1 AND current_lat IS NOT NULL AND current_lng IS NOT NULL
ORDER BY created_at, id`)
}

func (r *CollectorRepository) query(ctx context.Context, q string, args ...any) ([]*models.Collector, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Collector
	for rows.Next() {
		c, err := scanCollector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CollectorRepository) UpdateLocation(ctx context.Context, id string, lat, lng float64, at time.Time) error {
	return r.exec(ctx, `UPDATE collectors SET current_lat = ?, current_lng = ?, location_updated_at = ? WHERE id = ?`, lat, lng, formatTime(at), id)
}

func (r *CollectorRepository) SetOnline(ctx context.Context, id string, online bool) error {
	return r.exec(ctx, `UPDATE collectors SET online = ? WHERE id = ?`, online, id)
}

func (r *CollectorRepository) Approve(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE collectors SET approved = 1 WHERE id = ?`, id)
}

func (r *CollectorRepository) AdjustActiveRequests(ctx context.Context, id string, delta int) error {
	return r.exec(ctx, `UPDATE collectors SET active_requests = MAX(active_requests + ?, 0) WHERE id = ?`, delta, id)
}

func (r *CollectorRepository) ReserveRequest(ctx context.Context, id string, limit int) (bool, error) {
	err := r.exec(ctx, `UPDATE collectors SET active_requests = active_requests + 1 WHERE id = ? AND active_requests < ?`, id, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// exec runs a single-row update and reports sql.ErrNoRows when the collector does not exist.
func (r *CollectorRepository) exec(ctx context.Context, q string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanCollector(row rowScanner) (*models.Collector, error) {
	var (
		c          models.Collector
		lat, lng   sql.NullFloat64
		locationAt sql.NullString
		createdAt  string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Online, &c.Approved, &lat, &lng, &locationAt, &c.ActiveRequests, &createdAt); err != nil {
		return nil, err
	}
	if lat.Valid {
		v := lat.Float64
		c.CurrentLat = &v
	}
	if lng.Valid {
		v := lng.Float64
		c.CurrentLng = &v
	}
	var err error
	if c.LocationAt, err = parseNullTime(locationAt); err != nil {
		return nil, fmt.Errorf("collector %s location time: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("collector %s created_at: %w", c.ID, err)
	}
	return &c, nil
}
