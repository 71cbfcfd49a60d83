package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sarathi/models"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	if n == nil {
		return nil, errors.New("notification is nil")
	}
	if n.Level == "" {
		n.Level = models.NotificationInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `INSERT INTO notifications (citizen_id, order_id, title, message, level, created_at) VALUES (?,?,?,?,?,?)`,
		n.CitizenID, n.OrderID, n.Title, n.Message, string(n.Level), formatTime(n.CreatedAt))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	n.ID = id
	return n, nil
}

// ListByCitizen returns the newest notifications of a citizen first.
func (r *NotificationRepository) ListByCitizen(ctx context.Context, citizenID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, citizen_id, order_id, title, message, level, created_at FROM notifications WHERE citizen_id = ? ORDER BY id DESC LIMIT ?`, citizenID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Notification
	for rows.Next() {
		var (
			n         models.Notification
			level     string
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.CitizenID, &n.OrderID, &n.Title, &n.Message, &level, &createdAt); err != nil {
			return nil, err
		}
		n.Level = models.NotificationLevel(level)
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
