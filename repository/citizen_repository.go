package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sarathi/models"
)

type CitizenRepository struct {
	db *sql.DB
}

func NewCitizenRepository(db *sql.DB) *CitizenRepository {
	return &CitizenRepository{db: db}
}

// Ensure inserts the citizen or, if it exists, refreshes non-empty contact details.
// The eco-points balance is never touched here.
func (r *CitizenRepository) Ensure(ctx context.Context, c *models.Citizen) error {
	if c == nil || c.ID == "" {
		return errors.New("citizen id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO citizens (id, name, phone) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE citizens.name END,
  phone = CASE WHEN excluded.phone <> '' THEN excluded.phone ELSE citizens.phone END`,
		c.ID, c.Name, c.Phone)
	return err
}

func (r *CitizenRepository) GetByID(ctx context.Context, id string) (*models.Citizen, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c models.Citizen
	err := r.db.QueryRowContext(ctx, `SELECT id, name, phone, eco_points FROM citizens WHERE id = ?`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.EcoPoints)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// AddEcoPoints credits points to the citizen, creating the record if needed.
func (r *CitizenRepository) AddEcoPoints(ctx context.Context, id string, points int) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO citizens (id, eco_points) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET eco_points = citizens.eco_points + excluded.eco_points`, id, points)
	return err
}
