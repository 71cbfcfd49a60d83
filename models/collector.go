package models

import "time"

// Collector represents a field agent who can be matched to pickup orders.
// CurrentLat/CurrentLng are nil until the collector's client reports a position.
type Collector struct {
	ID             string     `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Phone          string     `db:"phone" json:"phone"`
	Online         bool       `db:"online" json:"online"`
	Approved       bool       `db:"approved" json:"approved"`
	CurrentLat     *float64   `db:"current_lat" json:"current_lat,omitempty"`
	CurrentLng     *float64   `db:"current_lng" json:"current_lng,omitempty"`
	LocationAt     *time.Time `db:"location_updated_at" json:"location_updated_at,omitempty"`
	ActiveRequests int        `db:"active_requests" json:"active_requests"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// HasLocation reports whether a current position is known.
func (c *Collector) HasLocation() bool {
	return c != nil && c.CurrentLat != nil && c.CurrentLng != nil
}

// Ref returns the reference stored on orders assigned to c.
func (c *Collector) Ref() *CollectorRef {
	return &CollectorRef{ID: c.ID, Name: c.Name, Phone: c.Phone}
}
