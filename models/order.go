package models

import "time"

// OrderStatus represents the current progress of a pickup order.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusAccepted         OrderStatus = "accepted"
	OrderStatusCollectorArrived OrderStatus = "collector_arrived"
	OrderStatusQRVerified       OrderStatus = "qr_verified"
	OrderStatusCompleted        OrderStatus = "completed"
	OrderStatusCancelled        OrderStatus = "cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAccepted,
	OrderStatusCollectorArrived,
	OrderStatusQRVerified,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	for _, v := range OrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// WasteCategory is the kind of waste handed over at pickup.
type WasteCategory string

const (
	WasteWet       WasteCategory = "wet"
	WasteDry       WasteCategory = "dry"
	WasteEWaste    WasteCategory = "e-waste"
	WasteHazardous WasteCategory = "hazardous"
	WasteMixed     WasteCategory = "mixed"
)

var wasteLabels = map[WasteCategory]string{
	WasteWet:       "Wet Waste",
	WasteDry:       "Dry Waste",
	WasteEWaste:    "E-Waste",
	WasteHazardous: "Hazardous",
	WasteMixed:     "Mixed Waste",
}

// Valid reports whether c is one of the known categories.
func (c WasteCategory) Valid() bool {
	_, ok := wasteLabels[c]
	return ok
}

// Label returns the display name of the category.
func (c WasteCategory) Label() string {
	if l, ok := wasteLabels[c]; ok {
		return l
	}
	return string(c)
}

// CollectorRef is the collector reference recorded on an order once it is accepted.
type CollectorRef struct {
	ID    string `db:"collector_id" json:"id"`
	Name  string `db:"collector_name" json:"name"`
	Phone string `db:"collector_phone" json:"phone"`
}

// Order represents one pickup request from creation to completion or cancellation.
// Each status timestamp is set once, when the order enters that status.
type Order struct {
	ID          string        `db:"id" json:"id"`
	CitizenID   string        `db:"citizen_id" json:"citizen_id"`
	Name        string        `db:"name" json:"name"`
	Phone       string        `db:"phone" json:"phone"`
	Address     string        `db:"address" json:"address"`
	MapLink     string        `db:"map_link" json:"map_link,omitempty"`
	Lat         float64       `db:"lat" json:"lat"`
	Lng         float64       `db:"lng" json:"lng"`
	Category    WasteCategory `db:"category" json:"category"`
	WeightKg    int           `db:"weight_kg" json:"weight_kg"`
	PickupDate  string        `db:"pickup_date" json:"pickup_date"`
	PickupTime  string        `db:"pickup_time" json:"pickup_time"`
	Notes       string        `db:"notes" json:"notes,omitempty"`
	Status      OrderStatus   `db:"status" json:"status"`
	EcoPoints   int           `db:"eco_points" json:"eco_points"`
	Collector   *CollectorRef `json:"collector,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	AcceptedAt  *time.Time    `db:"accepted_at" json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time    `db:"collector_arrived_at" json:"collector_arrived_at,omitempty"`
	VerifiedAt  *time.Time    `db:"qr_verified_at" json:"qr_verified_at,omitempty"`
	CompletedAt *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// CollectorID returns the assigned collector id, or "" while unassigned.
func (o *Order) CollectorID() string {
	if o == nil || o.Collector == nil {
		return ""
	}
	return o.Collector.ID
}

// StatusTime returns the timestamp field recorded for status s.
func (o *Order) StatusTime(s OrderStatus) **time.Time {
	switch s {
	case OrderStatusAccepted:
		return &o.AcceptedAt
	case OrderStatusCollectorArrived:
		return &o.ArrivedAt
	case OrderStatusQRVerified:
		return &o.VerifiedAt
	case OrderStatusCompleted:
		return &o.CompletedAt
	case OrderStatusCancelled:
		return &o.CancelledAt
	default:
		return nil
	}
}
