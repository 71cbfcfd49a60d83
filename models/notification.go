package models

import "time"

// NotificationLevel mirrors the severity shown on the citizen dashboard.
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification is an in-app message delivered to a citizen about one of their orders.
type Notification struct {
	ID        int64             `db:"id" json:"id"`
	CitizenID string            `db:"citizen_id" json:"citizen_id"`
	OrderID   string            `db:"order_id" json:"order_id"`
	Title     string            `db:"title" json:"title"`
	Message   string            `db:"message" json:"message"`
	Level     NotificationLevel `db:"level" json:"level"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}
