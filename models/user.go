package models

// Citizen is a requester of pickups. EcoPoints accumulates the points
// credited by completed orders.
type Citizen struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Phone     string `db:"phone" json:"phone"`
	EcoPoints int    `db:"eco_points" json:"eco_points"`
}
