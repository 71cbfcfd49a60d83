package lifecycle

import (
	"encoding/json"
	"strings"

	apperr "sarathi/internal/errors"
	"sarathi/models"
)

// Payload is the content of the QR code a citizen shows at pickup.
type Payload struct {
	OrderID    string `json:"orderId"`
	CitizenID  string `json:"citizenId,omitempty"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	Location   string `json:"location,omitempty"`
	Category   string `json:"garbageType,omitempty"`
	WeightKg   int    `json:"weight,omitempty"`
	PickupDate string `json:"pickupDate,omitempty"`
	PickupTime string `json:"pickupTime,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// EncodePayload renders the QR text for o.
func EncodePayload(o *models.Order) (string, error) {
	if o == nil {
		return "", apperr.New(apperr.CodeValidation, "order is required")
	}
	b, err := json.Marshal(Payload{
		OrderID:    o.ID,
		CitizenID:  o.CitizenID,
		Name:       o.Name,
		Phone:      o.Phone,
		Address:    o.Address,
		Location:   o.MapLink,
		Category:   string(o.Category),
		WeightKg:   o.WeightKg,
		PickupDate: o.PickupDate,
		PickupTime: o.PickupTime,
		Notes:      o.Notes,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodePayload parses scanned QR text. Text that is not a payload, or one without an
// order id, is a PAYLOAD_MISMATCH.
func DecodePayload(text string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return nil, apperr.Wrap(apperr.CodePayloadMismatch, err, "scanned code is not a valid order code")
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return nil, apperr.New(apperr.CodePayloadMismatch, "scanned code has no order id")
	}
	return &p, nil
}
