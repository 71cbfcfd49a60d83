package lifecycle

import (
	"fmt"
	"time"

	apperr "sarathi/internal/errors"
	"sarathi/models"
)

// Event is something that happened to an order in the field.
type Event string

const (
	EventCollectorMatched    Event = "collector_matched"
	EventCollectorArrived    Event = "collector_arrived"
	EventPayloadValidated    Event = "payload_validated"
	EventCollectionConfirmed Event = "collection_confirmed"
	EventCancelled           Event = "cancelled"
)

// Events lists every event the state machine understands.
var Events = []Event{
	EventCollectorMatched,
	EventCollectorArrived,
	EventPayloadValidated,
	EventCollectionConfirmed,
	EventCancelled,
}

// EcoPointsPerKg is the loyalty credit for each kilogram collected.
const EcoPointsPerKg = 2

type transition struct {
	from  models.OrderStatus
	event Event
	to    models.OrderStatus
}

// transitions is the complete table. Anything not listed is rejected.
var transitions = []transition{
	{models.OrderStatusPending, EventCollectorMatched, models.OrderStatusAccepted},
	{models.OrderStatusAccepted, EventCollectorArrived, models.OrderStatusCollectorArrived},
	{models.OrderStatusCollectorArrived, EventPayloadValidated, models.OrderStatusQRVerified},
	{models.OrderStatusQRVerified, EventCollectionConfirmed, models.OrderStatusCompleted},

	{models.OrderStatusPending, EventCancelled, models.OrderStatusCancelled},
	{models.OrderStatusAccepted, EventCancelled, models.OrderStatusCancelled},
	{models.OrderStatusCollectorArrived, EventCancelled, models.OrderStatusCancelled},
	{models.OrderStatusQRVerified, EventCancelled, models.OrderStatusCancelled},
}

// TargetOf returns the status an event leads to.
func TargetOf(ev Event) (models.OrderStatus, bool) {
	for _, t := range transitions {
		if t.event == ev {
			return t.to, true
		}
	}
	return "", false
}

// Next returns the status reached by applying ev in status from.
func Next(from models.OrderStatus, ev Event) (models.OrderStatus, bool) {
	for _, t := range transitions {
		if t.from == from && t.event == ev {
			return t.to, true
		}
	}
	return "", false
}

// Input carries the event and whatever the event needs.
type Input struct {
	Event     Event
	Collector *models.CollectorRef // required for EventCollectorMatched
	Payload   *Payload             // required for EventPayloadValidated
	At        time.Time
}

// Notice is a message for the order's requester.
type Notice struct {
	Title   string
	Message string
	Level   models.NotificationLevel
	// SMS is the text to send by SMS; empty means in-app only.
	SMS string
}

// Effects are the side effects the caller must carry out after persisting the order.
type Effects struct {
	From models.OrderStatus
	To   models.OrderStatus
	// Noop is set when the order was already in the target state.
	Noop    bool
	Notices []Notice
	// StopTracking asks for every tracking session on the order to end.
	StopTracking bool
	// ReleaseCollector asks for the assigned collector's active count to drop by one.
	ReleaseCollector bool
}

// Apply moves o through ev. On error o is left untouched.
func Apply(o *models.Order, in Input) (Effects, error) {
	if o == nil {
		return Effects{}, apperr.New(apperr.CodeValidation, "order is required")
	}
	target, ok := TargetOf(in.Event)
	if !ok {
		return Effects{}, apperr.Newf(apperr.CodeInvalidTransition, "unknown event %q", in.Event)
	}
	if o.Status == target {
		return Effects{From: o.Status, To: target, Noop: true}, nil
	}
	to, ok := Next(o.Status, in.Event)
	if !ok {
		return Effects{}, apperr.Newf(apperr.CodeInvalidTransition, "cannot apply %s to order in status %s", in.Event, o.Status).
			WithDetails(map[string]string{"from": string(o.Status), "event": string(in.Event)})
	}

	switch in.Event {
	case EventCollectorMatched:
		if in.Collector == nil || in.Collector.ID == "" {
			return Effects{}, apperr.New(apperr.CodeValidation, "collector reference is required")
		}
	case EventPayloadValidated:
		if in.Payload == nil || in.Payload.OrderID != o.ID {
			scanned := ""
			if in.Payload != nil {
				scanned = in.Payload.OrderID
			}
			return Effects{}, apperr.New(apperr.CodePayloadMismatch, "scanned code belongs to a different order").
				WithDetails(map[string]string{"order_id": o.ID, "scanned_order_id": scanned})
		}
	}

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	eff := Effects{From: o.Status, To: to}
	o.Status = to
	if ts := o.StatusTime(to); ts != nil && *ts == nil {
		stamped := at
		*ts = &stamped
	}

	switch to {
	case models.OrderStatusAccepted:
		ref := *in.Collector
		o.Collector = &ref
		eff.Notices = append(eff.Notices, Notice{
			Title:   "Collector Assigned!",
			Message: fmt.Sprintf("%s has accepted your request", ref.Name),
			Level:   models.NotificationSuccess,
		})
	case models.OrderStatusCollectorArrived:
		eff.Notices = append(eff.Notices, Notice{
			Title:   "Collector Arrived!",
			Message: "Your collector has arrived at your location. Please show the QR code.",
			Level:   models.NotificationSuccess,
			SMS:     fmt.Sprintf("Sarathi Alert: Collector has arrived at your location. Please show the QR code for verification. Order ID: %s", o.ID),
		})
	case models.OrderStatusQRVerified:
		eff.Notices = append(eff.Notices, Notice{
			Title:   "QR Verified!",
			Message: "Collection in progress...",
			Level:   models.NotificationInfo,
		})
	case models.OrderStatusCompleted:
		o.EcoPoints = o.WeightKg * EcoPointsPerKg
		eff.StopTracking = true
		eff.ReleaseCollector = o.Collector != nil
		eff.Notices = append(eff.Notices, Notice{
			Title:   "Collection Completed!",
			Message: "Thank you for using Sarathi!",
			Level:   models.NotificationSuccess,
			SMS:     fmt.Sprintf("Sarathi: Your waste collection is complete! Order ID: %s. Thank you for using Sarathi!", o.ID),
		})
	case models.OrderStatusCancelled:
		eff.StopTracking = true
		eff.ReleaseCollector = o.Collector != nil
		eff.Notices = append(eff.Notices, Notice{
			Title:   "Order Cancelled",
			Message: fmt.Sprintf("Pickup request %s was cancelled", o.ID),
			Level:   models.NotificationInfo,
		})
	}
	return eff, nil
}
