package notify

import (
	"context"
	"time"

	"sarathi/internal/lifecycle"
	"sarathi/internal/logger"
	"sarathi/internal/metrics"
	"sarathi/models"
)

// NotificationStore persists in-app notices.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) (*models.Notification, error)
}

// Dispatcher delivers the notices produced by an order transition: every notice is stored
// for the requester's dashboard, and notices carrying SMS text are also sent by SMS.
// Delivery failures are logged and counted and never returned.
type Dispatcher struct {
	store   NotificationStore
	sms     Notifier
	logg    *logger.Logger
	metrics *metrics.Pickup
	now     func() time.Time
}

func NewDispatcher(store NotificationStore, sms Notifier, logg *logger.Logger, m *metrics.Pickup) *Dispatcher {
	if logg == nil {
		logg = logger.Nop()
	}
	if sms == nil {
		sms = LogNotifier{Logg: logg}
	}
	return &Dispatcher{store: store, sms: sms, logg: logg, metrics: m, now: time.Now}
}

// Dispatch delivers notices about o.
func (d *Dispatcher) Dispatch(ctx context.Context, o *models.Order, notices []lifecycle.Notice) {
	if d == nil || o == nil {
		return
	}
	ctx = d.logg.WithOrderID(ctx, o.ID)
	for _, n := range notices {
		if d.store != nil {
			_, err := d.store.Create(ctx, &models.Notification{
				CitizenID: o.CitizenID,
				OrderID:   o.ID,
				Title:     n.Title,
				Message:   n.Message,
				Level:     n.Level,
				CreatedAt: d.now().UTC(),
			})
			d.metrics.IncNotification("in_app", err == nil)
			if err != nil {
				d.logg.WarnErr(ctx, "store notification", err)
			}
		}
		if n.SMS == "" {
			continue
		}
		err := d.sms.Notify(ctx, o.Phone, n.SMS)
		d.metrics.IncNotification("sms", err == nil)
		if err != nil {
			d.logg.WarnErr(ctx, "send sms", err)
		}
	}
}
