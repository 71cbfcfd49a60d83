package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pickup records order flow, notification and tracking activity.
type Pickup struct {
	ordersCreated  prometheus.Counter
	assignments    *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	routeDuration  *prometheus.HistogramVec
	activeSessions prometheus.Gauge
}

// NewPickup registers the pickup metrics on reg. A nil reg yields a no-op recorder.
func NewPickup(reg prometheus.Registerer) *Pickup {
	if reg == nil {
		return &Pickup{}
	}
	p := &Pickup{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sarathi_orders_created_total",
			Help: "Pickup orders created.",
		}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarathi_assignments_total",
			Help: "Automatic assignment attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarathi_order_transitions_total",
			Help: "Applied order status transitions by target status.",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarathi_notifications_total",
			Help: "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		routeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sarathi_route_duration_seconds",
			Help:    "Routing collaborator latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sarathi_tracking_sessions",
			Help: "Tracking sessions currently running.",
		}),
	}
	reg.MustRegister(p.ordersCreated, p.assignments, p.transitions, p.notifications, p.routeDuration, p.activeSessions)
	return p
}

// IncOrderCreated counts a persisted order.
func (p *Pickup) IncOrderCreated() {
	if p == nil || p.ordersCreated == nil {
		return
	}
	p.ordersCreated.Inc()
}

// IncAssignment counts an assignment attempt: "assigned", "unavailable" or "error".
func (p *Pickup) IncAssignment(outcome string) {
	if p == nil || p.assignments == nil {
		return
	}
	p.assignments.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncTransition counts an order entering status.
func (p *Pickup) IncTransition(status string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncNotification counts one delivery attempt on channel ("in_app", "sms").
func (p *Pickup) IncNotification(channel string, ok bool) {
	if p == nil || p.notifications == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	p.notifications.WithLabelValues(normalizeLabel(channel), result).Inc()
}

// ObserveRoute records one routing call.
func (p *Pickup) ObserveRoute(d time.Duration, ok bool) {
	if p == nil || p.routeDuration == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "unavailable"
	}
	p.routeDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SessionStarted and SessionStopped track the live session gauge.
func (p *Pickup) SessionStarted() {
	if p == nil || p.activeSessions == nil {
		return
	}
	p.activeSessions.Inc()
}

func (p *Pickup) SessionStopped() {
	if p == nil || p.activeSessions == nil {
		return
	}
	p.activeSessions.Dec()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
