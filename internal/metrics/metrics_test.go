package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPickupMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPickup(reg)
	m.IncOrderCreated()
	m.IncAssignment("assigned")
	m.IncAssignment("")
	m.IncTransition("completed")
	m.IncNotification("sms", false)
	m.ObserveRoute(120*time.Millisecond, true)
	m.SessionStarted()
	m.SessionStarted()
	m.SessionStopped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := value(t, mfs, "sarathi_orders_created_total", nil); got != 1 {
		t.Fatalf("orders created = %f", got)
	}
	if got := value(t, mfs, "sarathi_assignments_total", map[string]string{"outcome": "unknown"}); got != 1 {
		t.Fatalf("empty outcome should be normalized, got %f", got)
	}
	if got := value(t, mfs, "sarathi_notifications_total", map[string]string{"channel": "sms", "result": "failed"}); got != 1 {
		t.Fatalf("sms failures = %f", got)
	}
	if got := value(t, mfs, "sarathi_tracking_sessions", nil); got != 1 {
		t.Fatalf("active sessions = %f", got)
	}
}

func TestPickupMetricsNilSafe(t *testing.T) {
	var m *Pickup
	m.IncOrderCreated()
	m.IncTransition("accepted")
	m.SessionStarted()
	NewPickup(nil).IncNotification("in_app", true)
}

func value(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !matches(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
		t.Fatalf("%s: no series matching %v", name, labels)
	}
	t.Fatalf("%s", fmt.Sprintf("metric %q not found", name))
	return 0
}

func matches(pairs []*dto.LabelPair, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, p := range pairs {
			if p.GetName() == k && p.GetValue() == v {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}
