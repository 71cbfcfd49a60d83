package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sarathi/internal/geo"
	"sarathi/internal/testutil"
	"sarathi/models"
)

func seedOrder(id, citizenID string, created time.Time) *models.Order {
	return &models.Order{
		ID:         id,
		CitizenID:  citizenID,
		Name:       "Asha",
		Phone:      "+919800000000",
		Address:    "12 MG Road",
		Lat:        12.9716,
		Lng:        77.5946,
		Category:   models.WasteDry,
		WeightKg:   12,
		PickupDate: "2026-03-02",
		PickupTime: "10:00",
		CreatedAt:  created,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_order_create")
	orders := NewOrderRepository(d)
	ctx := context.Background()

	created, err := orders.Create(ctx, seedOrder("SAR-20260301-AAAAAA", "cit-1", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != models.OrderStatusPending {
		t.Fatalf("default status = %s", created.Status)
	}
	if created.Collector != nil || created.AcceptedAt != nil {
		t.Fatalf("new order should be unassigned: %+v", created)
	}
	if created.Category != models.WasteDry || created.WeightKg != 12 {
		t.Fatalf("fields not round-tripped: %+v", created)
	}

	missing, err := orders.GetByID(ctx, "SAR-20260301-ZZZZZZ")
	if err != nil || missing != nil {
		t.Fatalf("missing order = %v, %v; want nil, nil", missing, err)
	}

	if _, err := orders.Create(ctx, seedOrder("SAR-20260301-AAAAAA", "cit-2", time.Now())); err == nil {
		t.Fatalf("duplicate id should fail")
	}
}

func TestOrderRepository_SaveTransitionGuardsStatus(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_order_transition")
	orders := NewOrderRepository(d)
	collectors := NewCollectorRepository(d)
	ctx := context.Background()

	c, err := collectors.Create(ctx, &models.Collector{Name: "Ravi", Phone: "+918000000000"})
	if err != nil {
		t.Fatalf("create collector: %v", err)
	}
	o, err := orders.Create(ctx, seedOrder("SAR-20260301-BBBBBB", "cit-1", time.Now()))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o.Status = models.OrderStatusAccepted
	o.Collector = c.Ref()
	o.AcceptedAt = &at
	if err := orders.SaveTransition(ctx, o, models.OrderStatusPending); err != nil {
		t.Fatalf("save transition: %v", err)
	}
	got, _ := orders.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusAccepted || got.Collector == nil || got.Collector.ID != c.ID || !got.AcceptedAt.Equal(at) {
		t.Fatalf("transition not persisted: %+v", got)
	}

	// Stale writer still believes the order is pending.
	if err := orders.SaveTransition(ctx, o, models.OrderStatusPending); !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("expected ErrStatusChanged, got %v", err)
	}

	// Existing timestamps are never overwritten.
	later := at.Add(time.Hour)
	o.AcceptedAt = &later
	o.Status = models.OrderStatusCollectorArrived
	o.ArrivedAt = &later
	if err := orders.SaveTransition(ctx, o, models.OrderStatusAccepted); err != nil {
		t.Fatalf("save arrival: %v", err)
	}
	got, _ = orders.GetByID(ctx, o.ID)
	if !got.AcceptedAt.Equal(at) {
		t.Fatalf("accepted_at overwritten: %v", got.AcceptedAt)
	}
}

func TestOrderRepository_Lists(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_order_lists")
	orders := NewOrderRepository(d)
	collectors := NewCollectorRepository(d)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"SAR-20260301-000001", "SAR-20260301-000002", "SAR-20260301-000003"} {
		if _, err := orders.Create(ctx, seedOrder(id, "cit-1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := orders.Create(ctx, seedOrder("SAR-20260301-000004", "cit-2", base)); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := orders.ListByCitizen(ctx, "cit-1")
	if err != nil {
		t.Fatalf("list by citizen: %v", err)
	}
	if len(list) != 3 || list[0].ID != "SAR-20260301-000003" {
		t.Fatalf("expected newest first, got %d orders starting %v", len(list), list[0].ID)
	}

	c, _ := collectors.Create(ctx, &models.Collector{Name: "Ravi"})
	o, _ := orders.GetByID(ctx, "SAR-20260301-000001")
	o.Status = models.OrderStatusAccepted
	o.Collector = c.Ref()
	if err := orders.SaveTransition(ctx, o, models.OrderStatusPending); err != nil {
		t.Fatalf("assign: %v", err)
	}

	assigned, err := orders.ListByCollector(ctx, c.ID)
	if err != nil || len(assigned) != 1 {
		t.Fatalf("list by collector = %v, %v", assigned, err)
	}
	// An older backlog elsewhere must not crowd out nearby requests.
	for i := 0; i < 5; i++ {
		far := seedOrder(fmt.Sprintf("SAR-20260301-F0000%d", i), "cit-3", base.Add(-time.Hour))
		far.Lat, far.Lng = 28.6139, 77.2090
		if _, err := orders.Create(ctx, far); err != nil {
			t.Fatalf("create far order: %v", err)
		}
	}
	area := geo.BoundingBox(geo.Point{Lat: 12.9716, Lng: 77.5946}, geo.ServiceRadiusKm)
	pending, err := orders.ListPendingWithin(ctx, area, 3)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != "SAR-20260301-000004" {
		t.Fatalf("expected 3 nearby pending oldest first, got %d", len(pending))
	}
	for _, o := range pending {
		if o.CitizenID == "cit-3" {
			t.Fatalf("far order %s returned", o.ID)
		}
	}
}
