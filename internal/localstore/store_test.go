package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sarathi/internal/geo"
	"sarathi/models"
	"sarathi/repository"
)

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c, err := s.Collectors().Create(ctx, &models.Collector{Name: "Ravi", Online: true, Approved: true})
	if err != nil {
		t.Fatalf("create collector: %v", err)
	}
	if err := s.Collectors().UpdateLocation(ctx, c.ID, 12.97, 77.59, time.Now()); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if _, err := s.Orders().Create(ctx, &models.Order{ID: "SAR-20260301-AAAAAA", CitizenID: "cit-1", WeightKg: 3}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	o, _ := reopened.Orders().GetByID(ctx, "SAR-20260301-AAAAAA")
	if o == nil || o.Status != models.OrderStatusPending || o.WeightKg != 3 {
		t.Fatalf("order not persisted: %+v", o)
	}
	avail, _ := reopened.Collectors().ListAvailable(ctx)
	if len(avail) != 1 || *avail[0].CurrentLat != 12.97 {
		t.Fatalf("collector not persisted: %+v", avail)
	}
}

func TestOrders_SaveTransitionGuardsStatus(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "local.json"))
	ctx := context.Background()
	orders := s.Orders()
	o, _ := orders.Create(ctx, &models.Order{ID: "SAR-20260301-BBBBBB", CitizenID: "cit-1"})

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o.Status = models.OrderStatusAccepted
	o.Collector = &models.CollectorRef{ID: "c1", Name: "Ravi"}
	o.AcceptedAt = &at
	if err := orders.SaveTransition(ctx, o, models.OrderStatusPending); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := orders.SaveTransition(ctx, o, models.OrderStatusPending); !errors.Is(err, repository.ErrStatusChanged) {
		t.Fatalf("expected ErrStatusChanged, got %v", err)
	}

	// Mutating the returned copy must not leak into the store.
	got, _ := orders.GetByID(ctx, o.ID)
	got.Collector.Name = "changed"
	again, _ := orders.GetByID(ctx, o.ID)
	if again.Collector.Name != "Ravi" {
		t.Fatalf("store returned shared state")
	}
	byCollector, _ := orders.ListByCollector(ctx, "c1")
	if len(byCollector) != 1 {
		t.Fatalf("expected one order for collector, got %d", len(byCollector))
	}
}

func TestCitizensAndNotifications(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "local.json"))
	ctx := context.Background()
	if err := s.Citizens().AddEcoPoints(ctx, "cit-1", 10); err != nil {
		t.Fatalf("add points: %v", err)
	}
	if err := s.Citizens().Ensure(ctx, &models.Citizen{ID: "cit-1", Name: "Asha"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	c, _ := s.Citizens().GetByID(ctx, "cit-1")
	if c.Name != "Asha" || c.EcoPoints != 10 {
		t.Fatalf("unexpected citizen %+v", c)
	}
	for _, title := range []string{"a", "b", "c"} {
		if _, err := s.Notifications().Create(ctx, &models.Notification{CitizenID: "cit-1", Title: title}); err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}
	list, _ := s.Notifications().ListByCitizen(ctx, "cit-1", 2)
	if len(list) != 2 || list[0].Title != "c" || list[0].ID != 3 {
		t.Fatalf("unexpected notifications %+v", list)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	path := filepath.Join(t.TempDir(), "local.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected error for corrupt file")
	}
}

func TestStore_FailedWriteLeavesStateUnchanged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	s, err := Open(filepath.Join(dir, "local.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	orders := s.Orders()
	o, err := orders.Create(ctx, &models.Order{ID: "SAR-20260301-FFFFFF", CitizenID: "cit-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	cancelled := *o
	cancelled.Status = models.OrderStatusCancelled
	if err := orders.SaveTransition(ctx, &cancelled, models.OrderStatusPending); err == nil {
		t.Fatalf("expected write error")
	}
	got, _ := orders.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusPending {
		t.Fatalf("status after failed write = %s, want pending", got.Status)
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("recreate dir: %v", err)
	}
	if err := orders.SaveTransition(ctx, &cancelled, models.OrderStatusPending); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ = orders.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Fatalf("status after retry = %s, want cancelled", got.Status)
	}
}

func TestCollectors_ReserveRequestStopsAtLimit(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "local.json"))
	ctx := context.Background()
	c, err := s.Collectors().Create(ctx, &models.Collector{Name: "Ravi"})
	if err != nil {
		t.Fatalf("create collector: %v", err)
	}
	if err := s.Collectors().AdjustActiveRequests(ctx, c.ID, 1); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	if ok, err := s.Collectors().ReserveRequest(ctx, c.ID, 2); err != nil || !ok {
		t.Fatalf("first reserve = %v, %v; want true", ok, err)
	}
	if ok, err := s.Collectors().ReserveRequest(ctx, c.ID, 2); err != nil || ok {
		t.Fatalf("reserve at limit = %v, %v; want false", ok, err)
	}
	got, _ := s.Collectors().GetByID(ctx, c.ID)
	if got.ActiveRequests != 2 {
		t.Fatalf("active requests = %d, want 2", got.ActiveRequests)
	}
	if _, err := s.Collectors().ReserveRequest(ctx, "ghost", 2); err == nil {
		t.Fatalf("expected an error for an unknown collector")
	}
}

func TestOrders_ListPendingWithinArea(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "local.json"))
	ctx := context.Background()
	orders := s.Orders()
	near := geo.Point{Lat: 12.9716, Lng: 77.5946}
	for id, p := range map[string]geo.Point{
		"SAR-20260301-NEAR01": near,
		"SAR-20260301-FAR001": {Lat: 28.6139, Lng: 77.2090},
	} {
		if _, err := orders.Create(ctx, &models.Order{ID: id, CitizenID: "cit-1", Lat: p.Lat, Lng: p.Lng}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	got, err := orders.ListPendingWithin(ctx, geo.BoundingBox(near, geo.ServiceRadiusKm), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "SAR-20260301-NEAR01" {
		t.Fatalf("want only the nearby order, got %+v", got)
	}
}
