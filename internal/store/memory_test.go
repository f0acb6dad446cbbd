package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"churchtransport/internal/model"
)

func TestMemoryDriverVehicleRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v, err := m.CreateVehicle(ctx, model.Vehicle{Make: "Toyota", Model: "Sienna", LicensePlate: "ABC-123", Capacity: 6, Status: model.VehicleAvailable})
	if err != nil {
		t.Fatal(err)
	}
	d, err := m.CreateDriver(ctx, model.Driver{Name: "Ruth", Phone: "555-0100", VehicleID: v.ID})
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.GetDriver(ctx, d.ID)
	if err != nil || got != d {
		t.Fatalf("driver round trip: %+v %v", got, err)
	}
	gv, err := m.GetVehicle(ctx, got.VehicleID)
	if err != nil || gv != v {
		t.Fatalf("vehicle round trip: %+v %v", gv, err)
	}
	if _, err := m.GetDriver(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.DeleteVehicle(ctx, v.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteVehicle(ctx, v.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemoryListPreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for _, name := range []string{"c", "a", "b"} {
		c, _ := m.CreateContact(ctx, model.Contact{FirstName: name})
		ids = append(ids, c.ID)
	}
	all, _ := m.ListContacts(ctx, nil)
	for i, c := range all {
		if c.ID != ids[i] {
			t.Fatalf("order broken at %d: %v", i, all)
		}
	}
	sub, _ := m.ListContacts(ctx, []string{ids[2], ids[0]})
	if len(sub) != 2 || sub[0].ID != ids[0] || sub[1].ID != ids[2] {
		t.Fatalf("id subset should keep store order: %v", sub)
	}
	none, _ := m.ListContacts(ctx, []string{})
	if len(none) != 0 {
		t.Fatalf("empty id set should return nothing: %v", none)
	}
}

func TestMemoryRequestFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(ev string, st model.RequestStatus, drv string, at int) model.TransportRequest {
		r := model.TransportRequest{EventID: ev, ContactID: "c", Status: st, RequestedAt: base.Add(time.Duration(at) * time.Minute)}
		if drv != "" {
			r.AssignedDriver, r.AssignedVehicle = drv, "v-"+drv
		}
		out, err := m.CreateRequest(ctx, r)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}
	r1 := mk("e1", model.RequestPending, "", 1)
	r2 := mk("e1", model.RequestAssigned, "d1", 2)
	mk("e2", model.RequestPending, "", 3)
	r4 := mk("e1", model.RequestCancelled, "", 4)

	got, _ := m.ListRequests(ctx, RequestFilter{EventID: "e1", Statuses: []model.RequestStatus{model.RequestPending, model.RequestAssigned}})
	if len(got) != 2 || got[0].ID != r1.ID || got[1].ID != r2.ID {
		t.Fatalf("status filter: %v", got)
	}
	got, _ = m.ListRequests(ctx, RequestFilter{EventID: "e1", Unassigned: true})
	if len(got) != 2 || got[0].ID != r1.ID || got[1].ID != r4.ID {
		t.Fatalf("unassigned filter: %v", got)
	}
	got, _ = m.ListRequests(ctx, RequestFilter{DriverID: "d1"})
	if len(got) != 1 || got[0].ID != r2.ID {
		t.Fatalf("driver filter: %v", got)
	}
	got, _ = m.ListRequests(ctx, RequestFilter{EventID: "e1", NewestFirst: true})
	if got[0].ID != r4.ID {
		t.Fatalf("newest first: %v", got)
	}
}

func TestMemoryUpdateRequestKeepsRequestedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, _ := m.CreateRequest(ctx, model.TransportRequest{EventID: "e", ContactID: "c", Status: model.RequestPending})
	orig := r.RequestedAt
	r.RequestedAt = time.Time{}
	r.Notes = "changed"
	up, err := m.UpdateRequest(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if !up.RequestedAt.Equal(orig) || up.Notes != "changed" {
		t.Fatalf("unexpected: %+v", up)
	}
	if _, err := m.UpdateRequest(ctx, model.TransportRequest{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryEventDriverUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.AddEventDriver(ctx, model.EventDriver{EventID: "e", DriverID: "d", Status: model.EventDriverAssigned}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddEventDriver(ctx, model.EventDriver{EventID: "e", DriverID: "d", Status: model.EventDriverConfirmed}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	m.AddEventDriver(ctx, model.EventDriver{EventID: "e", DriverID: "d2", Status: model.EventDriverCancelled})
	list, _ := m.ListEventDrivers(ctx, "e", model.EventDriverAssigned)
	if len(list) != 1 || list[0].DriverID != "d" {
		t.Fatalf("status filter: %v", list)
	}
	if err := m.RemoveEventDriver(ctx, "e", "d"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveEventDriver(ctx, "e", "d"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDeleteDraftRoutes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateRoute(ctx, model.OptimizedRoute{EventID: "e", DriverID: "d1"})
	sent, _ := m.CreateRoute(ctx, model.OptimizedRoute{EventID: "e", DriverID: "d2", Status: model.RouteSent})
	m.CreateRoute(ctx, model.OptimizedRoute{EventID: "other", DriverID: "d3"})
	n, _ := m.DeleteDraftRoutes(ctx, "e")
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	left, _ := m.ListRoutes(ctx, "e")
	if len(left) != 1 || left[0].ID != sent.ID {
		t.Fatalf("unexpected routes left: %v", left)
	}
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://x", Events: []string{"transport.request.assigned"}})
	subs, _ := m.GetSubscriptionsForEvent(ctx, "transport.request.assigned")
	if len(subs) != 1 || subs[0].ID != s.ID {
		t.Fatalf("subscriptions: %v", subs)
	}
	id, _ := m.EnqueueWebhook(ctx, s.ID, "transport.request.assigned", s.URL, "", []byte(`{}`))
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %v", due)
	}
	later := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3); err != nil {
		t.Fatal(err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("delivery should be scheduled later: %v", due)
	}
	if err := m.FailWebhookDelivery(ctx, id, "gave up", 500, 3); err != nil {
		t.Fatal(err)
	}
	dlq, _ := m.ListWebhookDLQ(ctx, 0)
	if len(dlq) != 1 || dlq[0]["deliveryId"] != id {
		t.Fatalf("dlq: %v", dlq)
	}
	if err := m.RetryWebhookDelivery(ctx, id); err != nil {
		t.Fatal(err)
	}
	items, _, _ := m.ListWebhookDeliveries(ctx, "pending", "", 10)
	if len(items) != 1 {
		t.Fatalf("retry should requeue: %v", items)
	}
}
