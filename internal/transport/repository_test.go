package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
)

type recordSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordSink) Publish(_ context.Context, eventID, eventType string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventID+":"+eventType)
}

type fixture struct {
	repo    *Repository
	mem     *store.Memory
	sink    *recordSink
	contact model.Contact
	driver  model.Driver
	vehicle model.Vehicle
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	c, _ := m.CreateContact(ctx, model.Contact{FirstName: "Mary", LastName: "Jones", Phone: "555-0101"})
	v, _ := m.CreateVehicle(ctx, model.Vehicle{Make: "Honda", Model: "Odyssey", LicensePlate: "CHR-1", Capacity: 2, Status: model.VehicleAvailable})
	d, _ := m.CreateDriver(ctx, model.Driver{Name: "Sam", VehicleID: v.ID})
	sink := &recordSink{}
	return fixture{repo: NewRepository(m, sink), mem: m, sink: sink, contact: c, driver: d, vehicle: v}
}

func TestCreateForcesPendingAndChecksContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID, Status: model.RequestCompleted, AssignedDriver: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != model.RequestPending || !r.Unassigned() || r.RequestedAt.IsZero() {
		t.Fatalf("unexpected request: %+v", r)
	}
	if _, err := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: "ghost"}); !model.IsValidation(err) {
		t.Fatalf("unknown contact should fail validation, got %v", err)
	}
	if _, err := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID, PickupLocation: model.Point(120, 0, "")}); !model.IsValidation(err) {
		t.Fatalf("bad coordinates should fail validation, got %v", err)
	}
}

func TestAssignCompleteAndTerminalStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})

	if _, err := f.repo.Complete(ctx, r.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("pending -> completed should be rejected, got %v", err)
	}
	got, err := f.repo.Assign(ctx, r.ID, f.driver.ID, f.vehicle.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.RequestAssigned || got.AssignedDriver != f.driver.ID || got.AssignedVehicle != f.vehicle.ID {
		t.Fatalf("assign: %+v", got)
	}
	got, err = f.repo.Complete(ctx, r.ID)
	if err != nil || got.Status != model.RequestCompleted {
		t.Fatalf("complete: %+v %v", got, err)
	}
	if _, err := f.repo.Cancel(ctx, r.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("completed -> cancelled should be rejected, got %v", err)
	}
	if _, err := f.repo.Assign(ctx, r.ID, f.driver.ID, f.vehicle.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("completed -> assigned should be rejected, got %v", err)
	}
	want := []string{"e1:transport.request.assigned", "e1:transport.request.completed"}
	if len(f.sink.events) != len(want) || f.sink.events[0] != want[0] || f.sink.events[1] != want[1] {
		t.Fatalf("events: %v", f.sink.events)
	}
}

func TestAssignRequiresBothAndRejectsMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})
	if _, err := f.repo.Assign(ctx, r.ID, f.driver.ID, ""); !model.IsValidation(err) {
		t.Fatalf("missing vehicle should fail, got %v", err)
	}
	if _, err := f.repo.Assign(ctx, r.ID, "ghost", f.vehicle.ID); !model.IsValidation(err) {
		t.Fatalf("unknown driver should fail, got %v", err)
	}
	v := f.vehicle
	v.Status = model.VehicleMaintenance
	f.mem.UpdateVehicle(ctx, v)
	if _, err := f.repo.Assign(ctx, r.ID, f.driver.ID, v.ID); !model.IsValidation(err) {
		t.Fatalf("maintenance vehicle should fail, got %v", err)
	}
	cur, _ := f.repo.Get(ctx, r.ID)
	if cur.Status != model.RequestPending || !cur.Unassigned() {
		t.Fatalf("failed assign must not change the record: %+v", cur)
	}
}

func TestCancelKeepsAssignmentPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})
	f.repo.Assign(ctx, r.ID, f.driver.ID, f.vehicle.ID)
	got, err := f.repo.Cancel(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.RequestCancelled || got.AssignedDriver == "" || got.AssignedVehicle == "" {
		t.Fatalf("cancel: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("pair invariant broken: %v", err)
	}
}

func TestUpdatePatchesOnlyPickupAndNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})
	notes := "front door"
	got, err := f.repo.Update(ctx, r.ID, Patch{PickupLocation: model.Point(39.7, -104.9, "9 Elm"), Notes: &notes})
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes != notes || !got.PickupLocation.HasCoordinates() || got.Status != model.RequestPending {
		t.Fatalf("update: %+v", got)
	}
	if _, err := f.repo.Update(ctx, "missing", Patch{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListWithRelations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})
	f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})
	f.repo.Assign(ctx, a.ID, f.driver.ID, f.vehicle.ID)
	// contact removed after the fact: relation must come back nil, not fail
	other, _ := f.mem.CreateContact(ctx, model.Contact{FirstName: "Gone"})
	orphan, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: other.ID})
	f.mem.DeleteContact(ctx, other.ID)

	rows, err := f.repo.ListWithRelations(ctx, store.RequestFilter{EventID: "e1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[0].Driver == nil || rows[0].Vehicle == nil || rows[0].Contact == nil || rows[0].Contact.FullName() != "Mary Jones" {
		t.Fatalf("assigned row relations missing: %+v", rows[0])
	}
	if rows[1].Driver != nil || rows[1].Vehicle != nil {
		t.Fatalf("pending row should have nil driver/vehicle: %+v", rows[1])
	}
	if rows[2].ID != orphan.ID || rows[2].Contact != nil {
		t.Fatalf("orphan row: %+v", rows[2])
	}
}

func TestCapacityAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	big, _ := f.mem.CreateVehicle(ctx, model.Vehicle{Make: "Ford", Model: "E350", Capacity: 10, Status: model.VehicleMaintenance})
	r1, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})
	r2, _ := f.repo.Create(ctx, model.TransportRequest{EventID: "e1", ContactID: f.contact.ID})
	f.repo.Assign(ctx, r1.ID, f.driver.ID, f.vehicle.ID)
	f.repo.Assign(ctx, r2.ID, f.driver.ID, f.vehicle.ID)

	fleet, err := f.repo.Capacity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if fleet.TotalVehicles != 2 || fleet.TotalCapacity != 12 || fleet.UsedCapacity != 2 || fleet.AvailableCapacity != 10 {
		t.Fatalf("totals: %+v", fleet)
	}
	if fleet.InUseVehicles != 1 || fleet.AvailableVehicles != 1 || fleet.OverallUtilization != 16.7 {
		t.Fatalf("counts: %+v", fleet)
	}
	v := fleet.Vehicles[0]
	if v.ID != f.vehicle.ID || v.RemainingCapacity != 0 || v.UtilizationPercentage != 100 || len(v.AssignedPassengers) != 2 || v.AssignedPassengers[0] != "Mary Jones" {
		t.Fatalf("vehicle row: %+v", v)
	}
	avail, _ := f.repo.AvailableVehicles(ctx, "e1")
	if len(avail) != 0 {
		t.Fatalf("full vehicle and maintenance vehicle must be excluded: %+v", avail)
	}
	other, _ := f.repo.Capacity(ctx, "e2")
	if other.UsedCapacity != 0 {
		t.Fatalf("event scoping: %+v", other)
	}
	_ = big
}
