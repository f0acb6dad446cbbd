package transport

import (
	"context"
	"errors"
	"fmt"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/internal/webhooks"
)

// EventSink receives transport events for fan-out (webhooks, live streams).
type EventSink interface {
	Publish(ctx context.Context, eventID, eventType string, data map[string]any)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, string, string, map[string]any) {}

// NopSink discards events.
var NopSink EventSink = nopSink{}

// Repository is the transport request data access layer over the record store.
type Repository struct {
	Store  store.Store
	Events EventSink
}

func NewRepository(s store.Store, events EventSink) *Repository {
	if events == nil {
		events = NopSink
	}
	return &Repository{Store: s, Events: events}
}

// Patch lists the request fields a coordinator may edit directly.
type Patch struct {
	PickupLocation *model.Location `json:"pickup_location,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
}

// Create stores a new pending request for an existing contact.
func (r *Repository) Create(ctx context.Context, req model.TransportRequest) (model.TransportRequest, error) {
	req.ID = ""
	req.Status = model.RequestPending
	req.AssignedDriver, req.AssignedVehicle = "", ""
	if err := req.Validate(); err != nil {
		return model.TransportRequest{}, err
	}
	if _, err := r.Store.GetContact(ctx, req.ContactID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.TransportRequest{}, &model.ValidationError{Field: "contact_id", Reason: "unknown contact " + req.ContactID}
		}
		return model.TransportRequest{}, fmt.Errorf("lookup contact: %w", err)
	}
	out, err := r.Store.CreateRequest(ctx, req)
	if err != nil {
		return model.TransportRequest{}, fmt.Errorf("create transport request: %w", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, id string) (model.TransportRequest, error) {
	return r.Store.GetRequest(ctx, id)
}

// Update applies a patch to pickup location and notes; status and assignment go through the
// transition methods.
func (r *Repository) Update(ctx context.Context, id string, p Patch) (model.TransportRequest, error) {
	cur, err := r.Store.GetRequest(ctx, id)
	if err != nil {
		return model.TransportRequest{}, err
	}
	if p.PickupLocation != nil {
		if err := p.PickupLocation.Validate(); err != nil {
			return model.TransportRequest{}, err
		}
		cur.PickupLocation = p.PickupLocation
	}
	if p.Notes != nil {
		cur.Notes = *p.Notes
	}
	return r.Store.UpdateRequest(ctx, cur)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.Store.DeleteRequest(ctx, id)
}

func (r *Repository) List(ctx context.Context, f store.RequestFilter) ([]model.TransportRequest, error) {
	return r.Store.ListRequests(ctx, f)
}

// ListWithRelations returns requests joined with contact, driver and vehicle. Relations are
// fetched in one batch per table.
func (r *Repository) ListWithRelations(ctx context.Context, f store.RequestFilter) ([]model.RequestWithRelations, error) {
	reqs, err := r.Store.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	return r.withRelations(ctx, reqs)
}

func (r *Repository) withRelations(ctx context.Context, reqs []model.TransportRequest) ([]model.RequestWithRelations, error) {
	contactIDs, driverIDs, vehicleIDs := idSet(), idSet(), idSet()
	for _, q := range reqs {
		contactIDs.add(q.ContactID)
		driverIDs.add(q.AssignedDriver)
		vehicleIDs.add(q.AssignedVehicle)
	}
	contacts, err := r.Store.ListContacts(ctx, contactIDs.list())
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	drivers, err := r.Store.ListDrivers(ctx, driverIDs.list())
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	vehicles, err := r.Store.ListVehicles(ctx, vehicleIDs.list())
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	cByID := map[string]model.Contact{}
	for _, c := range contacts {
		cByID[c.ID] = c
	}
	dByID := map[string]model.Driver{}
	for _, d := range drivers {
		dByID[d.ID] = d
	}
	vByID := map[string]model.Vehicle{}
	for _, v := range vehicles {
		vByID[v.ID] = v
	}
	out := make([]model.RequestWithRelations, 0, len(reqs))
	for _, q := range reqs {
		row := model.RequestWithRelations{TransportRequest: q}
		if c, ok := cByID[q.ContactID]; ok {
			row.Contact = &c
		}
		if d, ok := dByID[q.AssignedDriver]; ok {
			row.Driver = &d
		}
		if v, ok := vByID[q.AssignedVehicle]; ok {
			row.Vehicle = &v
		}
		out = append(out, row)
	}
	return out, nil
}

// Assign places a pending or assigned request on a driver and vehicle.
func (r *Repository) Assign(ctx context.Context, id, driverID, vehicleID string) (model.TransportRequest, error) {
	if driverID == "" || vehicleID == "" {
		return model.TransportRequest{}, &model.ValidationError{Field: "assigned_driver", Reason: "driver_id and vehicle_id are both required"}
	}
	cur, err := r.Store.GetRequest(ctx, id)
	if err != nil {
		return model.TransportRequest{}, err
	}
	if err := cur.Status.Transition(model.RequestAssigned); err != nil {
		return model.TransportRequest{}, err
	}
	if _, err := r.Store.GetDriver(ctx, driverID); err != nil {
		return model.TransportRequest{}, relationErr("driver_id", driverID, err)
	}
	v, err := r.Store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return model.TransportRequest{}, relationErr("vehicle_id", vehicleID, err)
	}
	if v.Status == model.VehicleMaintenance {
		return model.TransportRequest{}, &model.ValidationError{Field: "vehicle_id", Reason: "vehicle " + vehicleID + " is in maintenance"}
	}
	cur.Status = model.RequestAssigned
	cur.AssignedDriver, cur.AssignedVehicle = driverID, vehicleID
	out, err := r.Store.UpdateRequest(ctx, cur)
	if err != nil {
		return model.TransportRequest{}, err
	}
	r.Events.Publish(ctx, out.EventID, webhooks.EventRequestAssigned, map[string]any{
		"request_id": out.ID, "driver_id": driverID, "vehicle_id": vehicleID,
	})
	return out, nil
}

func (r *Repository) Complete(ctx context.Context, id string) (model.TransportRequest, error) {
	return r.transition(ctx, id, model.RequestCompleted, webhooks.EventRequestCompleted)
}

// Cancel keeps any driver and vehicle on the record for history.
func (r *Repository) Cancel(ctx context.Context, id string) (model.TransportRequest, error) {
	return r.transition(ctx, id, model.RequestCancelled, webhooks.EventRequestCancelled)
}

func (r *Repository) transition(ctx context.Context, id string, to model.RequestStatus, eventType string) (model.TransportRequest, error) {
	cur, err := r.Store.GetRequest(ctx, id)
	if err != nil {
		return model.TransportRequest{}, err
	}
	if err := cur.Status.Transition(to); err != nil {
		return model.TransportRequest{}, err
	}
	cur.Status = to
	out, err := r.Store.UpdateRequest(ctx, cur)
	if err != nil {
		return model.TransportRequest{}, err
	}
	r.Events.Publish(ctx, out.EventID, eventType, map[string]any{"request_id": out.ID, "status": string(to)})
	return out, nil
}

func relationErr(field, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &model.ValidationError{Field: field, Reason: "unknown " + id}
	}
	return err
}

type ids struct {
	seen map[string]bool
	out  []string
}

func idSet() *ids { return &ids{seen: map[string]bool{}, out: []string{}} }

func (s *ids) add(id string) {
	if id == "" || s.seen[id] {
		return
	}
	s.seen[id] = true
	s.out = append(s.out, id)
}

func (s *ids) list() []string { return s.out }
