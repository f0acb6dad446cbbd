package assign

import (
	"context"
	"fmt"

	"churchtransport/internal/metrics"
	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/internal/transport"
	"churchtransport/internal/webhooks"
	"churchtransport/pkg/logger"
)

// Engine places pending transport requests on the drivers staffed for an event.
type Engine struct {
	Store  store.Store
	Events transport.EventSink
	Log    logger.Logger
}

func NewEngine(s store.Store, events transport.EventSink, log logger.Logger) *Engine {
	if events == nil {
		events = transport.NopSink
	}
	return &Engine{Store: s, Events: events, Log: log}
}

// Result lists the requests placed by one run. Skipped holds requests left pending because
// no driver had a free seat or because their write failed.
type Result struct {
	Assignments []model.Assignment `json:"assignments"`
	Skipped     []string           `json:"skipped"`
}

type candidate struct {
	driver  model.Driver
	vehicle model.Vehicle
	load    int
}

func (c *candidate) remaining() int { return c.vehicle.Capacity - c.load }

// AutoAssign runs one greedy pass: each pending request, in fetch order, goes to the eligible
// driver with the most remaining seats (first one wins ties). Seats already filled by earlier
// runs are not counted; the load starts at zero on every call.
func (e *Engine) AutoAssign(ctx context.Context, eventID string) (Result, error) {
	res := Result{Assignments: []model.Assignment{}, Skipped: []string{}}
	pending, err := e.Store.ListRequests(ctx, store.RequestFilter{
		EventID:    eventID,
		Statuses:   []model.RequestStatus{model.RequestPending},
		Unassigned: true,
	})
	if err != nil {
		return res, fmt.Errorf("load pending requests: %w", err)
	}
	if len(pending) == 0 {
		e.Log.Info("auto-assign: no pending requests", "event_id", eventID)
		return res, nil
	}
	cands, err := e.eligibleDrivers(ctx, eventID)
	if err != nil {
		return res, err
	}
	if len(cands) == 0 {
		e.Log.Info("auto-assign: no eligible drivers", "event_id", eventID, "pending", len(pending))
		return res, nil
	}
	names, err := e.contactNames(ctx, pending)
	if err != nil {
		return res, err
	}

	for _, req := range pending {
		var best *candidate
		for _, c := range cands {
			if best == nil || c.remaining() > best.remaining() {
				best = c
			}
		}
		if best.remaining() <= 0 {
			res.Skipped = append(res.Skipped, req.ID)
			metrics.Assignments.WithLabelValues("no_capacity").Inc()
			continue
		}
		req.Status = model.RequestAssigned
		req.AssignedDriver = best.driver.ID
		req.AssignedVehicle = best.vehicle.ID
		if _, err := e.Store.UpdateRequest(ctx, req); err != nil {
			e.Log.Error("auto-assign: write failed", "event_id", eventID, "request_id", req.ID, "driver_id", best.driver.ID, "error", err)
			res.Skipped = append(res.Skipped, req.ID)
			metrics.Assignments.WithLabelValues("write_failed").Inc()
			continue
		}
		best.load++
		a := model.Assignment{
			RequestID:       req.ID,
			DriverID:        best.driver.ID,
			VehicleID:       best.vehicle.ID,
			DriverName:      best.driver.Name,
			VehicleInfo:     best.vehicle.Describe(),
			VehicleCapacity: best.vehicle.Capacity,
			ContactName:     names[req.ContactID],
		}
		res.Assignments = append(res.Assignments, a)
		metrics.Assignments.WithLabelValues("assigned").Inc()
		e.Events.Publish(ctx, eventID, webhooks.EventRequestAssigned, map[string]any{
			"request_id": a.RequestID, "driver_id": a.DriverID, "vehicle_id": a.VehicleID, "auto": true,
		})
	}
	e.Log.Info("auto-assign finished", "event_id", eventID, "assigned", len(res.Assignments), "skipped", len(res.Skipped))
	return res, nil
}

// eligibleDrivers returns event drivers in status assigned whose vehicle (the event-specific one,
// else the driver's own) is available with capacity > 0. Order follows the event driver list.
func (e *Engine) eligibleDrivers(ctx context.Context, eventID string) ([]*candidate, error) {
	eds, err := e.Store.ListEventDrivers(ctx, eventID, model.EventDriverAssigned)
	if err != nil {
		return nil, fmt.Errorf("load event drivers: %w", err)
	}
	if len(eds) == 0 {
		return nil, nil
	}
	driverIDs := make([]string, 0, len(eds))
	for _, ed := range eds {
		driverIDs = append(driverIDs, ed.DriverID)
	}
	drivers, err := e.Store.ListDrivers(ctx, driverIDs)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	byID := make(map[string]model.Driver, len(drivers))
	vehicleIDs := []string{}
	for _, d := range drivers {
		byID[d.ID] = d
		if d.VehicleID != "" {
			vehicleIDs = append(vehicleIDs, d.VehicleID)
		}
	}
	for _, ed := range eds {
		if ed.VehicleID != "" {
			vehicleIDs = append(vehicleIDs, ed.VehicleID)
		}
	}
	vehicles, err := e.Store.ListVehicles(ctx, vehicleIDs)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	vByID := make(map[string]model.Vehicle, len(vehicles))
	for _, v := range vehicles {
		vByID[v.ID] = v
	}

	seen := map[string]bool{}
	out := []*candidate{}
	for _, ed := range eds {
		d, ok := byID[ed.DriverID]
		if !ok || seen[d.ID] {
			continue
		}
		vid := ed.VehicleID
		if vid == "" {
			vid = d.VehicleID
		}
		v, ok := vByID[vid]
		if !ok || v.Status != model.VehicleAvailable || v.Capacity <= 0 {
			continue
		}
		seen[d.ID] = true
		out = append(out, &candidate{driver: d, vehicle: v})
	}
	return out, nil
}

func (e *Engine) contactNames(ctx context.Context, reqs []model.TransportRequest) (map[string]string, error) {
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ContactID)
	}
	contacts, err := e.Store.ListContacts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	out := make(map[string]string, len(contacts))
	for _, c := range contacts {
		out[c.ID] = c.FullName()
	}
	return out, nil
}
