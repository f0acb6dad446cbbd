package assign

import (
	"context"
	"fmt"
	"math"
	"sort"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/internal/webhooks"
)

const staffNote = "Auto-assigned from fleet"

// StaffResult reports which fleet drivers were added to an event.
type StaffResult struct {
	PendingRequests int                 `json:"pending_requests"`
	Needed          int                 `json:"needed"`
	Added           []model.EventDriver `json:"added"`
	Failed          []string            `json:"failed"`
}

// StaffEvent adds enough fleet drivers to an event to seat its pending requests. Candidates
// are drivers with an available vehicle who are not yet on the event, largest vehicles first.
func (e *Engine) StaffEvent(ctx context.Context, eventID string) (StaffResult, error) {
	res := StaffResult{Added: []model.EventDriver{}, Failed: []string{}}
	pending, err := e.Store.ListRequests(ctx, store.RequestFilter{
		EventID:    eventID,
		Statuses:   []model.RequestStatus{model.RequestPending},
		Unassigned: true,
	})
	if err != nil {
		return res, fmt.Errorf("load pending requests: %w", err)
	}
	res.PendingRequests = len(pending)
	if len(pending) == 0 {
		return res, nil
	}

	onEvent, err := e.Store.ListEventDrivers(ctx, eventID)
	if err != nil {
		return res, fmt.Errorf("load event drivers: %w", err)
	}
	taken := map[string]bool{}
	for _, ed := range onEvent {
		taken[ed.DriverID] = true
	}
	drivers, err := e.Store.ListDrivers(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("load drivers: %w", err)
	}
	vehicles, err := e.Store.ListVehicles(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("load vehicles: %w", err)
	}
	vByID := make(map[string]model.Vehicle, len(vehicles))
	for _, v := range vehicles {
		vByID[v.ID] = v
	}

	var cands []candidate
	total := 0
	for _, d := range drivers {
		if taken[d.ID] || d.VehicleID == "" {
			continue
		}
		v, ok := vByID[d.VehicleID]
		if !ok || v.Status != model.VehicleAvailable || v.Capacity <= 0 {
			continue
		}
		cands = append(cands, candidate{driver: d, vehicle: v})
		total += v.Capacity
	}
	if len(cands) == 0 {
		e.Log.Info("staff event: no fleet drivers available", "event_id", eventID)
		return res, nil
	}
	avg := float64(total) / float64(len(cands))
	res.Needed = int(math.Ceil(float64(len(pending)) / avg))
	if res.Needed > len(cands) {
		res.Needed = len(cands)
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].vehicle.Capacity > cands[j].vehicle.Capacity })

	for _, c := range cands[:res.Needed] {
		ed, err := e.Store.AddEventDriver(ctx, model.EventDriver{
			EventID:   eventID,
			DriverID:  c.driver.ID,
			VehicleID: c.vehicle.ID,
			Status:    model.EventDriverAssigned,
			Notes:     staffNote,
		})
		if err != nil {
			e.Log.Warn("staff event: add driver failed", "event_id", eventID, "driver_id", c.driver.ID, "error", err)
			res.Failed = append(res.Failed, c.driver.ID)
			continue
		}
		res.Added = append(res.Added, ed)
	}
	if len(res.Added) > 0 {
		e.Events.Publish(ctx, eventID, webhooks.EventDriversStaffed, map[string]any{"added": len(res.Added), "needed": res.Needed})
	}
	return res, nil
}
