package transport

import (
	"context"
	"fmt"
	"math"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
)

// VehicleCapacity is the live load of one vehicle.
type VehicleCapacity struct {
	model.Vehicle
	CurrentAssignments    int      `json:"current_assignments"`
	RemainingCapacity     int      `json:"remaining_capacity"`
	UtilizationPercentage float64  `json:"utilization_percentage"`
	AssignedPassengers    []string `json:"assigned_passengers"`
}

// FleetCapacity aggregates vehicle loads.
type FleetCapacity struct {
	TotalVehicles      int               `json:"total_vehicles"`
	AvailableVehicles  int               `json:"available_vehicles"`
	InUseVehicles      int               `json:"in_use_vehicles"`
	TotalCapacity      int               `json:"total_capacity"`
	UsedCapacity       int               `json:"used_capacity"`
	AvailableCapacity  int               `json:"available_capacity"`
	OverallUtilization float64           `json:"overall_utilization"`
	Vehicles           []VehicleCapacity `json:"vehicles"`
}

// Capacity computes per-vehicle load from requests in status assigned. An empty eventID
// covers all events.
func (r *Repository) Capacity(ctx context.Context, eventID string) (FleetCapacity, error) {
	vehicles, err := r.Store.ListVehicles(ctx, nil)
	if err != nil {
		return FleetCapacity{}, fmt.Errorf("load vehicles: %w", err)
	}
	assigned, err := r.Store.ListRequests(ctx, store.RequestFilter{EventID: eventID, Statuses: []model.RequestStatus{model.RequestAssigned}})
	if err != nil {
		return FleetCapacity{}, fmt.Errorf("load assigned requests: %w", err)
	}
	rows, err := r.withRelations(ctx, assigned)
	if err != nil {
		return FleetCapacity{}, err
	}
	byVehicle := map[string][]string{}
	for _, row := range rows {
		name := ""
		if row.Contact != nil {
			name = row.Contact.FullName()
		}
		byVehicle[row.AssignedVehicle] = append(byVehicle[row.AssignedVehicle], name)
	}

	out := FleetCapacity{Vehicles: make([]VehicleCapacity, 0, len(vehicles))}
	for _, v := range vehicles {
		passengers := byVehicle[v.ID]
		if passengers == nil {
			passengers = []string{}
		}
		vc := VehicleCapacity{
			Vehicle:            v,
			CurrentAssignments: len(passengers),
			RemainingCapacity:  v.Capacity - len(passengers),
			AssignedPassengers: passengers,
		}
		if vc.RemainingCapacity < 0 {
			vc.RemainingCapacity = 0
		}
		if v.Capacity > 0 {
			vc.UtilizationPercentage = round1(float64(vc.CurrentAssignments) / float64(v.Capacity) * 100)
		}
		out.Vehicles = append(out.Vehicles, vc)
		out.TotalVehicles++
		out.TotalCapacity += v.Capacity
		out.UsedCapacity += vc.CurrentAssignments
		if vc.RemainingCapacity > 0 {
			out.AvailableVehicles++
		}
		if vc.CurrentAssignments > 0 {
			out.InUseVehicles++
		}
	}
	out.AvailableCapacity = out.TotalCapacity - out.UsedCapacity
	if out.AvailableCapacity < 0 {
		out.AvailableCapacity = 0
	}
	if out.TotalCapacity > 0 {
		out.OverallUtilization = round1(float64(out.UsedCapacity) / float64(out.TotalCapacity) * 100)
	}
	return out, nil
}

// AvailableVehicles lists vehicles with seats left that are not in maintenance.
func (r *Repository) AvailableVehicles(ctx context.Context, eventID string) ([]VehicleCapacity, error) {
	fleet, err := r.Capacity(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := []VehicleCapacity{}
	for _, v := range fleet.Vehicles {
		if v.RemainingCapacity > 0 && (v.Status == model.VehicleAvailable || v.Status == model.VehicleInUse) {
			out = append(out, v)
		}
	}
	return out, nil
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
