package model

import (
	"errors"
	"fmt"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAssigned  RequestStatus = "assigned"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "available"
	VehicleInUse       VehicleStatus = "in_use"
	VehicleMaintenance VehicleStatus = "maintenance"
)

type EventDriverStatus string

const (
	EventDriverAssigned  EventDriverStatus = "assigned"
	EventDriverConfirmed EventDriverStatus = "confirmed"
	EventDriverCancelled EventDriverStatus = "cancelled"
)

type RouteStatus string

const (
	RouteDraft     RouteStatus = "draft"
	RouteSent      RouteStatus = "sent"
	RouteCompleted RouteStatus = "completed"
)

type DriverAvailability string

const (
	DriverAvailable DriverAvailability = "available"
	DriverAssigned  DriverAvailability = "assigned"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists the allowed request status moves. Completed and cancelled are terminal.
var transitions = map[RequestStatus][]RequestStatus{
	RequestPending:  {RequestAssigned, RequestCancelled},
	RequestAssigned: {RequestAssigned, RequestCompleted, RequestCancelled},
}

// CanTransition reports whether a request may move from one status to another.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition returns ErrInvalidTransition wrapped with the offending pair when the move is not allowed.
func (s RequestStatus) Transition(to RequestStatus) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return nil
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAssigned, RequestCompleted, RequestCancelled:
		return true
	}
	return false
}

func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleAvailable, VehicleInUse, VehicleMaintenance:
		return true
	}
	return false
}

func (s EventDriverStatus) Valid() bool {
	switch s {
	case EventDriverAssigned, EventDriverConfirmed, EventDriverCancelled:
		return true
	}
	return false
}

func (s RouteStatus) Valid() bool {
	switch s {
	case RouteDraft, RouteSent, RouteCompleted:
		return true
	}
	return false
}

// ParseRequestStatuses splits a comma separated status list, rejecting unknown values.
func ParseRequestStatuses(raw []string) ([]RequestStatus, error) {
	var out []RequestStatus
	for _, v := range raw {
		s := RequestStatus(v)
		if !s.Valid() {
			return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v)}
		}
		out = append(out, s)
	}
	return out, nil
}
