package model

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (l *Location) Validate() error {
	if l == nil {
		return nil
	}
	if (l.Lat == nil) != (l.Lng == nil) {
		return invalid("pickup_location", "lat and lng must be given together")
	}
	if l.Lat != nil && (*l.Lat < -90 || *l.Lat > 90) {
		return invalid("pickup_location.lat", "%v out of range [-90, 90]", *l.Lat)
	}
	if l.Lng != nil && (*l.Lng < -180 || *l.Lng > 180) {
		return invalid("pickup_location.lng", "%v out of range [-180, 180]", *l.Lng)
	}
	return nil
}

func (c *Contact) Validate() error {
	if strings.TrimSpace(c.FirstName) == "" && strings.TrimSpace(c.LastName) == "" {
		return invalid("name", "first_name or last_name is required")
	}
	return nil
}

func (d *Driver) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return invalid("name", "required")
	}
	return nil
}

func (v *Vehicle) Validate() error {
	if v.Capacity <= 0 {
		return invalid("capacity", "must be > 0, got %d", v.Capacity)
	}
	if v.Status == "" {
		v.Status = VehicleAvailable
	}
	if !v.Status.Valid() {
		return invalid("status", "unknown vehicle status %q", v.Status)
	}
	return nil
}

// Validate checks the request record as stored, including the driver/vehicle pairing.
func (r *TransportRequest) Validate() error {
	if r.EventID == "" {
		return invalid("event_id", "required")
	}
	if r.ContactID == "" {
		return invalid("contact_id", "required")
	}
	if !r.Status.Valid() {
		return invalid("status", "unknown request status %q", r.Status)
	}
	if (r.AssignedDriver == "") != (r.AssignedVehicle == "") {
		return invalid("assigned_driver", "driver and vehicle must be set together")
	}
	return r.PickupLocation.Validate()
}

func (e *EventDriver) Validate() error {
	if e.EventID == "" {
		return invalid("event_id", "required")
	}
	if e.DriverID == "" {
		return invalid("driver_id", "required")
	}
	if e.Status == "" {
		e.Status = EventDriverAssigned
	}
	if !e.Status.Valid() {
		return invalid("status", "unknown event driver status %q", e.Status)
	}
	return nil
}
