package model

import "time"

// Core records of the transport pipeline. JSON names follow the record store columns.

type Contact struct {
	ID        string `json:"id" db:"id"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Phone     string `json:"phone" db:"phone"`
	Email     string `json:"email,omitempty" db:"email"`
}

// FullName joins first and last name.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Location is a pickup point. Coordinates are optional; an address alone is allowed.
type Location struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Address string   `json:"address,omitempty"`
}

// HasCoordinates reports whether both lat and lng are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Lat != nil && l.Lng != nil
}

// Point builds a Location with coordinates.
func Point(lat, lng float64, address string) *Location {
	return &Location{Lat: &lat, Lng: &lng, Address: address}
}

type TransportRequest struct {
	ID              string        `json:"id"`
	EventID         string        `json:"event_id"`
	ContactID       string        `json:"contact_id"`
	PickupLocation  *Location     `json:"pickup_location,omitempty"`
	Status          RequestStatus `json:"status"`
	AssignedDriver  string        `json:"assigned_driver,omitempty"`
	AssignedVehicle string        `json:"assigned_vehicle,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	RequestedAt     time.Time     `json:"requested_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Unassigned is true when neither a driver nor a vehicle is set.
func (r TransportRequest) Unassigned() bool {
	return r.AssignedDriver == "" && r.AssignedVehicle == ""
}

type Driver struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Phone     string `json:"phone" db:"phone"`
	Email     string `json:"email,omitempty" db:"email"`
	VehicleID string `json:"vehicle_id,omitempty" db:"vehicle_id"`
}

// Availability is derived: a driver without a current vehicle counts as available.
func (d Driver) Availability() DriverAvailability {
	if d.VehicleID == "" {
		return DriverAvailable
	}
	return DriverAssigned
}

type Vehicle struct {
	ID           string        `json:"id" db:"id"`
	Make         string        `json:"make" db:"make"`
	Model        string        `json:"model" db:"model"`
	Year         int           `json:"year,omitempty" db:"year"`
	Color        string        `json:"color,omitempty" db:"color"`
	LicensePlate string        `json:"license_plate" db:"license_plate"`
	Capacity     int           `json:"capacity" db:"capacity"`
	Status       VehicleStatus `json:"status" db:"status"`
}

// Describe renders "make model (plate)" for notifications and assignment rows.
func (v Vehicle) Describe() string {
	s := v.Make + " " + v.Model
	if v.LicensePlate != "" {
		s += " (" + v.LicensePlate + ")"
	}
	return s
}

type EventDriver struct {
	ID         string            `json:"id"`
	EventID    string            `json:"event_id"`
	DriverID   string            `json:"driver_id"`
	VehicleID  string            `json:"vehicle_id,omitempty"`
	Status     EventDriverStatus `json:"status"`
	Notes      string            `json:"notes,omitempty"`
	AssignedAt time.Time         `json:"assigned_at"`
}

type Waypoint struct {
	RequestID string  `json:"request_id,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Address   string  `json:"address"`
	ContactID string  `json:"contact_id,omitempty"`
}

// RouteData is the route description returned by the optimizer and stored on routes.
type RouteData struct {
	URL           string         `json:"url"`
	ETA           string         `json:"eta"`
	TotalDistance string         `json:"total_distance"`
	Waypoints     []Waypoint     `json:"waypoints"`
	Event         map[string]any `json:"event,omitempty"`
}

type OptimizedRoute struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id"`
	DriverID  string      `json:"driver_id"`
	VehicleID string      `json:"vehicle_id,omitempty"`
	RouteName string      `json:"route_name"`
	RouteData RouteData   `json:"route_data"`
	RouteURL  string      `json:"route_url,omitempty"`
	Status    RouteStatus `json:"status"`
	SentAt    *time.Time  `json:"sent_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Assignment is one request placed on a driver and vehicle by the auto-assignment engine.
type Assignment struct {
	RequestID       string `json:"request_id"`
	DriverID        string `json:"driver_id"`
	VehicleID       string `json:"vehicle_id"`
	DriverName      string `json:"driver_name"`
	VehicleInfo     string `json:"vehicle_info"`
	VehicleCapacity int    `json:"vehicle_capacity"`
	ContactName     string `json:"contact_name,omitempty"`
}

// RequestWithRelations is a transport request joined with its contact, driver and vehicle.
// Missing relations are nil.
type RequestWithRelations struct {
	TransportRequest
	Contact *Contact `json:"contact"`
	Driver  *Driver  `json:"driver"`
	Vehicle *Vehicle `json:"vehicle"`
}

// Webhook subscriptions

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
