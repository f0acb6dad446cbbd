package model

import (
	"errors"
	"testing"
)

func TestRequestTransitions(t *testing.T) {
	cases := []struct {
		from, to RequestStatus
		ok       bool
	}{
		{RequestPending, RequestAssigned, true},
		{RequestPending, RequestCancelled, true},
		{RequestPending, RequestCompleted, false},
		{RequestAssigned, RequestCompleted, true},
		{RequestAssigned, RequestCancelled, true},
		{RequestAssigned, RequestAssigned, true},
		{RequestAssigned, RequestPending, false},
		{RequestCompleted, RequestCancelled, false},
		{RequestCompleted, RequestAssigned, false},
		{RequestCancelled, RequestPending, false},
		{RequestCancelled, RequestAssigned, false},
	}
	for _, tc := range cases {
		err := tc.from.Transition(tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
	}
	if !RequestCompleted.Terminal() || !RequestCancelled.Terminal() || RequestPending.Terminal() {
		t.Fatal("terminal states wrong")
	}
}

func TestDriverAvailability(t *testing.T) {
	if (Driver{Name: "a"}).Availability() != DriverAvailable {
		t.Fatal("driver without vehicle should be available")
	}
	if (Driver{Name: "a", VehicleID: "v1"}).Availability() != DriverAssigned {
		t.Fatal("driver with vehicle should be assigned")
	}
}

func TestVehicleValidate(t *testing.T) {
	v := Vehicle{Make: "Ford", Model: "Transit", Capacity: 0}
	if err := v.Validate(); !IsValidation(err) {
		t.Fatalf("capacity 0 should fail validation, got %v", err)
	}
	v.Capacity = 12
	if err := v.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Status != VehicleAvailable {
		t.Fatalf("default status: got %q", v.Status)
	}
	v.Status = "parked"
	if err := v.Validate(); !IsValidation(err) {
		t.Fatal("unknown status should fail")
	}
}

func TestRequestValidatePairing(t *testing.T) {
	r := TransportRequest{EventID: "e1", ContactID: "c1", Status: RequestAssigned, AssignedDriver: "d1"}
	if err := r.Validate(); !IsValidation(err) {
		t.Fatalf("driver without vehicle should fail, got %v", err)
	}
	r.AssignedVehicle = "v1"
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLocationValidate(t *testing.T) {
	lat := 95.0
	if err := (&Location{Lat: &lat}).Validate(); !IsValidation(err) {
		t.Fatal("lat without lng should fail")
	}
	if err := Point(95, 0, "").Validate(); !IsValidation(err) {
		t.Fatal("out of range lat should fail")
	}
	if err := Point(39.7, -104.8, "x").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Point(1, 2, "").HasCoordinates() || (&Location{Address: "x"}).HasCoordinates() {
		t.Fatal("HasCoordinates wrong")
	}
	var nilLoc *Location
	if nilLoc.HasCoordinates() || nilLoc.Validate() != nil {
		t.Fatal("nil location should be valid and without coordinates")
	}
}

func TestParseRequestStatuses(t *testing.T) {
	got, err := ParseRequestStatuses([]string{"pending", "assigned"})
	if err != nil || len(got) != 2 {
		t.Fatalf("got %v %v", got, err)
	}
	if _, err := ParseRequestStatuses([]string{"done"}); !IsValidation(err) {
		t.Fatal("unknown status should fail")
	}
}
