// Package integrations defines sources that feed riders into the transport pipeline.
package integrations

import "context"

// RiderSource yields riders who asked for a ride, from an external sign-up list.
type RiderSource interface {
	Name() string
	FetchRiders(ctx context.Context) ([]Rider, error)
}

// Rider is one sign-up row. Lat and Lng are nil when the source gave only an address.
type Rider struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Address   string
	Lat       *float64
	Lng       *float64
	Notes     string
	// Line is the 1-based source line, for error reports.
	Line int
}

// RowError reports a row that could not be read; the remaining rows are still returned.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}
