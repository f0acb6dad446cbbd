package store

import (
	"context"
	"errors"
	"time"

	"churchtransport/internal/model"
)

// Store is the record store used by the transport pipeline and the API server.
type Store interface {
	// Contacts
	CreateContact(ctx context.Context, c model.Contact) (model.Contact, error)
	GetContact(ctx context.Context, id string) (model.Contact, error)
	ListContacts(ctx context.Context, ids []string) ([]model.Contact, error)
	UpdateContact(ctx context.Context, c model.Contact) (model.Contact, error)
	DeleteContact(ctx context.Context, id string) error

	// Drivers
	CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error)
	GetDriver(ctx context.Context, id string) (model.Driver, error)
	ListDrivers(ctx context.Context, ids []string) ([]model.Driver, error)
	UpdateDriver(ctx context.Context, d model.Driver) (model.Driver, error)
	DeleteDriver(ctx context.Context, id string) error

	// Vehicles
	CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	ListVehicles(ctx context.Context, ids []string) ([]model.Vehicle, error)
	UpdateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	DeleteVehicle(ctx context.Context, id string) error

	// Transport requests
	CreateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error)
	GetRequest(ctx context.Context, id string) (model.TransportRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]model.TransportRequest, error)
	UpdateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error)
	DeleteRequest(ctx context.Context, id string) error

	// Event drivers
	AddEventDriver(ctx context.Context, ed model.EventDriver) (model.EventDriver, error)
	ListEventDrivers(ctx context.Context, eventID string, statuses ...model.EventDriverStatus) ([]model.EventDriver, error)
	RemoveEventDriver(ctx context.Context, eventID, driverID string) error

	// Routes (transport_routes)
	CreateRoute(ctx context.Context, r model.OptimizedRoute) (model.OptimizedRoute, error)
	GetRoute(ctx context.Context, id string) (model.OptimizedRoute, error)
	ListRoutes(ctx context.Context, eventID string) ([]model.OptimizedRoute, error)
	UpdateRoute(ctx context.Context, r model.OptimizedRoute) (model.OptimizedRoute, error)
	DeleteDraftRoutes(ctx context.Context, eventID string) (int, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
	ListWebhookDLQ(ctx context.Context, limit int) ([]map[string]any, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// RequestFilter narrows ListRequests. Zero values match everything.
type RequestFilter struct {
	EventID     string
	Statuses    []model.RequestStatus
	Unassigned  bool
	ContactID   string
	DriverID    string
	NewestFirst bool
}

// Match applies the filter to a single record.
func (f RequestFilter) Match(r model.TransportRequest) bool {
	if f.EventID != "" && r.EventID != f.EventID {
		return false
	}
	if f.ContactID != "" && r.ContactID != f.ContactID {
		return false
	}
	if f.DriverID != "" && r.AssignedDriver != f.DriverID {
		return false
	}
	if f.Unassigned && !r.Unassigned() {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if r.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
