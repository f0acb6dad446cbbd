package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"churchtransport/internal/model"
)

// table keeps rows by id in insertion order.
type table[T any] struct {
	order []string
	rows  map[string]T
}

func newTable[T any]() *table[T] { return &table[T]{rows: map[string]T{}} }

func (t *table[T]) put(id string, v T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = v
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

func (t *table[T]) remove(id string) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// list returns rows in insertion order; a non-nil ids slice restricts the result to those ids.
func (t *table[T]) list(ids []string) []T {
	out := []T{}
	if ids != nil {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		for _, id := range t.order {
			if want[id] {
				out = append(out, t.rows[id])
			}
		}
		return out
	}
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

// Memory is an in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	contacts *table[model.Contact]
	drivers  *table[model.Driver]
	vehicles *table[model.Vehicle]
	requests *table[model.TransportRequest]
	evDrv    *table[model.EventDriver]
	routes   *table[model.OptimizedRoute]
	subs     *table[model.Subscription]
	// Webhooks queue state
	deliveries *table[*memDelivery]
	dlq        []map[string]any
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		contacts:   newTable[model.Contact](),
		drivers:    newTable[model.Driver](),
		vehicles:   newTable[model.Vehicle](),
		requests:   newTable[model.TransportRequest](),
		evDrv:      newTable[model.EventDriver](),
		routes:     newTable[model.OptimizedRoute](),
		subs:       newTable[model.Subscription](),
		deliveries: newTable[*memDelivery](),
		dlq:        []map[string]any{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// Contacts

func (m *Memory) CreateContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = newID(c.ID)
	if _, ok := m.contacts.get(c.ID); ok {
		return model.Contact{}, fmt.Errorf("contact %s: %w", c.ID, ErrConflict)
	}
	m.contacts.put(c.ID, c)
	return c, nil
}

func (m *Memory) GetContact(ctx context.Context, id string) (model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts.get(id)
	if !ok {
		return model.Contact{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListContacts(ctx context.Context, ids []string) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contacts.list(ids), nil
}

func (m *Memory) UpdateContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts.get(c.ID); !ok {
		return model.Contact{}, ErrNotFound
	}
	m.contacts.put(c.ID, c)
	return c, nil
}

func (m *Memory) DeleteContact(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.contacts.remove(id) {
		return ErrNotFound
	}
	return nil
}

// Drivers

func (m *Memory) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = newID(d.ID)
	if _, ok := m.drivers.get(d.ID); ok {
		return model.Driver{}, fmt.Errorf("driver %s: %w", d.ID, ErrConflict)
	}
	m.drivers.put(d.ID, d)
	return d, nil
}

func (m *Memory) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers.get(id)
	if !ok {
		return model.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListDrivers(ctx context.Context, ids []string) ([]model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drivers.list(ids), nil
}

func (m *Memory) UpdateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers.get(d.ID); !ok {
		return model.Driver{}, ErrNotFound
	}
	m.drivers.put(d.ID, d)
	return d, nil
}

func (m *Memory) DeleteDriver(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.drivers.remove(id) {
		return ErrNotFound
	}
	return nil
}

// Vehicles

func (m *Memory) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = newID(v.ID)
	if _, ok := m.vehicles.get(v.ID); ok {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", v.ID, ErrConflict)
	}
	m.vehicles.put(v.ID, v)
	return v, nil
}

func (m *Memory) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles.get(id)
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) ListVehicles(ctx context.Context, ids []string) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vehicles.list(ids), nil
}

func (m *Memory) UpdateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles.get(v.ID); !ok {
		return model.Vehicle{}, ErrNotFound
	}
	m.vehicles.put(v.ID, v)
	return v, nil
}

func (m *Memory) DeleteVehicle(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.vehicles.remove(id) {
		return ErrNotFound
	}
	return nil
}

// Transport requests

func (m *Memory) CreateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = newID(r.ID)
	if _, ok := m.requests.get(r.ID); ok {
		return model.TransportRequest{}, fmt.Errorf("transport request %s: %w", r.ID, ErrConflict)
	}
	now := m.now()
	if r.RequestedAt.IsZero() {
		r.RequestedAt = now
	}
	r.UpdatedAt = now
	m.requests.put(r.ID, r)
	return r, nil
}

func (m *Memory) GetRequest(ctx context.Context, id string) (model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests.get(id)
	if !ok {
		return model.TransportRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRequests(ctx context.Context, f RequestFilter) ([]model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.TransportRequest{}
	for _, r := range m.requests.list(nil) {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	if f.NewestFirst {
		sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	}
	return out, nil
}

func (m *Memory) UpdateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests.get(r.ID)
	if !ok {
		return model.TransportRequest{}, ErrNotFound
	}
	r.RequestedAt = cur.RequestedAt
	r.UpdatedAt = m.now()
	m.requests.put(r.ID, r)
	return r, nil
}

func (m *Memory) DeleteRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.requests.remove(id) {
		return ErrNotFound
	}
	return nil
}

// Event drivers

func (m *Memory) AddEventDriver(ctx context.Context, ed model.EventDriver) (model.EventDriver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.evDrv.list(nil) {
		if cur.EventID == ed.EventID && cur.DriverID == ed.DriverID {
			return model.EventDriver{}, fmt.Errorf("driver %s already on event %s: %w", ed.DriverID, ed.EventID, ErrConflict)
		}
	}
	ed.ID = newID(ed.ID)
	if ed.AssignedAt.IsZero() {
		ed.AssignedAt = m.now()
	}
	m.evDrv.put(ed.ID, ed)
	return ed, nil
}

func (m *Memory) ListEventDrivers(ctx context.Context, eventID string, statuses ...model.EventDriverStatus) ([]model.EventDriver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.EventDriver{}
	for _, ed := range m.evDrv.list(nil) {
		if ed.EventID != eventID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, ed.Status) {
			continue
		}
		out = append(out, ed)
	}
	return out, nil
}

func containsStatus(list []model.EventDriverStatus, s model.EventDriverStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *Memory) RemoveEventDriver(ctx context.Context, eventID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ed := range m.evDrv.list(nil) {
		if ed.EventID == eventID && ed.DriverID == driverID {
			m.evDrv.remove(ed.ID)
			return nil
		}
	}
	return ErrNotFound
}

// Routes

func (m *Memory) CreateRoute(ctx context.Context, r model.OptimizedRoute) (model.OptimizedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = newID(r.ID)
	now := m.now()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Status == "" {
		r.Status = model.RouteDraft
	}
	m.routes.put(r.ID, r)
	return r, nil
}

func (m *Memory) GetRoute(ctx context.Context, id string) (model.OptimizedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes.get(id)
	if !ok {
		return model.OptimizedRoute{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRoutes(ctx context.Context, eventID string) ([]model.OptimizedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.OptimizedRoute{}
	for _, r := range m.routes.list(nil) {
		if eventID == "" || r.EventID == eventID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) UpdateRoute(ctx context.Context, r model.OptimizedRoute) (model.OptimizedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.routes.get(r.ID)
	if !ok {
		return model.OptimizedRoute{}, ErrNotFound
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = m.now()
	m.routes.put(r.ID, r)
	return r, nil
}

func (m *Memory) DeleteDraftRoutes(ctx context.Context, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.routes.list(nil) {
		if r.EventID == eventID && r.Status == model.RouteDraft {
			m.routes.remove(r.ID)
			n++
		}
	}
	return n, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs.put(s.ID, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs.list(nil) {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs.list(nil)
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.subs.remove(id) {
		return ErrNotFound
	}
	return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: m.now()}
	m.deliveries.put(id, d)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []WebhookDelivery{}
	for _, d := range m.deliveries.list(nil) {
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries.get(id)
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := m.now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries.get(id)
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.dlq = append(m.dlq, map[string]any{"deliveryId": id, "eventType": d.EventType, "url": d.URL, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs, "attempts": d.Attempts})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	all := m.deliveries.list(nil)
	start := 0
	if cursor != "" {
		for i, d := range all {
			if d.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []map[string]any{}
	next := ""
	for _, d := range all[start:] {
		if status != "" && d.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1]["id"].(string)
			break
		}
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		out = append(out, item)
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries.get(id)
	if !ok {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = m.now()
	return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]map[string]any{}, m.dlq...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }
