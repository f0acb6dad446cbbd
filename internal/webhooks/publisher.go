package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"churchtransport/internal/store"
	"churchtransport/pkg/logger"
)

// Transport event types delivered to subscribers.
const (
	EventRequestAssigned  = "transport.request.assigned"
	EventRequestCompleted = "transport.request.completed"
	EventRequestCancelled = "transport.request.cancelled"
	EventRouteBuilt       = "transport.route.built"
	EventRouteSent        = "transport.route.sent"
	EventDriversStaffed   = "transport.event.staffed"
)

type Publisher struct {
	Store store.Store
	Log   logger.Logger
}

func NewPublisher(s store.Store, log logger.Logger) *Publisher {
	return &Publisher{Store: s, Log: log}
}

// Emit enqueues the event for every subscription listening to eventType. Failures are logged only.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	if p == nil || p.Store == nil {
		return
	}
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		p.Log.Warn("webhook subscriptions lookup failed", "event_type", eventType, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   "evt_" + uuid.New().String(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.Log.Error("webhook payload encode failed", "event_type", eventType, "error", err)
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("webhook enqueue failed", "event_type", eventType, "subscription_id", s.ID, "error", err)
		}
	}
}

// Publish tags data with the church event id and emits it. It lets the publisher stand in
// as the event sink where no live stream is attached, such as the CLI.
func (p *Publisher) Publish(ctx context.Context, eventID, eventType string, data map[string]any) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["event_id"] = eventID
	p.Emit(ctx, eventType, payload)
}
