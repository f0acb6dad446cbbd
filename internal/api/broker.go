package api

import (
	"sync"
)

// SSEEvent is one transport event pushed to live listeners of an event.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans transport events out per church event id.
type EventBroker interface {
	Subscribe(eventID string) chan SSEEvent
	Unsubscribe(eventID string, ch chan SSEEvent)
	Publish(eventID string, evt SSEEvent)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // eventId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(eventID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[eventID] == nil {
		b.subs[eventID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[eventID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(eventID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[eventID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, eventID)
	}
	close(ch)
}

// Publish drops the event for listeners whose buffer is full.
func (b *Broker) Publish(eventID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[eventID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
