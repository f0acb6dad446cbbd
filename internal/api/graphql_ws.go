package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Minimal GraphQL over WebSocket (graphql-transport-ws like) streaming transportEvents.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// GraphQLWSHandler handles /graphql/ws
func (s *Server) GraphQLWSHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, false); !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		eventID string
		ch      chan SSEEvent
	}
	subs := map[string]sub{}
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}
	fail := func(id, msg string) {
		payload, _ := json.Marshal([]map[string]string{{"message": msg}})
		_ = write(wsMessage{Type: "error", ID: id, Payload: payload})
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			if !strings.Contains(pl.Query, "transportEvents") {
				fail(msg.ID, "only transportEvents subscriptions are supported")
				continue
			}
			eid, _ := pl.Variables["eventId"].(string)
			if eid == "" {
				fail(msg.ID, "eventId required")
				continue
			}
			if _, dup := subs[msg.ID]; dup {
				fail(msg.ID, "subscription id already in use")
				continue
			}
			ch := s.Broker.Subscribe(eid)
			subs[msg.ID] = sub{eventID: eid, ch: ch}
			go func(id string, c chan SSEEvent) {
				for evt := range c {
					payload, _ := json.Marshal(map[string]any{"data": map[string]any{
						"transportEvents": map[string]any{"type": evt.Type, "data": evt.Data},
					}})
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.eventID, s0.ch)
				delete(subs, msg.ID)
			}
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.eventID, s0.ch)
		delete(subs, id)
	}
}
