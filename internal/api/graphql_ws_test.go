package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/graphql/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads until a message of the wanted type arrives, skipping server pings.
func readType(t *testing.T, conn *websocket.Conn, want string) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m wsMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if m.Type == want {
			return m
		}
		if m.Type != "ping" {
			t.Fatalf("expected %s, got %s (%s)", want, m.Type, m.Payload)
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, id, query string, vars map[string]any) {
	t.Helper()
	payload, _ := json.Marshal(subscribePayload{Query: query, Variables: vars})
	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: id, Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

func TestGraphQLWSStreamsTransportEvents(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialWS(t, s)

	_ = conn.WriteJSON(wsMessage{Type: "connection_init"})
	readType(t, conn, "connection_ack")
	subscribe(t, conn, "1", "subscription { transportEvents(eventId: $eventId) { type data } }", map[string]any{"eventId": "e1"})
	// messages are handled in order, so the pong means the subscription is registered
	_ = conn.WriteJSON(wsMessage{Type: "ping"})
	readType(t, conn, "pong")

	s.Broker.Publish("e2", SSEEvent{Type: "transport.request.created", Data: map[string]any{"request_id": "other"}})
	s.Broker.Publish("e1", SSEEvent{Type: "transport.request.assigned", Data: map[string]any{"request_id": "r1"}})

	m := readType(t, conn, "next")
	if m.ID != "1" {
		t.Fatalf("subscription id: %q", m.ID)
	}
	var body struct {
		Data struct {
			TransportEvents SSEEvent `json:"transportEvents"`
		} `json:"data"`
	}
	if err := json.Unmarshal(m.Payload, &body); err != nil {
		t.Fatal(err)
	}
	got := body.Data.TransportEvents
	if got.Type != "transport.request.assigned" || got.Data["request_id"] != "r1" {
		t.Fatalf("event: %+v", got)
	}

	_ = conn.WriteJSON(wsMessage{Type: "complete", ID: "1"})
	if m := readType(t, conn, "complete"); m.ID != "1" {
		t.Fatalf("complete id: %q", m.ID)
	}
}

func TestGraphQLWSRejectsBadSubscriptions(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialWS(t, s)
	_ = conn.WriteJSON(wsMessage{Type: "connection_init"})
	readType(t, conn, "connection_ack")

	subscribe(t, conn, "a", "subscription { orders }", nil)
	if m := readType(t, conn, "error"); m.ID != "a" {
		t.Fatalf("error id: %q", m.ID)
	}
	subscribe(t, conn, "b", "subscription { transportEvents { type } }", map[string]any{})
	m := readType(t, conn, "error")
	if m.ID != "b" || !strings.Contains(string(m.Payload), "eventId required") {
		t.Fatalf("missing eventId: %+v %s", m, m.Payload)
	}
}

func TestGraphQLWSRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = "hmac"
	cfg.AuthHMACSecret = "test-secret"
	ts := httptest.NewServer(newTestServer(t, cfg).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/graphql/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
