// Package main runs a demo WebSocket client for transport events of one church event.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body any, out any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: %s", path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatal(err)
		}
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	eventID := "demo-" + time.Now().Format("20060102")

	var contact struct {
		ID string `json:"id"`
	}
	post(base, "/v1/contacts", map[string]any{"first_name": "Demo", "last_name": "Rider"}, &contact)
	var tr struct {
		ID string `json:"id"`
	}
	post(base, "/v1/transport-requests", map[string]any{"event_id": eventID, "contact_id": contact.ID}, &tr)
	log.Printf("event %s request %s", eventID, tr.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/graphql/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{
		"query":     "subscription($eventId: ID!) { transportEvents(eventId: $eventId) }",
		"variables": map[string]any{"eventId": eventID},
	})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// cancelling the request publishes transport.request.cancelled
	time.Sleep(500 * time.Millisecond)
	post(base, "/v1/transport-requests/"+tr.ID+"/cancel", nil, nil)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
