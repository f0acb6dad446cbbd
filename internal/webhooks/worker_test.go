package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/pkg/logger"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func newTestWorker(rs *recordStore, client *http.Client, max int) *Worker {
	w := NewWorker(rs, max, logger.NewNop())
	w.HTTP = client
	return w
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotType = r.Header.Get(HeaderEventType)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotBody, _ = io.ReadAll(r.Body)
		if !VerifyRequest("secret", r.Header, gotBody, time.Minute, time.Now()) {
			w.WriteHeader(401)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 3)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "", EventRequestAssigned, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotSig == "" || gotTS == "" || gotType != EventRequestAssigned {
		t.Fatalf("missing signature/type headers: sig=%q ts=%q type=%q", gotSig, gotTS, gotType)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 2)
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), "", EventRouteSent, srv.URL, "", []byte(`{}`))

	w.processOnce()
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 {
		t.Fatalf("expected one retry mark, got %+v", rs.marks)
	}
	// make it due again
	if err := rs.Memory.RetryWebhookDelivery(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	w.processOnce()
	if len(rs.fails) != 1 || rs.fails[0].ID != id {
		t.Fatalf("expected dead-letter on second attempt, got %+v", rs.fails)
	}
}

func TestPublisherEmitEnqueuesPerSubscription(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{EventRouteBuilt}})
	m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{"*"}})
	m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://c", Events: []string{EventRouteSent}})
	NewPublisher(m, logger.NewNop()).Emit(ctx, EventRouteBuilt, map[string]any{"event_id": "e1"})
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(due))
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second {
		t.Fatal("unexpected backoff")
	}
	if nextBackoff(50) != time.Hour {
		t.Fatalf("backoff should cap at 1h, got %v", nextBackoff(50))
	}
}

func TestSignatureRejectsTamperingAndSkew(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"a":1}`)
	h := http.Header{}
	h.Set(HeaderTimestamp, "1700000000")
	h.Set(HeaderSignature, SignHMAC("s", now.Unix(), body))
	if !VerifyRequest("s", h, body, time.Minute, now) {
		t.Fatal("valid signature rejected")
	}
	if VerifyRequest("s", h, []byte(`{"a":2}`), time.Minute, now) {
		t.Fatal("tampered body accepted")
	}
	if VerifyRequest("s", h, body, time.Minute, now.Add(10*time.Minute)) {
		t.Fatal("stale timestamp accepted")
	}
}
