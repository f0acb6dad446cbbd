package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/pkg/logger"
)

// mailServer is a fake mail service; recipients listed in fail get success=false.
type mailServer struct {
	mu    sync.Mutex
	paths []string
	got   []Email
	at    []time.Time
	fail  map[string]bool
}

func (s *mailServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var e Email
	_ = json.NewDecoder(r.Body).Decode(&e)
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.got = append(s.got, e)
	s.at = append(s.at, time.Now())
	s.mu.Unlock()
	if s.fail[e.To] {
		_ = json.NewEncoder(w).Encode(Receipt{Success: false, Error: "mailbox unavailable"})
		return
	}
	_ = json.NewEncoder(w).Encode(Receipt{Success: true, Sender: "transport@church.test", MessageID: "m-" + e.To})
}

func newMail(t *testing.T, fail ...string) (*mailServer, *HTTPMailer) {
	t.Helper()
	ms := &mailServer{fail: map[string]bool{}}
	for _, f := range fail {
		ms.fail[f] = true
	}
	srv := httptest.NewServer(ms)
	t.Cleanup(srv.Close)
	return ms, NewHTTPMailer(srv.URL, true, 2*time.Second)
}

func TestHTTPMailerEndpoints(t *testing.T) {
	ms, m := newMail(t)
	if _, err := m.Send(context.Background(), Email{To: "a@x.test", Subject: "hi", HTML: "<p>hi</p>", EmailType: "events"}); err != nil {
		t.Fatal(err)
	}
	m.BypassQueue = false
	m.Send(context.Background(), Email{To: "b@x.test"})
	if ms.paths[0] != "/api/email/bypass-queue" || ms.paths[1] != "/api/email/send" {
		t.Fatalf("paths: %v", ms.paths)
	}
	if ms.got[0].EmailType != "events" || ms.got[0].HTML != "<p>hi</p>" {
		t.Fatalf("body: %+v", ms.got[0])
	}
}

func TestHTTPMailerReportsServiceFailure(t *testing.T) {
	_, m := newMail(t, "bad@x.test")
	rc, err := m.Send(context.Background(), Email{To: "bad@x.test"})
	if err == nil || !strings.Contains(err.Error(), "mailbox unavailable") || rc.Success {
		t.Fatalf("expected failure, got %+v %v", rc, err)
	}
}

func TestDispatcherContinuesPastFailures(t *testing.T) {
	ms, m := newMail(t, "2@x.test", "4@x.test")
	d := NewDispatcher(m, 20*time.Millisecond, logger.NewNop())
	var msgs []Email
	for _, to := range []string{"1@x.test", "2@x.test", "3@x.test", "4@x.test", "5@x.test"} {
		msgs = append(msgs, Email{To: to, Subject: "s"})
	}
	rep := d.Send(context.Background(), msgs)
	if rep.Attempted != 5 || rep.Succeeded != 3 || rep.Failed != 2 {
		t.Fatalf("report: %+v", rep)
	}
	if rep.Results[1].OK || rep.Results[1].Error == "" || !rep.Results[2].OK || rep.Results[2].Sender != "transport@church.test" {
		t.Fatalf("results: %+v", rep.Results)
	}
	// sequential and spaced
	for i := 1; i < len(ms.at); i++ {
		if gap := ms.at[i].Sub(ms.at[i-1]); gap < 15*time.Millisecond {
			t.Fatalf("send %d only %v after the previous one", i, gap)
		}
	}
}

func TestDispatcherMissingAddressSkipsCall(t *testing.T) {
	ms, m := newMail(t)
	d := NewDispatcher(m, 0, logger.NewNop())
	rep := d.Send(context.Background(), []Email{{To: ""}, {To: "ok@x.test"}})
	if rep.Failed != 1 || rep.Succeeded != 1 || rep.Results[0].Error != "no email address" {
		t.Fatalf("report: %+v", rep)
	}
	if len(ms.got) != 1 {
		t.Fatalf("mail service called %d times", len(ms.got))
	}
}

func TestDispatcherCancelledContext(t *testing.T) {
	ms, m := newMail(t)
	d := NewDispatcher(m, time.Hour, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := d.Send(ctx, []Email{{To: "a@x.test"}, {To: "b@x.test"}})
	if rep.Attempted != 2 || rep.Failed != 2 || len(ms.got) != 0 {
		t.Fatalf("report: %+v calls=%d", rep, len(ms.got))
	}
	if !strings.Contains(rep.Results[0].Error, context.Canceled.Error()) {
		t.Fatalf("error: %q", rep.Results[0].Error)
	}
}

func TestBroadcastPersonalizes(t *testing.T) {
	ms, m := newMail(t)
	d := NewDispatcher(m, 0, logger.NewNop())
	rep := d.Broadcast(context.Background(), []Recipient{{Name: "Ann", Email: "ann@x.test"}}, "Service moved", "<p>Hi {{name}}</p>", "")
	if rep.Succeeded != 1 || ms.got[0].HTML != "<p>Hi Ann</p>" || ms.got[0].EmailType != "events" {
		t.Fatalf("broadcast: %+v %+v", rep, ms.got)
	}
}

func TestSendRouteSMS(t *testing.T) {
	var got routeSMS
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send_route_sms" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewSMSClient(srv.URL, "secret", time.Second).SendRouteSMS(context.Background(), "d1", "https://maps", "Sunday Service"); err != nil {
		t.Fatal(err)
	}
	if got.DriverID != "d1" || got.RouteURL != "https://maps" || got.EventName != "Sunday Service" {
		t.Fatalf("payload: %+v", got)
	}
	if err := NewSMSClient(srv.URL, "wrong", time.Second).SendRouteSMS(context.Background(), "d1", "u", "e"); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestSendRoutesMarksOnlyDelivered(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	v, _ := m.CreateVehicle(ctx, model.Vehicle{Make: "Ford", Model: "Transit", LicensePlate: "CH-7", Capacity: 8, Status: model.VehicleAvailable})
	ok, _ := m.CreateDriver(ctx, model.Driver{Name: "Ann", Email: "ann@x.test"})
	bad, _ := m.CreateDriver(ctx, model.Driver{Name: "Ben", Email: "ben@x.test"})
	none, _ := m.CreateDriver(ctx, model.Driver{Name: "Cy"})
	mk := func(d model.Driver) model.OptimizedRoute {
		r, _ := m.CreateRoute(ctx, model.OptimizedRoute{EventID: "e1", DriverID: d.ID, VehicleID: v.ID, RouteURL: "https://maps/" + d.Name,
			RouteData: model.RouteData{ETA: "12 mins", TotalDistance: "8.0 km", Waypoints: []model.Waypoint{{Address: "9 Elm"}}}})
		return r
	}
	rOK, rBad, rNone := mk(ok), mk(bad), mk(none)

	ms, mailer := newMail(t, "ben@x.test")
	n := NewRouteNotifier(m, NewDispatcher(mailer, 0, logger.NewNop()), nil, logger.NewNop())
	rep, err := n.SendRoutes(ctx, "e1", "Sunday Service")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Attempted != 3 || rep.Succeeded != 1 || len(rep.Sent) != 1 || rep.Sent[0] != rOK.ID {
		t.Fatalf("report: %+v", rep)
	}
	sent, _ := m.GetRoute(ctx, rOK.ID)
	if sent.Status != model.RouteSent || sent.SentAt == nil {
		t.Fatalf("delivered route: %+v", sent)
	}
	for _, id := range []string{rBad.ID, rNone.ID} {
		r, _ := m.GetRoute(ctx, id)
		if r.Status != model.RouteDraft || r.SentAt != nil {
			t.Fatalf("undelivered route changed: %+v", r)
		}
	}
	e := ms.got[0]
	if e.Subject != "Transport Route for Sunday Service" || e.EmailType != "events" || e.Metadata["transport_type"] != "route_assignment" || e.Metadata["route_id"] != rOK.ID {
		t.Fatalf("email: %+v", e)
	}
	if !strings.Contains(e.HTML, "Ford Transit (CH-7)") || !strings.Contains(e.HTML, "https://maps/Ann") || !strings.Contains(e.HTML, "1. 9 Elm") {
		t.Fatalf("html: %s", e.HTML)
	}
}

func TestSendRoutesOnlySendsDrafts(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	mk := func(name string, status model.RouteStatus) model.OptimizedRoute {
		d, _ := m.CreateDriver(ctx, model.Driver{Name: name, Email: name + "@x.test"})
		r, _ := m.CreateRoute(ctx, model.OptimizedRoute{EventID: "e1", DriverID: d.ID, RouteURL: "https://maps/" + name, Status: status})
		return r
	}
	draft := mk("ann", model.RouteDraft)
	sent := mk("ben", model.RouteSent)
	done := mk("cy", model.RouteCompleted)

	ms, mailer := newMail(t)
	n := NewRouteNotifier(m, NewDispatcher(mailer, 0, logger.NewNop()), nil, logger.NewNop())
	rep, err := n.SendRoutes(ctx, "e1", "Ev")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Attempted != 1 || len(ms.got) != 1 || ms.got[0].To != "ann@x.test" || len(rep.Sent) != 1 || rep.Sent[0] != draft.ID {
		t.Fatalf("report=%+v mails=%d", rep, len(ms.got))
	}
	if r, _ := m.GetRoute(ctx, done.ID); r.Status != model.RouteCompleted || r.SentAt != nil {
		t.Fatalf("completed route changed: %+v", r)
	}
	if r, _ := m.GetRoute(ctx, sent.ID); r.Status != model.RouteSent {
		t.Fatalf("sent route changed: %+v", r)
	}

	// nothing left in draft
	if _, err := n.SendRoutes(ctx, "e1", "Ev"); !errors.Is(err, ErrNoRoutes) {
		t.Fatalf("second send: %v", err)
	}
	if len(ms.got) != 1 {
		t.Fatalf("duplicate emails: %d", len(ms.got))
	}
}

func TestSendRoutesNoRoutes(t *testing.T) {
	_, mailer := newMail(t)
	n := NewRouteNotifier(store.NewMemory(), NewDispatcher(mailer, 0, logger.NewNop()), nil, logger.NewNop())
	if _, err := n.SendRoutes(context.Background(), "e1", ""); !errors.Is(err, ErrNoRoutes) {
		t.Fatalf("expected ErrNoRoutes, got %v", err)
	}
}
