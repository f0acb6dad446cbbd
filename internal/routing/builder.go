package routing

import (
	"context"
	"errors"
	"fmt"

	"churchtransport/internal/metrics"
	"churchtransport/internal/model"
	"churchtransport/internal/opt"
	"churchtransport/internal/store"
	"churchtransport/internal/transport"
	"churchtransport/internal/webhooks"
	"churchtransport/pkg/logger"
)

const (
	defaultPickupAddress = "Pickup location"
	syntheticAddress     = "Generated test location"
	syntheticStep        = 0.01
)

// ErrNoRequests is returned when an event has no pending or assigned requests to route.
var ErrNoRequests = errors.New("no transport requests to route")

// Base is the route origin (the church).
type Base struct {
	opt.Point
	Address string
}

// Builder turns an event's requests into a route through the external optimizer.
type Builder struct {
	Store     store.Store
	Optimizer Optimizer
	Events    transport.EventSink
	Log       logger.Logger
	Base      Base
}

func NewBuilder(s store.Store, o Optimizer, events transport.EventSink, base Base, log logger.Logger) *Builder {
	if events == nil {
		events = transport.NopSink
	}
	return &Builder{Store: s, Optimizer: o, Events: events, Log: log, Base: base}
}

// Outcome is a built route plus how it was obtained.
type Outcome struct {
	Route     model.RouteData `json:"route"`
	Synthetic bool            `json:"synthetic"`
	Fallback  bool            `json:"fallback"`
}

// BuildRoute returns the route for an event.
func (b *Builder) BuildRoute(ctx context.Context, eventID string) (model.RouteData, error) {
	out, err := b.Build(ctx, eventID)
	return out.Route, err
}

// Build loads pending and assigned requests, derives waypoints and calls the optimizer. When the
// build call fails the test route endpoint is tried once.
func (b *Builder) Build(ctx context.Context, eventID string) (Outcome, error) {
	reqs, err := b.Store.ListRequests(ctx, store.RequestFilter{
		EventID:  eventID,
		Statuses: []model.RequestStatus{model.RequestPending, model.RequestAssigned},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("load transport requests: %w", err)
	}
	if len(reqs) == 0 {
		return Outcome{}, ErrNoRequests
	}

	var res Outcome
	wps := Waypoints(reqs)
	if len(wps) == 0 {
		wps = b.syntheticWaypoints(reqs)
		res.Synthetic = true
		b.Log.Warn("route build: no request has coordinates, using generated waypoints", "event_id", eventID, "count", len(wps))
	}

	route, err := b.Optimizer.BuildTransportRoute(ctx, BuildRequest{EventID: eventID, Waypoints: wps, IsTestData: res.Synthetic})
	if err != nil {
		b.Log.Warn("route build failed, trying test route", "event_id", eventID, "error", err)
		fallback, ferr := b.Optimizer.TestRoute(ctx)
		if ferr != nil {
			metrics.RouteBuilds.WithLabelValues("failed").Inc()
			return Outcome{}, fmt.Errorf("build route: %w", errors.Join(err, fmt.Errorf("test route: %w", ferr)))
		}
		route = fallback
		res.Fallback = true
	}
	res.Route = route
	outcome := "primary"
	if res.Fallback {
		outcome = "fallback"
	}
	metrics.RouteBuilds.WithLabelValues(outcome).Inc()
	b.Events.Publish(ctx, eventID, webhooks.EventRouteBuilt, map[string]any{
		"url": route.URL, "waypoints": len(route.Waypoints), "synthetic": res.Synthetic, "fallback": res.Fallback,
	})
	return res, nil
}

// Waypoints keeps requests whose pickup has both coordinates, in request order.
func Waypoints(reqs []model.TransportRequest) []model.Waypoint {
	out := []model.Waypoint{}
	for _, r := range reqs {
		if !r.PickupLocation.HasCoordinates() {
			continue
		}
		addr := r.PickupLocation.Address
		if addr == "" {
			addr = defaultPickupAddress
		}
		out = append(out, model.Waypoint{
			RequestID: r.ID,
			Lat:       *r.PickupLocation.Lat,
			Lng:       *r.PickupLocation.Lng,
			Address:   addr,
			ContactID: r.ContactID,
		})
	}
	return out
}

func (b *Builder) syntheticWaypoints(reqs []model.TransportRequest) []model.Waypoint {
	out := make([]model.Waypoint, 0, len(reqs))
	for i, r := range reqs {
		off := float64(i) * syntheticStep
		out = append(out, model.Waypoint{
			RequestID: r.ID,
			Lat:       b.Base.Lat + off,
			Lng:       b.Base.Lng + off,
			Address:   syntheticAddress,
			ContactID: r.ContactID,
		})
	}
	return out
}
