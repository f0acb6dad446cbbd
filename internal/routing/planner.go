package routing

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"churchtransport/internal/model"
	"churchtransport/internal/opt"
	"churchtransport/internal/store"
	"churchtransport/internal/transport"
	"churchtransport/internal/webhooks"
	"churchtransport/pkg/logger"
)

const (
	mapsDirURL      = "https://www.google.com/maps/dir/"
	averageSpeedKmh = 40.0
	improveRounds   = 20
)

// Planner builds one draft route per driver from the requests already assigned to them.
type Planner struct {
	Store  store.Store
	Events transport.EventSink
	Log    logger.Logger
	Base   Base
}

func NewPlanner(s store.Store, events transport.EventSink, base Base, log logger.Logger) *Planner {
	if events == nil {
		events = transport.NopSink
	}
	return &Planner{Store: s, Events: events, Log: log, Base: base}
}

type driverGroup struct {
	driverID  string
	vehicleID string
	requests  []model.TransportRequest
}

// GenerateDriverRoutes replaces the event's draft routes with freshly ordered ones. Drivers whose
// route was already sent or completed keep it and get no new draft.
func (p *Planner) GenerateDriverRoutes(ctx context.Context, eventID string) ([]model.OptimizedRoute, error) {
	reqs, err := p.Store.ListRequests(ctx, store.RequestFilter{
		EventID:  eventID,
		Statuses: []model.RequestStatus{model.RequestAssigned},
	})
	if err != nil {
		return nil, fmt.Errorf("load assigned requests: %w", err)
	}
	groups := groupByDriver(reqs)
	if len(groups) == 0 {
		return nil, ErrNoRequests
	}
	existing, err := p.Store.ListRoutes(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	locked := map[string]bool{}
	for _, r := range existing {
		if r.Status != model.RouteDraft {
			locked[r.DriverID] = true
		}
	}
	open := groups[:0]
	for _, g := range groups {
		if locked[g.driverID] {
			p.Log.Info("driver already has a sent route, skipping", "event_id", eventID, "driver_id", g.driverID)
			continue
		}
		open = append(open, g)
	}
	groups = open

	driverIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		driverIDs = append(driverIDs, g.driverID)
	}
	drivers, err := p.Store.ListDrivers(ctx, driverIDs)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	names := make(map[string]string, len(drivers))
	for _, d := range drivers {
		names[d.ID] = d.Name
	}

	removed, err := p.Store.DeleteDraftRoutes(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("delete draft routes: %w", err)
	}
	if removed > 0 {
		p.Log.Debug("replaced draft routes", "event_id", eventID, "removed", removed)
	}

	out := make([]model.OptimizedRoute, 0, len(groups))
	for _, g := range groups {
		name := names[g.driverID]
		if name == "" {
			name = "Unknown Driver"
		}
		data := p.plan(g.requests)
		route, err := p.Store.CreateRoute(ctx, model.OptimizedRoute{
			EventID:   eventID,
			DriverID:  g.driverID,
			VehicleID: g.vehicleID,
			RouteName: name + " - Route",
			RouteData: data,
			RouteURL:  data.URL,
			Status:    model.RouteDraft,
		})
		if err != nil {
			p.Log.Error("store driver route failed", "event_id", eventID, "driver_id", g.driverID, "error", err)
			continue
		}
		out = append(out, route)
	}
	p.Events.Publish(ctx, eventID, webhooks.EventRouteBuilt, map[string]any{"routes": len(out)})
	p.Log.Info("driver routes generated", "event_id", eventID, "routes", len(out))
	return out, nil
}

func groupByDriver(reqs []model.TransportRequest) []*driverGroup {
	var groups []*driverGroup
	byDriver := map[string]*driverGroup{}
	for _, r := range reqs {
		if r.AssignedDriver == "" {
			continue
		}
		g, ok := byDriver[r.AssignedDriver]
		if !ok {
			g = &driverGroup{driverID: r.AssignedDriver, vehicleID: r.AssignedVehicle}
			byDriver[r.AssignedDriver] = g
			groups = append(groups, g)
		}
		g.requests = append(g.requests, r)
	}
	return groups
}

// plan orders the stops starting and ending at the base point.
func (p *Planner) plan(reqs []model.TransportRequest) model.RouteData {
	stops := make([]opt.Point, 0, len(reqs))
	wps := make([]model.Waypoint, 0, len(reqs))
	for _, r := range reqs {
		wp := model.Waypoint{RequestID: r.ID, ContactID: r.ContactID, Lat: p.Base.Lat, Lng: p.Base.Lng, Address: defaultPickupAddress}
		if r.PickupLocation != nil && r.PickupLocation.Address != "" {
			wp.Address = r.PickupLocation.Address
		}
		if r.PickupLocation.HasCoordinates() {
			wp.Lat, wp.Lng = *r.PickupLocation.Lat, *r.PickupLocation.Lng
		}
		wps = append(wps, wp)
		stops = append(stops, opt.Point{Lat: wp.Lat, Lng: wp.Lng})
	}
	order := opt.OrderStops(p.Base.Point, stops, improveRounds)
	ordered := make([]model.Waypoint, 0, len(order))
	for _, i := range order {
		ordered = append(ordered, wps[i])
	}
	km := opt.TourMeters(p.Base.Point, stops, order) / 1000
	return model.RouteData{
		URL:           MapsURL(p.Base.Point, ordered),
		ETA:           strconv.Itoa(int(math.Round(km/averageSpeedKmh*60))) + " mins",
		TotalDistance: fmt.Sprintf("%.1f km", km),
		Waypoints:     ordered,
	}
}

// MapsURL renders a Google Maps directions link from base through the stops and back.
func MapsURL(base opt.Point, stops []model.Waypoint) string {
	var b strings.Builder
	b.WriteString(mapsDirURL)
	writePoint := func(lat, lng float64) {
		b.WriteString(strconv.FormatFloat(lat, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(lng, 'f', -1, 64))
		b.WriteByte('/')
	}
	writePoint(base.Lat, base.Lng)
	for _, s := range stops {
		writePoint(s.Lat, s.Lng)
	}
	writePoint(base.Lat, base.Lng)
	return b.String()
}
