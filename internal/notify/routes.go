package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/internal/transport"
	"churchtransport/internal/webhooks"
	"churchtransport/pkg/logger"
)

// ErrNoRoutes is returned when an event has no draft routes with a driver to send.
var ErrNoRoutes = errors.New("no routes to send")

var routeEmail = template.Must(template.New("route").Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h1 style="color: #2563eb;">Transport Route Assignment</h1>
<p><strong>Event:</strong> {{.EventName}}</p>
<p><strong>Driver:</strong> {{.Driver}}</p>
{{if .Vehicle}}<p><strong>Vehicle:</strong> {{.Vehicle}}</p>{{end}}
<p><strong>Passengers:</strong> {{len .Stops}} pickup locations</p>
{{if .ETA}}<p><strong>Estimated time:</strong> {{.ETA}} ({{.Distance}})</p>{{end}}
<h3>Pickup Locations</h3>
{{range $i, $s := .Stops}}<div style="margin-bottom: 12px; padding: 12px; background: #f8fafc; border-left: 3px solid #3b82f6;">{{inc $i}}. {{$s.Address}}</div>
{{else}}<p><em>No pickup locations specified</em></p>
{{end}}
{{if .URL}}<p style="text-align: center;"><a href="{{.URL}}" style="background: #2563eb; color: white; padding: 16px 32px; text-decoration: none; border-radius: 8px;">Open Route in Google Maps</a></p>
{{else}}<p><strong>Route map unavailable.</strong> Please use the pickup addresses listed above.</p>
{{end}}
<p>Thank you for serving in our transport ministry!</p>
</div>`))

type routeView struct {
	EventName string
	Driver    string
	Vehicle   string
	URL       string
	ETA       string
	Distance  string
	Stops     []model.Waypoint
}

// RouteNotifier emails each driver their route and marks delivered routes sent.
type RouteNotifier struct {
	Store      store.Store
	Dispatcher *Dispatcher
	Events     transport.EventSink
	Log        logger.Logger
	now        func() time.Time
}

func NewRouteNotifier(s store.Store, d *Dispatcher, events transport.EventSink, log logger.Logger) *RouteNotifier {
	if events == nil {
		events = transport.NopSink
	}
	return &RouteNotifier{Store: s, Dispatcher: d, Events: events, Log: log, now: time.Now}
}

// RouteReport pairs the batch report with the routes that moved to sent.
type RouteReport struct {
	Report
	Sent []string `json:"sent_route_ids"`
}

// SendRoutes emails every draft route of the event that has a driver. Sent and completed routes
// are left alone. Only routes whose email was accepted become sent.
func (n *RouteNotifier) SendRoutes(ctx context.Context, eventID, eventName string) (RouteReport, error) {
	all, err := n.Store.ListRoutes(ctx, eventID)
	if err != nil {
		return RouteReport{}, fmt.Errorf("load routes: %w", err)
	}
	var routes []model.OptimizedRoute
	driverIDs, vehicleIDs := []string{}, []string{}
	for _, r := range all {
		if r.DriverID == "" || r.Status != model.RouteDraft {
			continue
		}
		routes = append(routes, r)
		driverIDs = append(driverIDs, r.DriverID)
		if r.VehicleID != "" {
			vehicleIDs = append(vehicleIDs, r.VehicleID)
		}
	}
	if len(routes) == 0 {
		return RouteReport{}, ErrNoRoutes
	}
	drivers, err := n.Store.ListDrivers(ctx, driverIDs)
	if err != nil {
		return RouteReport{}, fmt.Errorf("load drivers: %w", err)
	}
	vehicles, err := n.Store.ListVehicles(ctx, vehicleIDs)
	if err != nil {
		return RouteReport{}, fmt.Errorf("load vehicles: %w", err)
	}
	dByID := make(map[string]model.Driver, len(drivers))
	for _, d := range drivers {
		dByID[d.ID] = d
	}
	vByID := make(map[string]model.Vehicle, len(vehicles))
	for _, v := range vehicles {
		vByID[v.ID] = v
	}
	if eventName == "" {
		eventName = eventID
	}

	msgs := make([]Email, 0, len(routes))
	for _, r := range routes {
		d := dByID[r.DriverID]
		view := routeView{
			EventName: eventName,
			Driver:    d.Name,
			URL:       r.RouteURL,
			ETA:       r.RouteData.ETA,
			Distance:  r.RouteData.TotalDistance,
			Stops:     r.RouteData.Waypoints,
		}
		if view.URL == "" {
			view.URL = r.RouteData.URL
		}
		if v, ok := vByID[r.VehicleID]; ok {
			view.Vehicle = v.Describe()
		}
		var body bytes.Buffer
		if err := routeEmail.Execute(&body, view); err != nil {
			return RouteReport{}, fmt.Errorf("render route email: %w", err)
		}
		msgs = append(msgs, Email{
			To:        d.Email,
			Subject:   "Transport Route for " + eventName,
			HTML:      body.String(),
			EmailType: "events",
			Metadata: map[string]any{
				"event_id":       eventID,
				"route_id":       r.ID,
				"driver_id":      r.DriverID,
				"transport_type": "route_assignment",
			},
		})
	}

	out := RouteReport{Report: n.Dispatcher.Send(ctx, msgs), Sent: []string{}}
	for i, res := range out.Results {
		if !res.OK {
			continue
		}
		r := routes[i]
		at := n.now().UTC()
		r.Status = model.RouteSent
		r.SentAt = &at
		if _, err := n.Store.UpdateRoute(ctx, r); err != nil {
			n.Log.Error("mark route sent failed", "route_id", r.ID, "error", err)
			continue
		}
		out.Sent = append(out.Sent, r.ID)
		n.Events.Publish(ctx, eventID, webhooks.EventRouteSent, map[string]any{"route_id": r.ID, "driver_id": r.DriverID})
	}
	return out, nil
}
