package api

import (
	"context"
	"net/http"
	"strings"

	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/internal/transport"
)

// resource describes plain CRUD over one record table.
type resource[T any] struct {
	name     string
	prefix   string
	list     func(r *http.Request) ([]T, error)
	get      func(ctx context.Context, id string) (T, error)
	create   func(ctx context.Context, v T) (T, error)
	update   func(ctx context.Context, v T) (T, error)
	remove   func(ctx context.Context, id string) error
	validate func(v *T) error
	setID    func(v *T, id string)
}

// serveResource handles GET/POST on the collection and GET/PUT/DELETE on /{id}.
func serveResource[T any](s *Server, res resource[T], w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, res.prefix), "/")
	if strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	manage := r.Method != http.MethodGet
	if _, ok := s.authorize(w, r, manage); !ok {
		return
	}
	if id == "" {
		switch r.Method {
		case http.MethodGet:
			items, err := res.list(r)
			if err != nil {
				writeError(w, r, "List "+res.name+" failed", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			var v T
			if !decodeJSON(w, r, &v) {
				return
			}
			res.setID(&v, "")
			if err := res.validate(&v); err != nil {
				writeError(w, r, "Invalid "+res.name, err)
				return
			}
			out, err := res.create(r.Context(), v)
			if err != nil {
				writeError(w, r, "Create "+res.name+" failed", err)
				return
			}
			writeJSON(w, http.StatusCreated, out)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		out, err := res.get(r.Context(), id)
		if err != nil {
			writeError(w, r, res.name+" not found", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPut:
		var v T
		if !decodeJSON(w, r, &v) {
			return
		}
		res.setID(&v, id)
		if err := res.validate(&v); err != nil {
			writeError(w, r, "Invalid "+res.name, err)
			return
		}
		out, err := res.update(r.Context(), v)
		if err != nil {
			writeError(w, r, "Update "+res.name+" failed", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		if err := res.remove(r.Context(), id); err != nil {
			writeError(w, r, "Delete "+res.name+" failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ContactsHandler handles /v1/contacts and /v1/contacts/{id}
func (s *Server) ContactsHandler(w http.ResponseWriter, r *http.Request) {
	serveResource(s, resource[model.Contact]{
		name:     "contact",
		prefix:   "/v1/contacts",
		list:     func(r *http.Request) ([]model.Contact, error) { return s.Store.ListContacts(r.Context(), nil) },
		get:      s.Store.GetContact,
		create:   s.Store.CreateContact,
		update:   s.Store.UpdateContact,
		remove:   s.Store.DeleteContact,
		validate: (*model.Contact).Validate,
		setID:    func(c *model.Contact, id string) { c.ID = id },
	}, w, r)
}

// DriversHandler handles /v1/drivers[/{id}]; ?availability= filters on the derived availability.
func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
	serveResource(s, resource[model.Driver]{
		name:   "driver",
		prefix: "/v1/drivers",
		list: func(r *http.Request) ([]model.Driver, error) {
			all, err := s.Store.ListDrivers(r.Context(), nil)
			want := model.DriverAvailability(r.URL.Query().Get("availability"))
			if err != nil || want == "" {
				return all, err
			}
			out := []model.Driver{}
			for _, d := range all {
				if d.Availability() == want {
					out = append(out, d)
				}
			}
			return out, nil
		},
		get:      s.Store.GetDriver,
		create:   s.Store.CreateDriver,
		update:   s.Store.UpdateDriver,
		remove:   s.Store.DeleteDriver,
		validate: (*model.Driver).Validate,
		setID:    func(d *model.Driver, id string) { d.ID = id },
	}, w, r)
}

// VehiclesHandler handles /v1/vehicles[/{id}]; ?status= filters the list.
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	serveResource(s, resource[model.Vehicle]{
		name:   "vehicle",
		prefix: "/v1/vehicles",
		list: func(r *http.Request) ([]model.Vehicle, error) {
			all, err := s.Store.ListVehicles(r.Context(), nil)
			want := model.VehicleStatus(r.URL.Query().Get("status"))
			if err != nil || want == "" {
				return all, err
			}
			out := []model.Vehicle{}
			for _, v := range all {
				if v.Status == want {
					out = append(out, v)
				}
			}
			return out, nil
		},
		get:      s.Store.GetVehicle,
		create:   s.Store.CreateVehicle,
		update:   s.Store.UpdateVehicle,
		remove:   s.Store.DeleteVehicle,
		validate: (*model.Vehicle).Validate,
		setID:    func(v *model.Vehicle, id string) { v.ID = id },
	}, w, r)
}

// RequestsHandler handles GET/POST /v1/transport-requests
func (s *Server) RequestsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.authorize(w, r, false); !ok {
			return
		}
		q := r.URL.Query()
		f := store.RequestFilter{
			EventID:   q.Get("event_id"),
			ContactID: q.Get("contact_id"),
			DriverID:  q.Get("driver_id"),
		}
		if raw := q.Get("status"); raw != "" {
			st, err := model.ParseRequestStatuses(strings.Split(raw, ","))
			if err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid status filter", err.Error(), r.URL.Path)
				return
			}
			f.Statuses = st
		}
		if v := q.Get("unassigned"); v == "1" || strings.EqualFold(v, "true") {
			f.Unassigned = true
		}
		if strings.EqualFold(q.Get("order"), "newest") {
			f.NewestFirst = true
		}
		if v := q.Get("relations"); v == "1" || strings.EqualFold(v, "true") {
			items, err := s.Requests.ListWithRelations(r.Context(), f)
			if err != nil {
				writeError(w, r, "List transport requests failed", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
			return
		}
		items, err := s.Requests.List(r.Context(), f)
		if err != nil {
			writeError(w, r, "List transport requests failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if _, ok := s.authorize(w, r, true); !ok {
			return
		}
		var req model.TransportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		out, err := s.Requests.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, "Create transport request failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RequestByIDHandler handles /v1/transport-requests/{id} and its assign/complete/cancel actions.
func (s *Server) RequestByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/transport-requests/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if action != "" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, ok := s.authorize(w, r, true); !ok {
			return
		}
		var (
			out model.TransportRequest
			err error
		)
		switch action {
		case "assign":
			var body assignBody
			if !decodeJSON(w, r, &body) {
				return
			}
			out, err = s.Requests.Assign(r.Context(), id, body.DriverID, body.VehicleID)
		case "complete":
			out, err = s.Requests.Complete(r.Context(), id)
		case "cancel":
			out, err = s.Requests.Cancel(r.Context(), id)
		default:
			writeProblem(w, http.StatusNotFound, "Not Found", "unknown action "+action, r.URL.Path)
			return
		}
		if err != nil {
			writeError(w, r, "Transport request "+action+" failed", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, ok := s.authorize(w, r, false)
		if !ok {
			return
		}
		out, err := s.Requests.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, "Transport request not found", err)
			return
		}
		if !p.CanManage() && (p.DriverID == "" || out.AssignedDriver != p.DriverID) {
			writeProblem(w, http.StatusForbidden, "Forbidden", "request is not assigned to this driver", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPatch:
		if _, ok := s.authorize(w, r, true); !ok {
			return
		}
		var patch transport.Patch
		if !decodeJSON(w, r, &patch) {
			return
		}
		out, err := s.Requests.Update(r.Context(), id, patch)
		if err != nil {
			writeError(w, r, "Update transport request failed", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		if _, ok := s.authorize(w, r, true); !ok {
			return
		}
		if err := s.Requests.Delete(r.Context(), id); err != nil {
			writeError(w, r, "Delete transport request failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// CapacityHandler handles GET /v1/fleet/capacity?event_id=
func (s *Server) CapacityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing event_id", "", r.URL.Path)
		return
	}
	out, err := s.Requests.Capacity(r.Context(), eventID)
	if err != nil {
		writeError(w, r, "Capacity failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
