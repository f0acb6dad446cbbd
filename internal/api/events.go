package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"churchtransport/internal/model"
	"churchtransport/internal/routing"
)

// EventsHandler dispatches /v1/events/{eventId}/...
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/events/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	eventID := parts[0]
	switch {
	case parts[1] == "drivers" && len(parts) == 2:
		s.eventDrivers(w, r, eventID)
	case parts[1] == "drivers" && len(parts) == 3:
		s.removeEventDriver(w, r, eventID, parts[2])
	case parts[1] == "auto-assign" && len(parts) == 2:
		s.autoAssign(w, r, eventID)
	case parts[1] == "staff" && len(parts) == 2:
		s.staffEvent(w, r, eventID)
	case parts[1] == "route" && len(parts) == 2:
		s.buildRoute(w, r, eventID)
	case parts[1] == "routes" && len(parts) == 2:
		s.eventRoutes(w, r, eventID)
	case parts[1] == "routes" && len(parts) == 3 && parts[2] == "send":
		s.sendRoutes(w, r, eventID)
	case parts[1] == "notify" && len(parts) == 2:
		s.notifyEvent(w, r, eventID)
	case parts[1] == "stream" && len(parts) == 2:
		s.streamEvent(w, r, eventID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) eventDrivers(w http.ResponseWriter, r *http.Request, eventID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.authorize(w, r, false); !ok {
			return
		}
		var statuses []model.EventDriverStatus
		if v := r.URL.Query().Get("status"); v != "" {
			st := model.EventDriverStatus(v)
			if !st.Valid() {
				writeProblem(w, http.StatusBadRequest, "Invalid status filter", fmt.Sprintf("unknown status %q", v), r.URL.Path)
				return
			}
			statuses = append(statuses, st)
		}
		items, err := s.Store.ListEventDrivers(r.Context(), eventID, statuses...)
		if err != nil {
			writeError(w, r, "List event drivers failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if _, ok := s.authorize(w, r, true); !ok {
			return
		}
		var ed model.EventDriver
		if !decodeJSON(w, r, &ed) {
			return
		}
		ed.ID, ed.EventID = "", eventID
		if err := ed.Validate(); err != nil {
			writeError(w, r, "Invalid event driver", err)
			return
		}
		if _, err := s.Store.GetDriver(r.Context(), ed.DriverID); err != nil {
			writeError(w, r, "Unknown driver", &model.ValidationError{Field: "driver_id", Reason: err.Error()})
			return
		}
		out, err := s.Store.AddEventDriver(r.Context(), ed)
		if err != nil {
			writeError(w, r, "Add event driver failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) removeEventDriver(w http.ResponseWriter, r *http.Request, eventID, driverID string) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	if err := s.Store.RemoveEventDriver(r.Context(), eventID, driverID); err != nil {
		writeError(w, r, "Remove event driver failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) autoAssign(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	res, err := s.Engine.AutoAssign(r.Context(), eventID)
	if err != nil {
		writeError(w, r, "Auto-assign failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     fmt.Sprintf("Assigned %d of %d pending requests", len(res.Assignments), len(res.Assignments)+len(res.Skipped)),
		"assignments": res.Assignments,
		"skipped":     res.Skipped,
	})
}

func (s *Server) staffEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	res, err := s.Engine.StaffEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, r, "Staff event failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) buildRoute(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	out, err := s.Builder.Build(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, routing.ErrNoRequests) {
			writeError(w, r, "No transport requests", err)
			return
		}
		writeProblem(w, http.StatusBadGateway, "Route service unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) eventRoutes(w http.ResponseWriter, r *http.Request, eventID string) {
	switch r.Method {
	case http.MethodGet:
		p, ok := s.authorize(w, r, false)
		if !ok {
			return
		}
		routes, err := s.Store.ListRoutes(r.Context(), eventID)
		if err != nil {
			writeError(w, r, "List routes failed", err)
			return
		}
		if !p.CanManage() {
			mine := []model.OptimizedRoute{}
			for _, rt := range routes {
				if rt.DriverID != "" && rt.DriverID == p.DriverID {
					mine = append(mine, rt)
				}
			}
			routes = mine
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": routes})
	case http.MethodPost:
		if _, ok := s.authorize(w, r, true); !ok {
			return
		}
		routes, err := s.Planner.GenerateDriverRoutes(r.Context(), eventID)
		if err != nil {
			writeError(w, r, "Generate routes failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": routes})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) sendRoutes(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	var body struct {
		EventName string `json:"event_name"`
	}
	if !decodeOptionalJSON(w, r, &body) {
		return
	}
	rep, err := s.Routes.SendRoutes(r.Context(), eventID, body.EventName)
	if err != nil {
		writeError(w, r, "Send routes failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) notifyEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	var body notifyBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := body.validate(); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid notification", err.Error(), r.URL.Path)
		return
	}
	rep := s.Mail.Broadcast(r.Context(), body.Recipients, body.Subject, body.HTML, body.EmailType)
	s.Log.Info("event notification sent", "event_id", eventID, "succeeded", rep.Succeeded, "failed", rep.Failed)
	writeJSON(w, http.StatusOK, rep)
}

// streamEvent serves transport events for one church event as SSE.
func (s *Server) streamEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, false); !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(eventID)
	defer s.Broker.Unsubscribe(eventID, ch)

	fmt.Fprintf(w, "event: heartbeat\ndata: {\"event_id\":%q,\"ts\":%q}\n\n", eventID, time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()
	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := jsonString(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case t := <-hb.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"event_id\":%q,\"ts\":%q}\n\n", eventID, t.UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// RouteByIDHandler handles GET /v1/routes/{id} and POST /v1/routes/{id}/sms
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/routes/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		p, ok := s.authorize(w, r, false)
		if !ok {
			return
		}
		rt, err := s.Store.GetRoute(r.Context(), id)
		if err != nil {
			writeError(w, r, "Route not found", err)
			return
		}
		if !p.CanManage() && (p.DriverID == "" || p.DriverID != rt.DriverID) {
			writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for this route", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rt)
	case action == "sms" && r.Method == http.MethodPost:
		if _, ok := s.authorize(w, r, true); !ok {
			return
		}
		var body struct {
			EventName string `json:"event_name"`
		}
		if !decodeOptionalJSON(w, r, &body) {
			return
		}
		rt, err := s.Store.GetRoute(r.Context(), id)
		if err != nil {
			writeError(w, r, "Route not found", err)
			return
		}
		if rt.DriverID == "" {
			writeProblem(w, http.StatusBadRequest, "Route has no driver", "", r.URL.Path)
			return
		}
		url := rt.RouteURL
		if url == "" {
			url = rt.RouteData.URL
		}
		name := body.EventName
		if name == "" {
			name = rt.EventID
		}
		if err := s.SMS.SendRouteSMS(r.Context(), rt.DriverID, url, name); err != nil {
			writeProblem(w, http.StatusBadGateway, "SMS send failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "route_id": rt.ID, "driver_id": rt.DriverID})
	case action == "" || action == "sms":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}
