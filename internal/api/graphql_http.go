package api

import (
	"net/http"
	"strings"

	"churchtransport/internal/store"
)

// GraphQLHTTPHandler answers a small set of read queries selected by field name:
// transportRequests(eventId), routes(eventId), capacity(eventId).
func (s *Server) GraphQLHTTPHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	var body struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	eventID, _ := body.Variables["eventId"].(string)
	if eventID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing eventId", "", r.URL.Path)
		return
	}
	q := body.Query
	switch {
	case strings.Contains(q, "transportRequests"):
		items, err := s.Requests.ListWithRelations(r.Context(), store.RequestFilter{EventID: eventID})
		if err != nil {
			writeError(w, r, "Query failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"transportRequests": items}})
	case strings.Contains(q, "routes"):
		items, err := s.Store.ListRoutes(r.Context(), eventID)
		if err != nil {
			writeError(w, r, "Query failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"routes": items}})
	case strings.Contains(q, "capacity"):
		out, err := s.Requests.Capacity(r.Context(), eventID)
		if err != nil {
			writeError(w, r, "Query failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"capacity": out}})
	default:
		writeProblem(w, http.StatusBadRequest, "Unsupported query", "", r.URL.Path)
	}
}
