package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"churchtransport/internal/model"
	"churchtransport/internal/notify"
	"churchtransport/internal/remote"
	"churchtransport/internal/routing"
	"churchtransport/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	status := http.StatusInternalServerError
	var se *remote.StatusError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, model.ErrInvalidTransition):
		status = http.StatusConflict
	case model.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, routing.ErrNoRequests), errors.Is(err, notify.ErrNoRoutes):
		status = http.StatusBadRequest
	case errors.As(err, &se):
		status = http.StatusBadGateway
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}
