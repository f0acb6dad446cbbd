package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"churchtransport/internal/model"
)

func queryLimit(r *http.Request) int {
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	return limit
}

// SubscriptionsHandler handles GET/POST /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := validateSubscriptionRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeError(w, r, "Create subscription failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, next, err := s.Store.ListSubscriptions(r.Context(), r.URL.Query().Get("cursor"), queryLimit(r))
		if err != nil {
			writeError(w, r, "List subscriptions failed", err)
			return
		}
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/"), "/")
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		writeError(w, r, "Delete subscription failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler lists queued and finished deliveries.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeError(w, r, "List deliveries failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil {
		writeError(w, r, "Retry delivery failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// WebhookDLQHandler lists dead-lettered deliveries.
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	items, err := s.Store.ListWebhookDLQ(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, r, "List DLQ failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the record store; missing integrations are reported, not fatal.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "missing_config": s.Config.Missing()})
}
