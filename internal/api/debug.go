package api

import (
	"net/http"
	"time"

	"churchtransport/internal/buildinfo"
)

// DebugJSON reports build info and non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":                 c.Port,
			"auth_mode":            c.AuthMode,
			"allow_origins":        c.AllowOrigins,
			"rate_rps":             c.RateRPS,
			"rate_burst":           c.RateBurst,
			"webhook_max_attempts": c.WebhookMaxAttempts,
			"notify_delay_ms":      c.NotifyDelay.Milliseconds(),
			"email_bypass_queue":   c.EmailBypassQueue,
			"church":               map[string]any{"lat": c.ChurchLat, "lng": c.ChurchLng, "address": c.ChurchAddress},
			"has_database_url":     c.DatabaseURL != "",
			"has_redis_url":        c.RedisURL != "",
			"missing":              c.Missing(),
		},
	})
}
