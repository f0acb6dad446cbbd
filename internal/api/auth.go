package api

import (
	"net/http"
	"strings"

	"churchtransport/internal/auth"
)

// getPrincipal resolves the caller. A bearer token goes through the verifier; in dev mode a
// request without one falls back to the X-Role and X-Driver-Id headers (default admin).
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		p, err := s.Auth.Verify(authz[len("Bearer "):])
		if err != nil {
			s.Log.Debug("token rejected", "path", r.URL.Path, "error", err)
			return auth.Principal{}, false
		}
		return p, true
	}
	if s.Config.AuthMode != "dev" {
		return auth.Principal{}, false
	}
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = auth.RoleAdmin
	}
	return auth.Principal{Subject: "dev", Role: role, DriverID: r.Header.Get("X-Driver-Id")}, true
}

// authorize writes a 401/403 problem and returns false when the caller may not proceed.
// manage requires admin or coordinator; reads accept any known role.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, manage bool) (auth.Principal, bool) {
	p, ok := s.getPrincipal(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
		return p, false
	}
	if manage && !p.CanManage() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin or coordinator required", r.URL.Path)
		return p, false
	}
	if !manage && p.Role != auth.RoleAdmin && p.Role != auth.RoleCoordinator && p.Role != auth.RoleDriver {
		writeProblem(w, http.StatusForbidden, "Forbidden", "unknown role", r.URL.Path)
		return p, false
	}
	return p, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	p, ok := s.authorize(w, r, true)
	if ok && !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return false
	}
	return ok
}
