package api

import (
	"net/http"

	"churchtransport/openapi"
)

// OpenAPIHandler serves the OpenAPI document
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec)
}

// DocsHandler serves a minimal ReDoc page referencing /openapi.yaml
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>Church Transport API</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1">
<script src="https://cdn.jsdelivr.net/npm/redoc@next/bundles/redoc.standalone.js"></script>
</head><body>
<redoc spec-url="/openapi.yaml"></redoc>
</body></html>`))
}
