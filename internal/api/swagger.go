package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	yaml "gopkg.in/yaml.v3"

	"churchtransport/openapi"
)

// SwaggerHandler serves Swagger UI with the OpenAPI document inlined and a role/token preset box.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
	var obj map[string]any
	if err := yaml.Unmarshal(openapi.Spec, &obj); err != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI parse failed", err.Error(), r.URL.Path)
		return
	}
	js, err := json.Marshal(obj)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI encode failed", err.Error(), r.URL.Path)
		return
	}
	b64 := base64.StdEncoding.EncodeToString(js)
	html := `<!DOCTYPE html><html lang="en"><head>
<title>Church Transport API Console</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width,initial-scale=1">
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css" />
<style>body{margin:0} .topbar{display:none} .cfg{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ddd;z-index:9}</style>
</head><body>
<div class="cfg">
  <div><strong>Auth</strong></div>
  <div><label>Role: <select id="role"><option>admin</option><option>coordinator</option><option>driver</option></select></label></div>
  <div><label>Bearer token: <input id="token" style="width:240px"></label></div>
  <button onclick="saveAuth()">Save</button>
</div>
<div id="swagger-ui"></div>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
<script>
const spec = JSON.parse(atob('` + b64 + `'));
function loadAuth(){
  const r=localStorage.getItem('role')||'admin'; const k=localStorage.getItem('token')||'';
  document.getElementById('role').value=r; document.getElementById('token').value=k;
  return {role:r, token:k};
}
function saveAuth(){ localStorage.setItem('role',document.getElementById('role').value); localStorage.setItem('token',document.getElementById('token').value); alert('Saved'); }
loadAuth();
SwaggerUIBundle({
  spec: spec,
  dom_id: '#swagger-ui',
  deepLinking: true,
  presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
  layout: "BaseLayout",
  requestInterceptor: (req) => {
    const p = loadAuth();
    req.headers['Authorization'] = 'Bearer ' + (p.token || p.role);
    return req;
  }
});
</script>
</body></html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
