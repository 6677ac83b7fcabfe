package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// handleRoot serves a small service description at /.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Primavera P6 Bridge",
		"version": Version,
		"base":    s.cfg.BaseURL,
		"endpoints": []string{
			"/login",
			"/call",
			"/session/active",
			"/sessions/clear",
			"/obs/byName",
			"/obs/find",
			"/projects/list",
			"/projects/by_obs",
			"/health",
			"/mcp",
		},
	})
}

// handleManifest serves the MCP discovery document.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "primavera-p6-bridge",
		"version":     Version,
		"description": "Credential and session broker for the Oracle Primavera P6 REST API",
		"endpoints": map[string]string{
			"mcp":         "/mcp",
			"tool_schema": "/tool_schema.json",
			"health":      "/health",
		},
		"capabilities": map[string]any{
			"tools": true,
		},
	})
}

// handleToolSchema serves a hand-authored schema block for clients
// that read schemas out of band instead of over MCP.
func (s *Server) handleToolSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": []map[string]any{
			{
				"name":        "p6_login",
				"description": "Login to Oracle P6 and start a session",
				"input_schema": objectSchema(map[string]any{
					"username":     stringProp("P6 username"),
					"password":     stringProp("P6 password"),
					"databaseName": stringProp("P6 database instance name"),
					"remember":     boolProp("Keep credentials for auto-relogin"),
				}, "username", "password", "databaseName"),
			},
			{
				"name":        "p6_session_active",
				"description": "Return the latest active session",
				"input_schema": objectSchema(map[string]any{}),
			},
			{
				"name":        "p6_call",
				"description": "Generic proxy call to the P6 REST API",
				"input_schema": objectSchema(map[string]any{
					"session_id": stringProp("Session to use; omitted means auto-resolve"),
					"method":     stringProp("HTTP method"),
					"path":       stringProp("API path relative to the P6 base URL"),
					"query":      map[string]any{"type": "object", "description": "Query parameters"},
					"headers":    map[string]any{"type": "object", "description": "Extra request headers"},
					"body":       map[string]any{"description": "Request body, JSON or raw text"},
				}, "method", "path"),
			},
			{
				"name":        "p6_obs_find",
				"description": "Fuzzy search OBS by name",
				"input_schema": objectSchema(map[string]any{
					"session_id": stringProp("Session to use; omitted means auto-resolve"),
					"q":          stringProp("Substring to match against OBS names"),
					"fields":     stringProp("Fields to return"),
					"order_by":   stringProp("Sort order"),
					"limit":      map[string]any{"type": "integer", "description": "Max results"},
				}, "q"),
			},
			{
				"name":        "p6_projects_by_obs",
				"description": "List projects that belong to a given OBS",
				"input_schema": objectSchema(map[string]any{
					"session_id": stringProp("Session to use; omitted means auto-resolve"),
					"obs_name":   stringProp("Exact OBS name to resolve"),
					"obs_id":     stringProp("OBS ObjectId, skips name resolution"),
					"fields":     stringProp("Fields to return"),
					"order_by":   stringProp("Sort order"),
					"limit":      map[string]any{"type": "integer", "description": "Max results"},
				}),
			},
		},
	})
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
