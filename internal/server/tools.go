package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/p6tools/p6-bridge/pkg/p6"
	"github.com/p6tools/p6-bridge/pkg/relay"
	"github.com/p6tools/p6-bridge/pkg/session"
)

// newMCPServer creates the MCP server and registers the bridge tools.
// Each tool is a thin front over the same core the REST surface uses.
func (s *Server) newMCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "primavera-p6-bridge",
		Version: Version,
	}, nil)

	s.registerLoginTool(srv)
	s.registerSessionActiveTool(srv)
	s.registerCallTool(srv)
	s.registerOBSFindTool(srv)
	s.registerProjectsByOBSTool(srv)
	return srv
}

type loginInput struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	Remember     bool   `json:"remember,omitempty"`
}

func (s *Server) registerLoginTool(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name: "p6_login",
		Description: "Login to Oracle P6 and start a session. " +
			"Set remember=true to enable auto-relogin.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in loginInput) (*mcp.CallToolResult, any, error) {
		cookies, token, err := s.auth.Login(ctx, in.Username, in.Password, in.DatabaseName)
		if err != nil {
			return toolError(err), nil, nil
		}

		sess := &session.Session{
			Cookies:      cookies,
			AuthToken:    token,
			DatabaseName: in.DatabaseName,
		}
		if in.Remember {
			sess.Creds = &session.Credentials{
				Username:     in.Username,
				Password:     in.Password,
				DatabaseName: in.DatabaseName,
			}
		}
		id, err := s.store.Create(ctx, sess)
		if err != nil {
			return toolError(err), nil, nil
		}

		return toolJSON(map[string]any{
			"session_id": id,
			"cookies":    cookies,
			"authToken":  token,
			"remember":   in.Remember,
		})
	})
}

type sessionActiveInput struct{}

func (s *Server) registerSessionActiveTool(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "p6_session_active",
		Description: "Return the latest active session (session_id).",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ sessionActiveInput) (*mcp.CallToolResult, any, error) {
		sess, err := s.store.Latest(ctx)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return toolError(errors.New("no active sessions")), nil, nil
			}
			return toolError(err), nil, nil
		}
		return toolJSON(map[string]any{
			"session_id":         sess.ID,
			"created_at":         sess.FormatCreatedAt(),
			"auto_login_enabled": sess.AutoLogin(),
			"database":           sess.DatabaseName,
		})
	})
}

// allowedCallMethods mirrors the REST /call method allowlist.
var allowedCallMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

type callInput struct {
	SessionID string            `json:"session_id,omitempty"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Query     map[string]any    `json:"query,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
}

func (s *Server) registerCallTool(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name: "p6_call",
		Description: "Generic proxy call to the P6 REST API. " +
			"Auto-relogin if remember=true was used at login.",
	}, s.callTool)
}

func (s *Server) callTool(ctx context.Context, _ *mcp.CallToolRequest, in callInput) (*mcp.CallToolResult, any, error) {
	method := strings.ToUpper(in.Method)
	if !allowedCallMethods[method] {
		return toolError(errors.New("method must be one of GET, POST, PUT, PATCH, DELETE")), nil, nil
	}
	if in.Path == "" {
		return toolError(errors.New("path is required")), nil, nil
	}

	resp, err := s.engine.Relay(ctx, relay.Request{
		SessionID: in.SessionID,
		Method:    method,
		Path:      in.Path,
		Query:     stringifyToolQuery(in.Query),
		Headers:   in.Headers,
		Body:      relay.ClassifyBody(in.Body),
		Operation: "p6_call",
	})
	if err != nil {
		return toolError(err), nil, nil
	}
	return proxyResult(resp)
}

type obsFindInput struct {
	SessionID string `json:"session_id,omitempty"`
	Q         string `json:"q"`
	Fields    string `json:"fields,omitempty"`
	OrderBy   string `json:"order_by,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) registerOBSFindTool(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "p6_obs_find",
		Description: "Fuzzy search OBS by name (LIKE %q%).",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in obsFindInput) (*mcp.CallToolResult, any, error) {
		limit := in.Limit
		if limit == 0 {
			limit = 50
		}
		query := map[string]string{
			"Filter":     "Name LIKE '%" + in.Q + "%'",
			"Fields":     valueOr(in.Fields, defaultOBSToolFields),
			"OrderBy":    valueOr(in.OrderBy, "Name"),
			"MaxObjects": fmt.Sprintf("%d", limit),
		}
		resp, err := s.engine.Relay(ctx, relay.Request{
			SessionID: in.SessionID,
			Method:    http.MethodGet,
			Path:      "/obs",
			Query:     query,
			Operation: "p6_obs_find",
		})
		if err != nil {
			return toolError(err), nil, nil
		}
		return proxyResult(resp)
	})
}

type projectsByOBSInput struct {
	SessionID string `json:"session_id,omitempty"`
	OBSName   string `json:"obs_name,omitempty"`
	OBSID     string `json:"obs_id,omitempty"`
	Fields    string `json:"fields,omitempty"`
	OrderBy   string `json:"order_by,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) registerProjectsByOBSTool(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "p6_projects_by_obs",
		Description: "List projects that belong to a given OBS (by name or id).",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in projectsByOBSInput) (*mcp.CallToolResult, any, error) {
		obsID := in.OBSID
		if obsID == "" {
			if in.OBSName == "" {
				return toolError(errors.New("provide obs_name or obs_id")), nil, nil
			}
			resolved, result, err := s.resolveOBSIDTool(ctx, in.SessionID, in.OBSName)
			if result != nil || err != nil {
				return result, nil, err
			}
			obsID = resolved
		}

		limit := in.Limit
		if limit == 0 {
			limit = 100
		}
		query := map[string]string{
			"Fields":     valueOr(in.Fields, "Id,Code,Name,StartDate,FinishDate,GUID,Status,OBSObjectId"),
			"OrderBy":    valueOr(in.OrderBy, "Name"),
			"Filter":     "OBSObjectId='" + obsID + "'",
			"MaxObjects": fmt.Sprintf("%d", limit),
		}
		resp, err := s.engine.Relay(ctx, relay.Request{
			SessionID: in.SessionID,
			Method:    http.MethodGet,
			Path:      "/project",
			Query:     query,
			Operation: "p6_projects_by_obs",
		})
		if err != nil {
			return toolError(err), nil, nil
		}
		return proxyResult(resp)
	})
}

// resolveOBSIDTool resolves an OBS name to its ObjectId. A non-nil
// result means the resolution already produced the final tool reply.
func (s *Server) resolveOBSIDTool(ctx context.Context, sessionID, obsName string) (string, *mcp.CallToolResult, error) {
	resp, err := s.engine.Relay(ctx, relay.Request{
		SessionID: sessionID,
		Method:    http.MethodGet,
		Path:      "/obs",
		Query: map[string]string{
			"Filter":     "Name='" + obsName + "'",
			"Fields":     "Name,ObjectId",
			"MaxObjects": "1",
		},
		Operation: "p6_projects_by_obs",
	})
	if err != nil {
		return "", toolError(err), nil
	}
	if resp.Status >= 400 {
		result, _, err := proxyResult(resp)
		return "", result, err
	}

	var items []map[string]any
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return "", toolError(errors.New("failed to parse OBS response")), nil
	}
	if len(items) == 0 {
		return "", toolError(fmt.Errorf("OBS %q not found", obsName)), nil
	}
	id, ok := items[0]["ObjectId"].(string)
	if !ok {
		if n, isNum := items[0]["ObjectId"].(float64); isNum {
			return fmt.Sprintf("%.0f", n), nil, nil
		}
		return "", toolError(errors.New("failed to parse OBS response")), nil
	}
	return id, nil, nil
}

const defaultOBSToolFields = "CreateDate,CreateUser,Description,GUID," +
	"LastUpdateDate,LastUpdateUser,Name,ObjectId,ParentObjectId,SequenceNumber"

// proxyResult renders an upstream response as a tool reply.
func proxyResult(resp *p6.Response) (*mcp.CallToolResult, any, error) {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var body any = string(resp.Body)
	if resp.IsJSON() {
		var v any
		if err := json.Unmarshal(resp.Body, &v); err == nil {
			body = v
		}
	}

	return toolJSON(map[string]any{
		"status":  resp.Status,
		"headers": headers,
		"body":    body,
	})
}

// toolJSON marshals a payload into a text tool result.
func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// toolError reports a failure in the tool result rather than as a Go
// error, per MCP convention.
func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}
}

// stringifyToolQuery flattens tool query values to their wire form.
func stringifyToolQuery(query map[string]any) map[string]string {
	if query == nil {
		return nil
	}
	out := make(map[string]string, len(query))
	for k, v := range query {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
