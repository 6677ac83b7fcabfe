package api

import (
	"encoding/json"
	"net/http"

	"github.com/p6tools/p6-bridge/pkg/relay"
)

// Default field lists for the convenience endpoints, matching the
// upstream OBS and Project resource shapes.
const (
	defaultOBSFields = "CreateDate,CreateUser,Description,GUID,LastUpdateDate," +
		"LastUpdateUser,Name,ObjectId,ParentObjectId,SequenceNumber"
	defaultProjectFields      = "Id,Code,Name,StartDate,FinishDate,GUID,Status"
	defaultProjectByOBSFields = "Id,Code,Name,StartDate,FinishDate,GUID,Status,OBSObjectId"
)

// The convenience endpoints are thin compositions over the relay engine:
// they pre-build an upstream query and introduce no state of their own.
// Internally generated query keys always win over anything the caller
// supplied; that overwrite-wins ordering is deliberate.

func (h *Handler) handleOBSByName(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	query := map[string]string{
		"Filter": "Name='" + name + "'",
		"Fields": orDefault(q.Get("fields"), defaultOBSFields),
	}
	if orderBy := q.Get("order_by"); orderBy != "" {
		query["OrderBy"] = orderBy
	}
	h.relayConvenience(w, r, "obs_by_name", "/obs", q.Get("session_id"), query)
}

func (h *Handler) handleOBSFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	needle := q.Get("q")
	if needle == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	query := map[string]string{
		"Filter":  "Name LIKE '%" + needle + "%'",
		"Fields":  orDefault(q.Get("fields"), defaultOBSFields),
		"OrderBy": orDefault(q.Get("order_by"), "Name"),
	}
	if limit := orDefault(q.Get("limit"), "50"); limit != "0" {
		query["MaxObjects"] = limit
	}
	h.relayConvenience(w, r, "obs_find", "/obs", q.Get("session_id"), query)
}

func (h *Handler) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := map[string]string{
		"Fields": orDefault(q.Get("fields"), defaultProjectFields),
	}
	if orderBy := q.Get("order_by"); orderBy != "" {
		query["OrderBy"] = orderBy
	}
	if filter := q.Get("filter"); filter != "" {
		query["Filter"] = filter
	}
	if limit := q.Get("limit"); limit != "" {
		query["MaxObjects"] = limit
	}
	h.relayConvenience(w, r, "projects_list", "/project", q.Get("session_id"), query)
}

func (h *Handler) handleProjectsByOBS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	obsID := q.Get("obs_id")
	obsName := q.Get("obs_name")

	if obsID == "" {
		if obsName == "" {
			writeError(w, http.StatusBadRequest, "Provide obs_name or obs_id")
			return
		}
		resolved, done := h.resolveOBSID(w, r, q.Get("session_id"), obsName)
		if done {
			return
		}
		obsID = resolved
	}

	query := map[string]string{
		"Fields":  orDefault(q.Get("fields"), defaultProjectByOBSFields),
		"OrderBy": orDefault(q.Get("order_by"), "Name"),
		"Filter":  "OBSObjectId='" + obsID + "'",
	}
	if limit := orDefault(q.Get("limit"), "100"); limit != "0" {
		query["MaxObjects"] = limit
	}
	h.relayConvenience(w, r, "projects_by_obs", "/project", q.Get("session_id"), query)
}

// resolveOBSID looks up an OBS ObjectId by exact name. The bool result
// reports whether a response has already been written (error or upstream
// failure relayed through).
func (h *Handler) resolveOBSID(w http.ResponseWriter, r *http.Request, sessionID, obsName string) (string, bool) {
	resp, err := h.engine.Relay(r.Context(), relay.Request{
		SessionID: sessionID,
		Method:    http.MethodGet,
		Path:      "/obs",
		Query: map[string]string{
			"Filter":     "Name='" + obsName + "'",
			"Fields":     "Name,ObjectId",
			"MaxObjects": "1",
		},
		Operation: "projects_by_obs",
	})
	if err != nil {
		writeRelayError(w, err)
		return "", true
	}
	if resp.Status >= 400 {
		writeProxyResponse(w, resp)
		return "", true
	}

	var items []map[string]any
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		writeError(w, http.StatusBadGateway, "Failed to parse OBS response")
		return "", true
	}
	if len(items) == 0 {
		writeError(w, http.StatusNotFound, "OBS '"+obsName+"' not found")
		return "", true
	}

	id, ok := items[0]["ObjectId"]
	if !ok {
		writeError(w, http.StatusBadGateway, "Failed to parse OBS response")
		return "", true
	}
	return stringify(id), false
}

// relayConvenience performs the shared relay-and-render step.
func (h *Handler) relayConvenience(w http.ResponseWriter, r *http.Request, operation, path, sessionID string, query map[string]string) {
	resp, err := h.engine.Relay(r.Context(), relay.Request{
		SessionID: sessionID,
		Method:    http.MethodGet,
		Path:      path,
		Query:     query,
		Operation: operation,
	})
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeProxyResponse(w, resp)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// stringify renders a decoded JSON scalar for query embedding.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
