// Package audit provides audit logging for relay traffic. Events carry
// enough to reconstruct who relayed what and how it went, and never carry
// credential material.
package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event records one relayed call.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id"`
	Operation  string    `json:"operation"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	Status     int       `json:"status,omitempty"`
	Retried    bool      `json:"retried,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`

	// Parameters are the caller-supplied call inputs, sanitized on
	// attachment.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// NewEvent creates an event for the named operation.
func NewEvent(operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
	}
}

// WithRequest attaches the relayed method and path.
func (e *Event) WithRequest(method, path string) *Event {
	e.Method = method
	e.Path = path
	return e
}

// WithSession attaches the resolved session id.
func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

// WithParameters attaches the call parameters. Values under sensitive
// keys are redacted here, so an Event never holds credential material.
func (e *Event) WithParameters(params map[string]any) *Event {
	e.Parameters = SanitizeParameters(params)
	return e
}

// WithRequestID attaches the per-call request id.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithResult records the outcome.
func (e *Event) WithResult(status int, retried bool, errMsg string, durationMS int64) *Event {
	e.Status = status
	e.Retried = retried
	e.Error = errMsg
	e.DurationMS = durationMS
	e.Success = errMsg == ""
	return e
}

// sensitiveKeys are parameter names whose values never reach a log line.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"username":      true,
	"secret":        true,
	"token":         true,
	"authtoken":     true,
	"api_key":       true,
	"authorization": true,
	"cookie":        true,
	"credentials":   true,
}

// SanitizeParameters returns a copy of params with sensitive values
// replaced by a redaction marker. Key matching is case-insensitive.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
