package relay

import (
	"bytes"
	"encoding/json"
)

// Body is the structured-or-opaque request payload union. At most one
// field is set: JSON payloads are sent with a JSON content type,
// raw payloads verbatim with none.
type Body struct {
	JSON json.RawMessage
	Raw  []byte
}

// Empty reports whether there is no payload at all.
func (b Body) Empty() bool {
	return b.JSON == nil && b.Raw == nil
}

// ClassifyBody decides the union arm for a decoded JSON value, once, at
// the boundary. Objects and arrays travel as JSON; a JSON string travels
// as its raw contents; any other scalar travels as its literal text.
func ClassifyBody(raw json.RawMessage) Body {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Body{}
	}
	switch trimmed[0] {
	case '{', '[':
		return Body{JSON: trimmed}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Body{Raw: []byte(s)}
		}
		return Body{Raw: trimmed}
	default:
		return Body{Raw: trimmed}
	}
}
