package api

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/rickgao/efp-desk/internal/model"
)

// Endpoint paths relative to the REST base URL.
const (
	RunSnapshotPath  = "/api/efp/run"
	DestinationsPath = "/api/slack/destinations"
	CommandPath      = "/api/ai/chat"
	BlotterPath      = "/api/blotter/list"
	OrdersPath       = "/api/orders/list"
)

// CorrelationHeader carries the client-issued id of a dispatch.
const CorrelationHeader = "X-Correlation-ID"

// ErrMalformedReply is returned when a command reply is not valid JSON.
var ErrMalformedReply = errors.New("malformed command reply")

// DestinationsResponse from GET /api/slack/destinations
type DestinationsResponse struct {
	Destinations []model.Destination `json:"destinations"`
}

// CommandRequest is the body of POST /api/ai/chat.
type CommandRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`

	// CorrelationID is sent as a header, not in the body.
	CorrelationID string `json:"-"`
}

// CommandReply is a decoded command response. The backend may return any
// JSON document; known fields are extracted and the raw document is kept
// for display when none are present.
type CommandReply struct {
	Raw       json.RawMessage
	Detail    json.RawMessage
	Reply     json.RawMessage
	SessionID string
}

// ParseCommandReply decodes a command response body.
func ParseCommandReply(body []byte) (CommandReply, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return CommandReply{}, ErrMalformedReply
	}

	reply := CommandReply{Raw: json.RawMessage(trimmed)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		// Valid JSON that is not an object; only the raw form applies.
		return reply, nil
	}
	reply.Detail = fields["detail"]
	reply.Reply = fields["reply"]
	if raw, ok := fields["session_id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			reply.SessionID = id
		}
	}
	return reply, nil
}

// DisplayText returns the text to show for this reply: the detail field,
// then the reply field, then the whole document serialized.
func (r CommandReply) DisplayText() string {
	if text, ok := fieldText(r.Detail); ok {
		return text
	}
	if text, ok := fieldText(r.Reply); ok {
		return text
	}
	return compact(r.Raw)
}

// fieldText renders a present, non-empty field. Strings are returned as-is,
// other values are serialized. Empty strings, null, false and zero count as
// absent.
func fieldText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case bool:
		if !val {
			return "", false
		}
	case float64:
		if val == 0 {
			return "", false
		}
	}
	return compact(raw), true
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
