package models

import "encoding/json"

// EventKind discriminates the Event variant carried in a client stream.
type EventKind string

const (
	EventThinking           EventKind = "thinking"
	EventSessionInit        EventKind = "session_init"
	EventSessionOrphaned    EventKind = "session_orphaned"
	EventText               EventKind = "text"
	EventToolUse            EventKind = "tool_use"
	EventToolResult         EventKind = "tool_result"
	EventToolApprovalRequest EventKind = "tool_approval_request"
	EventToolState          EventKind = "tool_state"
	EventUsage              EventKind = "usage"
	EventFile               EventKind = "file"
	EventDone               EventKind = "done"
	EventError              EventKind = "error"
)

// MaxFileBytes is the largest File payload the router will forward; larger
// payloads are replaced with an Error event citing the size.
const MaxFileBytes = 10 * 1024 * 1024

// Usage carries per-response token accounting reported by an agent.
type Usage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
	Thinking   int64 `json:"thinking"`
}

// File is an attachment payload, size-capped at MaxFileBytes.
type File struct {
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	Bytes    []byte `json:"bytes"`
}

// Event is one item in a conversation's ordered event stream. Which of the
// optional fields are populated depends on Kind.
type Event struct {
	EventID      uint64          `json:"event_id"`
	RequestID    string          `json:"request_id"`
	Kind         EventKind       `json:"kind"`
	Text         string          `json:"text,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	ToolID       string          `json:"tool_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	InputJSON    json.RawMessage `json:"input_json,omitempty"`
	OutputJSON   json.RawMessage `json:"output_json,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	ToolState    ToolState       `json:"tool_state,omitempty"`
	Detail       string          `json:"detail,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	File         *File           `json:"file,omitempty"`
	FullResponse string          `json:"full_response,omitempty"`
	Message      string          `json:"message,omitempty"`
}
