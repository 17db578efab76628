// Package audit records every dispatched tool call for forensics: who asked
// for what, over which transport, and how it ended.
package audit

import "context"

// Entry records a single dispatched action.
type Entry struct {
	EntryID      string `json:"entry_id"`
	Timestamp    int64  `json:"timestamp"`
	Action       string `json:"action"`
	Transport    string `json:"transport"` // "http", "mcp" or "stdio"
	ConnectionID string `json:"connection_id"`
	Parameters   string `json:"parameters"`
	ErrorCode    string `json:"error_code"`
	Error        string `json:"error_message"`
	DurationMs   int64  `json:"duration_ms"`
	Status       string `json:"status"` // "success" or "error"
}

// Logger writes audit entries to storage.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	LogAsync(entry *Entry)
	Close() error
}
