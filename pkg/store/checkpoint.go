package store

import (
	"time"
)

// Message is one conversation history entry. Immutable once appended; a
// session's history only grows.
type Message struct {
	Role      string          `json:"role"` // user, assistant, tool
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	ToolCall  *ToolCallRecord `json:"tool_call,omitempty"`
}

// ToolCallRecord captures a resolved tool invocation on a history entry.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
	Status    string `json:"status"`
}

// Checkpoint is the persisted snapshot of one session: which agent and flow
// state it was in and the conversation so far. Written at hand-off, before
// reconnect attempts, and on eviction, not on every turn.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Agent     string    `json:"agent"`
	State     string    `json:"state"`
	Summary   string    `json:"summary"`
	History   []Message `json:"history"`
	UpdatedAt time.Time `json:"updated_at"`
}
