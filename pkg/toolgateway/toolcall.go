package toolgateway

import (
	"encoding/json"
	"time"
)

// Status is the resolution state of a tool call. A call resolves to exactly
// one of Succeeded, Failed or TimedOut.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// ToolCall is one model-issued tool invocation request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}

	// Deadline overrides the gateway's default invocation timeout when
	// positive.
	Deadline time.Duration
}

// ToolResult is the single resolution of a ToolCall.
type ToolResult struct {
	CallID   string
	Status   Status
	Output   map[string]interface{}
	Error    string
	Duration time.Duration
}

// Payload renders the result as the JSON document injected back into the
// provider stream. Failures and timeouts become structured error payloads
// for the model to react to, never an orchestrator fault.
func (r ToolResult) Payload() string {
	var doc interface{}
	switch r.Status {
	case StatusSucceeded:
		doc = r.Output
	default:
		doc = map[string]interface{}{
			"error": map[string]interface{}{
				"kind":    string(r.Status),
				"message": r.Error,
			},
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return `{"error":{"kind":"failed","message":"unserializable tool result"}}`
	}
	return string(data)
}
