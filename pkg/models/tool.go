package models

import "encoding/json"

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID uniquely identifies this call within a thread.
	ID string `json:"id"`

	// Name is the wire-level tool name (rye_execute, rye_search, ...).
	Name string `json:"name"`

	// Input is the raw JSON argument payload.
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool call, delivered back to the model.
type ToolResult struct {
	// ToolCallID links the result to its originating call.
	ToolCallID string `json:"tool_call_id"`

	// Content is the serialized result envelope or error message.
	Content string `json:"content"`

	// IsError marks denials, chain failures, and subprocess errors.
	// Errors are observable by the model, never raised past the loop.
	IsError bool `json:"is_error,omitempty"`
}

// EnvelopeStatus is the top-level status of a normalized tool envelope.
type EnvelopeStatus string

const (
	EnvelopeSuccess EnvelopeStatus = "success"
	EnvelopeError   EnvelopeStatus = "error"
)

// Envelope is the normalized result of a primitive execution.
type Envelope struct {
	Status EnvelopeStatus `json:"status"`
	Type   string         `json:"type"`
	ItemID string         `json:"item_id"`
	Data   map[string]any `json:"data,omitempty"`
}

// ErrorEnvelope builds an error envelope for an item with a message.
func ErrorEnvelope(itemID, msg string) *Envelope {
	return &Envelope{
		Status: EnvelopeError,
		Type:   "tool",
		ItemID: itemID,
		Data:   map[string]any{"error": msg},
	}
}

// JSON serializes the envelope; marshal failures degrade to a minimal
// hand-built error document rather than propagating.
func (e *Envelope) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return `{"status":"error","data":{"error":"envelope marshal failed"}}`
	}
	return string(data)
}
