package models

import "time"

// ThreadStatus is the lifecycle state of a managed thread.
type ThreadStatus string

const (
	StatusRunning         ThreadStatus = "running"
	StatusCompleted       ThreadStatus = "completed"
	StatusFailed          ThreadStatus = "failed"
	StatusEscalated       ThreadStatus = "escalated"
	StatusCancelled       ThreadStatus = "cancelled"
	StatusKilled          ThreadStatus = "killed"
	StatusAwaitingHandoff ThreadStatus = "awaiting_handoff"
)

// Terminal reports whether no further turns will run without a resume.
func (s ThreadStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusEscalated, StatusCancelled, StatusKilled:
		return true
	}
	return false
}

// TurnRole identifies the author of a transcript turn.
type TurnRole string

const (
	RoleSystem    TurnRole = "system"
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// Turn is one entry in a thread's ordered history.
type Turn struct {
	Role        TurnRole     `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Token accounting for LLM turns; zero for tool turns.
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ThreadResult is the envelope returned to callers when a thread reaches a
// terminal status (or is observed mid-flight through the orchestrator).
type ThreadResult struct {
	ThreadID string        `json:"thread_id"`
	Status   ThreadStatus  `json:"status"`
	CostUSD  float64       `json:"cost"`
	Tokens   int           `json:"tokens"`
	Turns    int           `json:"turns"`
	Duration time.Duration `json:"duration"`
	Result   string        `json:"result,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
}
