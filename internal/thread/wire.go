package thread

import (
	"encoding/json"

	"github.com/ryelabs/rye/internal/provider"
)

// Wire-level tool names exposed to the model.
const (
	wireExecute         = "rye_execute"
	wireSearch          = "rye_search"
	wireLoad            = "rye_load"
	wireSign            = "rye_sign"
	wireReturn          = "directive_return"
	wireThreadDirective = "thread_directive"
	wireOrchestrator    = "orchestrator"
)

// executeArgs is the payload of rye_execute, rye_search, rye_load, rye_sign.
type executeArgs struct {
	ItemType string          `json:"item_type"`
	ItemID   string          `json:"item_id"`
	Params   json.RawMessage `json:"params,omitempty"`
	Query    string          `json:"query,omitempty"`
}

// returnArgs is the payload of directive_return.
type returnArgs struct {
	Result  string            `json:"result,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// spawnArgs is the payload of thread_directive.
type spawnArgs struct {
	DirectiveID string            `json:"directive_id"`
	Inputs      map[string]string `json:"inputs,omitempty"`
	Async       bool              `json:"async,omitempty"`
}

// orchestratorArgs is the payload of the orchestrator dispatch tool.
type orchestratorArgs struct {
	Operation string          `json:"operation"`
	ThreadIDs []string        `json:"thread_ids,omitempty"`
	Message   string          `json:"message,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

func schema(doc string) json.RawMessage { return json.RawMessage(doc) }

// wireTools is the tool surface sent with every LLM call.
var wireTools = []provider.ToolDefinition{
	{
		Name:        wireExecute,
		Description: "Execute a tool, run a directive as a child thread, or retrieve a knowledge item.",
		InputSchema: schema(`{
			"type": "object",
			"required": ["item_type", "item_id"],
			"properties": {
				"item_type": {"type": "string", "enum": ["tool", "directive", "knowledge"]},
				"item_id": {"type": "string"},
				"params": {"type": "object"}
			}
		}`),
	},
	{
		Name:        wireSearch,
		Description: "Search items across project, user, and system spaces by id pattern.",
		InputSchema: schema(`{
			"type": "object",
			"required": ["item_type", "query"],
			"properties": {
				"item_type": {"type": "string", "enum": ["tool", "directive", "knowledge"]},
				"query": {"type": "string"}
			}
		}`),
	},
	{
		Name:        wireLoad,
		Description: "Load an item's content without executing it.",
		InputSchema: schema(`{
			"type": "object",
			"required": ["item_type", "item_id"],
			"properties": {
				"item_type": {"type": "string", "enum": ["tool", "directive", "knowledge"]},
				"item_id": {"type": "string"}
			}
		}`),
	},
	{
		Name:        wireSign,
		Description: "Sign an item in place with the runtime's key.",
		InputSchema: schema(`{
			"type": "object",
			"required": ["item_type", "item_id"],
			"properties": {
				"item_type": {"type": "string", "enum": ["tool", "directive", "knowledge"]},
				"item_id": {"type": "string"}
			}
		}`),
	},
	{
		Name:        wireReturn,
		Description: "Finish this directive, reporting the result and named outputs.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"result": {"type": "string"},
				"outputs": {"type": "object"}
			}
		}`),
	},
	{
		Name:        wireThreadDirective,
		Description: "Spawn a directive as a child thread; async returns immediately with the child id.",
		InputSchema: schema(`{
			"type": "object",
			"required": ["directive_id"],
			"properties": {
				"directive_id": {"type": "string"},
				"inputs": {"type": "object"},
				"async": {"type": "boolean"}
			}
		}`),
	},
	{
		Name:        wireOrchestrator,
		Description: "Thread-system operations: wait_threads, cancel_thread, kill_thread, get_status, list_active, aggregate_results, get_chain, chain_search, read_transcript, resume_thread, handoff_thread.",
		InputSchema: schema(`{
			"type": "object",
			"required": ["operation"],
			"properties": {
				"operation": {"type": "string"},
				"thread_ids": {"type": "array", "items": {"type": "string"}},
				"message": {"type": "string"}
			}
		}`),
	},
}
