// Package provider defines the LLM completion contract and ships the
// Anthropic and OpenAI adapters behind it. Threads talk to a Provider;
// everything vendor-specific stays on this side of the interface.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ryelabs/rye/pkg/models"
)

// ToolDefinition describes one dispatchable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object for the tool's parameters.
	InputSchema json.RawMessage
}

// Request is one completion call. Messages carry the full conversation so
// far; the provider is stateless between calls.
type Request struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []models.Turn
	Tools     []ToolDefinition
}

// Response is the assistant's reply for one turn, with token usage so the
// budget ledger can be debited.
type Response struct {
	Text             string
	ToolCalls        []models.ToolCall
	PromptTokens     int
	CompletionTokens int
	StopReason       string
}

// Provider is a completion backend. Implementations retry transient
// failures internally; an error from Complete is persistent.
type Provider interface {
	// Name returns the provider identifier used in config and logs.
	Name() string

	// Complete performs one model call and returns the assistant turn.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// ModelForTier maps an abstract model tier (fast, standard, premium)
	// to a concrete model id for this provider.
	ModelForTier(tier string) string
}

// Config selects and configures a provider backend.
type Config struct {
	// Name is "anthropic" or "openai".
	Name string

	APIKey  string
	BaseURL string

	// MaxRetries bounds retry attempts for transient failures; 0 applies
	// the default of 3.
	MaxRetries int

	// RetryDelay is the backoff base; actual delays double per attempt.
	RetryDelay time.Duration

	// DefaultModel is used when a directive names neither a model id nor
	// a tier.
	DefaultModel string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// New builds the provider named by cfg.Name.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "anthropic":
		return NewAnthropic(cfg)
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Name)
	}
}
