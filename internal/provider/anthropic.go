package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ryelabs/rye/pkg/models"
)

const (
	anthropicDefaultModel     = "claude-sonnet-4-20250514"
	anthropicDefaultMaxTokens = 8192
)

// anthropicTiers maps abstract model tiers to concrete Anthropic models.
var anthropicTiers = map[string]string{
	"fast":     "claude-3-5-haiku-latest",
	"standard": "claude-sonnet-4-20250514",
	"premium":  "claude-opus-4-20250514",
}

// Anthropic is the Claude adapter built on the official SDK.
type Anthropic struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewAnthropic builds the adapter from cfg. The API key is required.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	cfg = cfg.withDefaults()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = anthropicDefaultModel
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:       anthropic.NewClient(options...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) ModelForTier(tier string) string {
	if m, ok := anthropicTiers[strings.ToLower(tier)]; ok {
		return m
	}
	return p.defaultModel
}

// Complete performs one non-streaming message call with retries.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params, err := p.buildParams(model, req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = withRetry(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrap(model, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.convertResponse(msg)
}

func (p *Anthropic) buildParams(model string, req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, p.wrap(model, err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, tool := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return anthropic.MessageNewParams{}, p.wrap(model, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err))
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}
	return params, nil
}

// convertAnthropicMessages maps transcript turns to the SDK's block form.
// Tool results ride in user messages; tool calls in assistant messages.
func convertAnthropicMessages(turns []models.Turn) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, turn := range turns {
		if turn.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if turn.Content != "" {
			content = append(content, anthropic.NewTextBlock(turn.Content))
		}
		for _, tr := range turn.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range turn.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if turn.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *Anthropic) convertResponse(msg *anthropic.Message) (*Response, error) {
	resp := &Response{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		StopReason:       string(msg.StopReason),
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

func (p *Anthropic) wrap(model string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &Error{Provider: "anthropic", Model: model, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &Error{Provider: "anthropic", Model: model, Err: err}
}
