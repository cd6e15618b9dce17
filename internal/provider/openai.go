package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ryelabs/rye/pkg/models"
)

const openaiDefaultModel = "gpt-4o"

// openaiTiers maps abstract model tiers to concrete OpenAI models.
var openaiTiers = map[string]string{
	"fast":     "gpt-4o-mini",
	"standard": "gpt-4o",
	"premium":  "o1",
}

// OpenAI is the GPT adapter built on go-openai.
type OpenAI struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewOpenAI builds the adapter from cfg. The API key is required.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg = cfg.withDefaults()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openaiDefaultModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) ModelForTier(tier string) string {
	if m, ok := openaiTiers[strings.ToLower(tier)]; ok {
		return m
	}
	return p.defaultModel
}

// Complete performs one chat completion with retries.
func (p *OpenAI) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Tools:    convertOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return p.wrap(model, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, p.wrap(model, errors.New("empty choices in response"))
	}

	choice := resp.Choices[0]
	out := &Response{
		Text:             choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		StopReason:       string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// convertOpenAIMessages maps transcript turns to chat messages. Each tool
// result becomes its own role=tool message linked by ToolCallID.
func convertOpenAIMessages(turns []models.Turn, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, turn := range turns {
		if turn.Role == models.RoleSystem {
			continue
		}

		if turn.Role == models.RoleAssistant {
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			}
			for _, tc := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, msg)
			continue
		}

		if turn.Content != "" {
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Content,
			})
		}
		for _, tr := range turn.ToolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func (p *OpenAI) wrap(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: "openai", Model: model, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	return &Error{Provider: "openai", Model: model, Err: err}
}
