package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/starkbot/starkbot/pkg/models"
)

// AnthropicCatalog is the fallback model list when richer discovery isn't
// configured.
var AnthropicCatalog = []ModelInfo{
	{ID: "claude-opus-4-5", Name: "Claude Opus 4.5", ContextSize: 200000, SupportsVision: true},
	{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextSize: 200000, SupportsVision: true},
	{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", ContextSize: 200000, SupportsVision: true},
}

// AnthropicConfig configures an Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicClient implements ModelClient against the Anthropic Messages API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	retrier      Retrier
}

// NewAnthropicClient builds an Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = AnthropicCatalog[0].ID
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
		retrier:      NewRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (c *AnthropicClient) Name() string        { return "anthropic" }
func (c *AnthropicClient) Models() []ModelInfo { return AnthropicCatalog }
func (c *AnthropicClient) SupportsTools() bool { return true }

// Generate issues a non-streaming Messages.New request and translates the
// response. Grounded on the teacher's AnthropicProvider, collapsed from its
// streaming event loop to a single blocking call.
func (c *AnthropicClient) Generate(ctx context.Context, conv *Conversation, tools []ToolSchema, opts GenerateOptions) (*ModelResponse, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := convertAnthropicMessages(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if conv.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: conv.System}}
	}
	if len(tools) > 0 {
		toolParams, err := convertAnthropicTools(tools)
		if err != nil {
			return nil, fmt.Errorf("llm: anthropic: %w", err)
		}
		params.Tools = toolParams
	}

	var msg *anthropic.Message
	err = c.retrier.Do(ctx, func() error {
		var callErr error
		msg, callErr = c.client.Messages.New(ctx, params)
		if callErr != nil {
			return &ProviderError{Reason: ClassifyError(callErr), Provider: "anthropic", Model: model, Message: callErr.Error(), Cause: callErr}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &ModelResponse{Usage: Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.ContentParts = append(out.ContentParts, ContentPart{Kind: PartText, Text: block.Text})
			}
		case "tool_use":
			out.ContentParts = append(out.ContentParts, ContentPart{
				Kind: PartToolCall,
				ToolCall: &models.ToolCall{
					CallID:    block.ID,
					ToolName:  block.Name,
					Arguments: json.RawMessage(block.Input),
					IssuedAt:  time.Now(),
				},
			})
		}
	}

	switch msg.StopReason {
	case "tool_use":
		out.StopReason = StopToolUse
	case "max_tokens":
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out, nil
}

func convertAnthropicMessages(messages []ConversationMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.CallID, tr.Content, !tr.Success))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.ToolName, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.CallID, input, tc.ToolName))
		}
		if len(content) == 0 {
			continue
		}

		var m anthropic.MessageParam
		if msg.Role == models.RoleAssistant || msg.Role == models.RoleToolCall {
			m = anthropic.NewAssistantMessage(content...)
		} else {
			// user, tool-result, and system-relay turns all map to the
			// user side of Anthropic's two-role conversation.
			m = anthropic.NewUserMessage(content...)
		}
		result = append(result, m)
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}
