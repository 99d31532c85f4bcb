package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/starkbot/starkbot/pkg/models"
)

// OpenAICatalog is the fallback model list used when no richer discovery is
// configured. Context sizes follow the published defaults for each model
// family; callers running against a compatible third-party endpoint
// (Venice, OpenRouter, ...) should override via OpenAIConfig.Models.
var OpenAICatalog = []ModelInfo{
	{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
	{ID: "o3-mini", Name: "o3-mini", ContextSize: 200000, SupportsVision: false},
}

// OpenAIConfig configures an OpenAI-compatible client. Overriding BaseURL
// targets any OpenAI-compatible endpoint (Venice AI, OpenRouter, a local
// vLLM/Ollama gateway) without a separate implementation.
type OpenAIConfig struct {
	Name         string // provider identity for logging/failover, defaults to "openai"
	APIKey       string
	BaseURL      string
	DefaultModel string
	Models       []ModelInfo
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIClient implements ModelClient against any OpenAI Chat Completions
// compatible endpoint.
type OpenAIClient struct {
	name         string
	client       *openai.Client
	defaultModel string
	models       []ModelInfo
	retrier      Retrier
}

// NewOpenAIClient builds an OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai: API key is required")
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	catalog := cfg.Models
	if len(catalog) == 0 {
		catalog = OpenAICatalog
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" && len(catalog) > 0 {
		defaultModel = catalog[0].ID
	}
	return &OpenAIClient{
		name:         name,
		client:       openai.NewClientWithConfig(conf),
		defaultModel: defaultModel,
		models:       catalog,
		retrier:      NewRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (c *OpenAIClient) Name() string          { return c.name }
func (c *OpenAIClient) Models() []ModelInfo   { return c.models }
func (c *OpenAIClient) SupportsTools() bool   { return true }

// Generate issues a non-streaming chat completion and translates the
// response into a ModelResponse. The teacher's Venice integration streams
// and reassembles; since the Orchestrator's contract is synchronous this
// client calls the blocking completion endpoint directly instead of
// collecting a stream it would only flatten again.
func (c *OpenAIClient) Generate(ctx context.Context, conv *Conversation, tools []ToolSchema, opts GenerateOptions) (*ModelResponse, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(conv),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if len(tools) > 0 {
		req.Tools = convertOpenAITools(tools)
	}

	var resp openai.ChatCompletionResponse
	err := c.retrier.Do(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return &ProviderError{Reason: ClassifyError(callErr), Provider: c.name, Model: model, Message: callErr.Error(), Cause: callErr}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return &ModelResponse{StopReason: StopEndTurn}, nil
	}

	choice := resp.Choices[0]
	out := &ModelResponse{Usage: Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}}

	if choice.Message.Content != "" {
		out.ContentParts = append(out.ContentParts, ContentPart{Kind: PartText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ContentParts = append(out.ContentParts, ContentPart{
			Kind: PartToolCall,
			ToolCall: &models.ToolCall{
				CallID:    tc.ID,
				ToolName:  tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
				IssuedAt:  time.Now(),
			},
		})
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls:
		out.StopReason = StopToolUse
	case openai.FinishReasonLength:
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out, nil
}

func convertOpenAIMessages(conv *Conversation) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(conv.Messages)+1)
	if conv.System != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: conv.System})
	}
	for _, msg := range conv.Messages {
		switch msg.Role {
		case models.RoleToolResult:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.CallID,
				})
			}
		case models.RoleToolCall:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:       tc.CallID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.ToolName, Arguments: string(tc.Arguments)},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleAssistant:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content})
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func convertOpenAITools(tools []ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
