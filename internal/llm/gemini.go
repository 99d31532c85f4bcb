package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/starkbot/starkbot/pkg/models"
)

// GeminiCatalog is the fallback model list when no discovery is wired.
var GeminiCatalog = []ModelInfo{
	{ID: "gemini-3-pro", Name: "Gemini 3 Pro", ContextSize: 2000000, SupportsVision: true},
	{ID: "gemini-3-flash", Name: "Gemini 3 Flash", ContextSize: 1000000, SupportsVision: true},
}

// GeminiConfig configures a Google Gemini client.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GeminiClient implements ModelClient against Google's Gemini API, grounded
// on the teacher's GoogleProvider and toolconv's schema conversion.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
	retrier      Retrier
}

// NewGeminiClient builds a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: %w", err)
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = GeminiCatalog[0].ID
	}
	return &GeminiClient{
		client:       client,
		defaultModel: defaultModel,
		retrier:      NewRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (c *GeminiClient) Name() string        { return "gemini" }
func (c *GeminiClient) Models() []ModelInfo { return GeminiCatalog }
func (c *GeminiClient) SupportsTools() bool { return true }

// Generate issues a non-streaming GenerateContent call.
func (c *GeminiClient) Generate(ctx context.Context, conv *Conversation, tools []ToolSchema, opts GenerateOptions) (*ModelResponse, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	contents, err := convertGeminiMessages(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if conv.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: conv.System}}}
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		config.Temperature = &t
	}
	if len(tools) > 0 {
		config.Tools = convertGeminiTools(tools)
	}

	var resp *genai.GenerateContentResponse
	err = c.retrier.Do(ctx, func() error {
		var callErr error
		resp, callErr = c.client.Models.GenerateContent(ctx, model, contents, config)
		if callErr != nil {
			return &ProviderError{Reason: ClassifyError(callErr), Provider: "gemini", Model: model, Message: callErr.Error(), Cause: callErr}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &ModelResponse{StopReason: StopEndTurn}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.ContentParts = append(out.ContentParts, ContentPart{Kind: PartText, Text: part.Text})
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				out.StopReason = StopToolUse
				out.ContentParts = append(out.ContentParts, ContentPart{
					Kind: PartToolCall,
					ToolCall: &models.ToolCall{
						CallID:    fmt.Sprintf("%s-%d", part.FunctionCall.Name, time.Now().UnixNano()),
						ToolName:  part.FunctionCall.Name,
						Arguments: args,
						IssuedAt:  time.Now(),
					},
				})
			}
		}
	}
	return out, nil
}

func convertGeminiMessages(messages []ConversationMessage) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant, models.RoleToolCall:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.ToolName, err)
				}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.ToolName, Args: args}})
		}
		for _, tr := range msg.ToolResults {
			content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     tr.CallID,
				Response: map[string]any{"content": tr.Content},
			}})
		}
		if len(content.Parts) == 0 {
			continue
		}
		result = append(result, content)
	}
	return result, nil
}

func convertGeminiTools(tools []ToolSchema) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.Parameters, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON Schema map to Gemini's Schema type, grounded
// on the teacher's toolconv.ToGeminiSchema.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}
