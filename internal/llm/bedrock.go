package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/starkbot/starkbot/pkg/models"
)

// BedrockCatalog is the fallback model list when no discovery is wired.
var BedrockCatalog = []ModelInfo{
	{ID: "anthropic.claude-sonnet-4-5-v1:0", Name: "Claude Sonnet 4.5 (Bedrock)", ContextSize: 200000, SupportsVision: true},
	{ID: "anthropic.claude-haiku-4-5-v1:0", Name: "Claude Haiku 4.5 (Bedrock)", ContextSize: 200000, SupportsVision: true},
}

// BedrockConfig configures a Bedrock Converse client.
type BedrockConfig struct {
	DefaultModel string
	Models       []ModelInfo
	MaxRetries   int
	RetryDelay   time.Duration
}

// BedrockClient implements ModelClient on top of the Bedrock Converse API,
// grounded on internal/providers/bedrock (model discovery) and the
// teacher's toolconv Bedrock tool-schema conversion.
type BedrockClient struct {
	runtime      *bedrockruntime.Client
	defaultModel string
	models       []ModelInfo
	retrier      Retrier
}

// NewBedrockClient wraps an already-configured Bedrock runtime client (AWS
// credentials and region resolved by the caller via the standard AWS config
// chain, as the teacher's bedrock discovery package does).
func NewBedrockClient(runtime *bedrockruntime.Client, cfg BedrockConfig) (*BedrockClient, error) {
	if runtime == nil {
		return nil, fmt.Errorf("llm: bedrock: runtime client is required")
	}
	catalog := cfg.Models
	if len(catalog) == 0 {
		catalog = BedrockCatalog
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" && len(catalog) > 0 {
		defaultModel = catalog[0].ID
	}
	return &BedrockClient{
		runtime:      runtime,
		defaultModel: defaultModel,
		models:       catalog,
		retrier:      NewRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (c *BedrockClient) Name() string        { return "bedrock" }
func (c *BedrockClient) Models() []ModelInfo { return c.models }
func (c *BedrockClient) SupportsTools() bool { return true }

// Generate issues a Converse call (Bedrock's single-shot, non-streaming
// request shape fits the Orchestrator's synchronous contract directly).
func (c *BedrockClient) Generate(ctx context.Context, conv *Conversation, tools []ToolSchema, opts GenerateOptions) (*ModelResponse, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	messages, err := convertBedrockMessages(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: %w", err)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if conv.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: conv.System}}
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if opts.MaxTokens > 0 {
			mt := int32(opts.MaxTokens)
			cfg.MaxTokens = &mt
		}
		if opts.Temperature > 0 {
			cfg.Temperature = aws.Float32(opts.Temperature)
		}
		input.InferenceConfig = cfg
	}
	if len(tools) > 0 {
		input.ToolConfig = convertBedrockTools(tools)
	}

	var output *bedrockruntime.ConverseOutput
	err = c.retrier.Do(ctx, func() error {
		var callErr error
		output, callErr = c.runtime.Converse(ctx, input)
		if callErr != nil {
			return &ProviderError{Reason: ClassifyError(callErr), Provider: "bedrock", Model: model, Message: callErr.Error(), Cause: callErr}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return translateBedrockOutput(output), nil
}

func convertBedrockMessages(messages []ConversationMessage) ([]brtypes.Message, error) {
	var result []brtypes.Message
	for _, msg := range messages {
		var blocks []brtypes.ContentBlock

		if msg.Content != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.ToolName, err)
				}
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(tc.CallID),
				Name:      aws.String(tc.ToolName),
				Input:     document.NewLazyDocument(input),
			}})
		}
		for _, tr := range msg.ToolResults {
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(tr.CallID),
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: tr.Content}},
				Status:    toolResultStatus(tr.Success),
			}})
		}
		if len(blocks) == 0 {
			continue
		}

		role := brtypes.ConversationRoleUser
		if msg.Role == models.RoleAssistant || msg.Role == models.RoleToolCall {
			role = brtypes.ConversationRoleAssistant
		}
		result = append(result, brtypes.Message{Role: role, Content: blocks})
	}
	return result, nil
}

func toolResultStatus(success bool) brtypes.ToolResultStatus {
	if success {
		return brtypes.ToolResultStatusSuccess
	}
	return brtypes.ToolResultStatusError
}

func convertBedrockTools(tools []ToolSchema) *brtypes.ToolConfiguration {
	bedrockTools := make([]brtypes.Tool, len(tools))
	for i, t := range tools {
		var schema any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}}
	}
	return &brtypes.ToolConfiguration{Tools: bedrockTools}
}

func translateBedrockOutput(output *bedrockruntime.ConverseOutput) *ModelResponse {
	resp := &ModelResponse{}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					resp.ContentParts = append(resp.ContentParts, ContentPart{Kind: PartText, Text: v.Value})
				}
			case *brtypes.ContentBlockMemberToolUse:
				payload, _ := decodeBedrockDocument(v.Value.Input)
				name := aws.ToString(v.Value.Name)
				resp.ContentParts = append(resp.ContentParts, ContentPart{
					Kind: PartToolCall,
					ToolCall: &models.ToolCall{
						CallID:    aws.ToString(v.Value.ToolUseId),
						ToolName:  name,
						Arguments: payload,
						IssuedAt:  time.Now(),
					},
				})
			}
		}
	}
	if output.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}
	switch output.StopReason {
	case brtypes.StopReasonToolUse:
		resp.StopReason = StopToolUse
	case brtypes.StopReasonMaxTokens:
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}
	return resp
}

func decodeBedrockDocument(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	var raw any
	if err := doc.UnmarshalSmithyDocument(&raw); err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}
