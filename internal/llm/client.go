// Package llm defines the model-provider capability interface the
// Orchestrator depends on and the set of concrete clients wired behind it.
//
// The Orchestrator never talks to a provider SDK directly (§4.2): it builds
// a Conversation and a tool palette, calls ModelClient.Generate, and gets
// back a ModelResponse it can act on synchronously. This mirrors the
// teacher's per-provider LLMProvider implementations (internal/agent's
// provider set) but collapses their channel-streaming contract into a
// single blocking call, since the Orchestrator's own contract
// (run(ctx, conversation, tools) -> OrchestratorOutcome) is synchronous.
package llm

import (
	"context"
	"encoding/json"

	"github.com/starkbot/starkbot/pkg/models"
)

// ToolSchema is the LLM-facing description of one invokable tool: name,
// natural-language description, and its JSON Schema parameters. Built by
// the caller (the Orchestrator) from the filtered tools.Registry palette;
// this package never depends on internal/tools to avoid a cycle.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ConversationMessage is one turn in a Conversation. Role follows
// pkg/models.Role: user/assistant messages carry Content, an assistant
// turn requesting tools carries ToolCalls, and a tool turn reports
// ToolResults keyed by ToolCall.CallID.
type ConversationMessage struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResponse
}

// Conversation is the full input to one model call: the assembled system
// prompt (§4.1 step 4) plus the message history the Orchestrator is
// iterating over.
type Conversation struct {
	System   string
	Messages []ConversationMessage
}

// GenerateOptions tunes a single Generate call.
type GenerateOptions struct {
	Model          string
	MaxTokens      int
	Temperature    float32
	EnableThinking bool
}

// PartKind discriminates a ContentPart.
type PartKind string

const (
	PartText     PartKind = "text"
	PartToolCall PartKind = "tool_call"
)

// ContentPart is one piece of a ModelResponse: either assistant text or a
// tool call request. A single response can contain both interleaved text
// and one or more tool calls (native multi-tool-calling providers).
type ContentPart struct {
	Kind     PartKind
	Text     string
	ToolCall *models.ToolCall
}

// StopReason normalizes why generation stopped across providers.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Usage reports token accounting for one Generate call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ModelResponse is the result of one Generate call (§4.2's ModelResponse).
type ModelResponse struct {
	ContentParts []ContentPart
	Usage        Usage
	StopReason   StopReason
}

// Text concatenates every text part, in order, ignoring tool calls.
func (r *ModelResponse) Text() string {
	var out string
	for _, p := range r.ContentParts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls collects every tool call part, in order.
func (r *ModelResponse) ToolCalls() []models.ToolCall {
	var out []models.ToolCall
	for _, p := range r.ContentParts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			out = append(out, *p.ToolCall)
		}
	}
	return out
}

// ModelInfo describes one model a ModelClient can serve.
type ModelInfo struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}

// ModelClient is the capability interface every provider implements
// (§4.1's "ModelClient fallback list", §4.2's "Model provider ABI").
//
// Implementations must be safe for concurrent use: the Orchestrator may
// run several dispatches against the same client concurrently.
type ModelClient interface {
	// Name identifies the provider for logging, failover bookkeeping, and
	// credential lookup (e.g. "anthropic", "openai", "bedrock", "gemini").
	Name() string

	// Models lists the models this client can serve.
	Models() []ModelInfo

	// SupportsTools reports whether this client's API supports native
	// function/tool calling (as opposed to text-embedded tool calling).
	SupportsTools() bool

	// Generate issues one completion request and returns the full
	// response. Streaming, where the underlying SDK offers it, is
	// collected internally; the Orchestrator never sees partial output.
	Generate(ctx context.Context, conv *Conversation, tools []ToolSchema, opts GenerateOptions) (*ModelResponse, error)
}
