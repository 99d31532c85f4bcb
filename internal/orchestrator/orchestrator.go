// Package orchestrator implements the bounded tool loop that drives one
// model<->tool exchange (§4.2): it owns the AgentContext for the duration
// of a single dispatch, requests completions, fans tool calls out through
// the tools.Executor, applies auto-completion and terminal signals, and
// returns once the model stops calling tools, a terminal signal fires, or
// the iteration bound is hit.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/starkbot/starkbot/internal/llm"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// Config tunes one Orchestrator instance.
type Config struct {
	// MaxIterations is MAX_ITER, the hard loop bound (default 100).
	MaxIterations int

	// BatchTimeout bounds one iteration's parallel tool dispatch (default 300s).
	BatchTimeout time.Duration

	// MaxTokens caps each model completion.
	MaxTokens int

	Temperature float32
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 100,
		BatchTimeout:  300 * time.Second,
		MaxTokens:     4096,
	}
}

// Metrics accumulates counters over one Run.
type Metrics struct {
	ModelCalls   int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	Compactions  int
}

// Outcome is the Orchestrator's public return value (§4.2).
type Outcome struct {
	FinalText  string
	Completed  bool
	Iterations int
	Metrics    Metrics
}

// Orchestrator drives the tool loop for one dispatch.
type Orchestrator struct {
	model    llm.ModelClient
	registry *tools.Registry
	executor *tools.Executor
	config   Config
}

// New builds an Orchestrator. model may be a single ModelClient or a
// *llm.FallbackList, which itself satisfies ModelClient.
func New(model llm.ModelClient, registry *tools.Registry, executor *tools.Executor, config Config) *Orchestrator {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 100
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 300 * time.Second
	}
	return &Orchestrator{model: model, registry: registry, executor: executor, config: config}
}

// Run executes the bounded tool loop against conv, mutating it in place
// with every tool_call/tool_result turn so the caller (the Dispatcher) can
// persist the full transcript afterward.
func (o *Orchestrator) Run(ctx context.Context, conv *llm.Conversation, agentCtx *models.AgentContext, pol *policy.Policy, tc *tools.Context, modelName string) (*Outcome, error) {
	var metrics Metrics
	compacted := false

	for iteration := 0; ; iteration++ {
		if iteration >= o.config.MaxIterations {
			return &Outcome{Completed: false, Iterations: iteration, Metrics: metrics}, nil
		}
		if agentCtx != nil && agentCtx.Cancelled {
			return &Outcome{Completed: false, Iterations: iteration, Metrics: metrics}, fmt.Errorf("orchestrator: dispatch cancelled")
		}

		palette := o.registry.Filtered(pol)
		schemas := buildToolSchemas(palette)

		resp, err := o.model.Generate(ctx, conv, schemas, llm.GenerateOptions{
			Model:       modelName,
			MaxTokens:   o.config.MaxTokens,
			Temperature: o.config.Temperature,
		})
		if err != nil {
			if !compacted && llm.ClassifyError(err) == llm.FailoverContextOverflow {
				conv.Messages = compactMessages(conv.Messages)
				compacted = true
				metrics.Compactions++
				continue
			}
			return &Outcome{Completed: false, Iterations: iteration, Metrics: metrics}, err
		}
		metrics.ModelCalls++
		metrics.InputTokens += resp.Usage.InputTokens
		metrics.OutputTokens += resp.Usage.OutputTokens

		if agentCtx != nil {
			agentCtx.IterationCount++
			agentCtx.LastModelCallAt = time.Now().Unix()
		}

		calls := resp.ToolCalls()
		text := resp.Text()

		if len(calls) == 0 {
			conv.Messages = append(conv.Messages, llm.ConversationMessage{Role: models.RoleAssistant, Content: text})
			return &Outcome{
				FinalText:  text,
				Completed:  agentCtx == nil || len(agentCtx.Tasks) == 0 || agentCtx.Exhausted(),
				Iterations: iteration + 1,
				Metrics:    metrics,
			}, nil
		}

		conv.Messages = append(conv.Messages, llm.ConversationMessage{Role: models.RoleToolCall, Content: text, ToolCalls: calls})

		results := o.executor.ExecuteBatch(ctx, calls, tc, pol, o.config.BatchTimeout)
		metrics.ToolCalls += len(results)

		conv.Messages = append(conv.Messages, llm.ConversationMessage{Role: models.RoleToolResult, ToolResults: results})

		terminal, finalText := applyTaskSignals(agentCtx, calls, results)
		if terminal {
			return &Outcome{FinalText: finalText, Completed: true, Iterations: iteration + 1, Metrics: metrics}, nil
		}
	}
}

// applyTaskSignals implements §4.2 steps 5-6: auto-completion of the
// in-progress task, and terminal-signal detection via the tool.Meta*
// metadata keys system tools set on their ToolResponse.
func applyTaskSignals(agentCtx *models.AgentContext, calls []models.ToolCall, results []models.ToolResponse) (terminal bool, finalText string) {
	definedTasksInBatch := false
	for _, c := range calls {
		if policy.NormalizeTool(c.ToolName) == "define_tasks" {
			definedTasksInBatch = true
		}
	}

	for i, result := range results {
		if i >= len(calls) {
			break
		}
		toolName := policy.NormalizeTool(calls[i].ToolName)

		if result.Success && !definedTasksInBatch && agentCtx != nil {
			if cur := agentCtx.Current(); cur != nil && cur.AutoCompleteTool != "" &&
				policy.NormalizeTool(cur.AutoCompleteTool) == toolName {
				cur.Status = models.TaskDone
				agentCtx.ActivateNext()
			}
		}

		if term, ok := result.Metadata[tools.MetaTerminal]; ok {
			if done, _ := term.(bool); done && !terminal {
				terminal = true
				finalText = result.Content
			}
		}
	}
	return terminal, finalText
}

func buildToolSchemas(palette []tools.Tool) []llm.ToolSchema {
	out := make([]llm.ToolSchema, len(palette))
	for i, t := range palette {
		out[i] = llm.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
	}
	return out
}

// compactMessages implements §4.1's context-overflow compaction pass: it
// collapses every message but the most recent compactKeepRecent into a
// single synthetic system note summarizing what was dropped, then retries
// once. This is a deterministic fallback, not a model-authored summary
// (the teacher's CompactionManager solicits one from the agent itself);
// a model-authored summary would cost a model call the Orchestrator
// cannot afford to spend while already handling a provider error.
const compactKeepRecent = 6

func compactMessages(messages []llm.ConversationMessage) []llm.ConversationMessage {
	if len(messages) <= compactKeepRecent {
		return messages
	}
	dropped := messages[:len(messages)-compactKeepRecent]
	kept := messages[len(messages)-compactKeepRecent:]

	var droppedChars int
	for _, m := range dropped {
		droppedChars += len(m.Content)
	}
	note := llm.ConversationMessage{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("[compacted %d earlier turns (~%d characters) to fit the model's context window]", len(dropped), droppedChars),
	}
	return append([]llm.ConversationMessage{note}, kept...)
}
