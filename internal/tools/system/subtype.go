package system

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// SetAgentSubtypeTool selects a scoped persona (§4.2 step 7). Valid only
// as the first tool of the first iteration that uses a domain-specific
// tool; once AgentContext.SubtypeLocked is set, later calls are no-ops.
type SetAgentSubtypeTool struct{}

func NewSetAgentSubtypeTool() *SetAgentSubtypeTool { return &SetAgentSubtypeTool{} }

func (t *SetAgentSubtypeTool) Name() string          { return "set_agent_subtype" }
func (t *SetAgentSubtypeTool) Group() policy.Group   { return policy.GroupSystem }
func (t *SetAgentSubtypeTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *SetAgentSubtypeTool) Description() string {
	return "Select the agent subtype (persona) that scopes the tool palette for this session."
}
func (t *SetAgentSubtypeTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"subtype": map[string]any{
			"type": "string",
			"enum": []string{"none", "finance", "code_engineer", "secretary"},
		},
	}, "subtype")
}

func (t *SetAgentSubtypeTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}
	if tc == nil || tc.Agent == nil {
		return respond("", false, "no agent context available", nil)
	}

	if tc.Agent.SubtypeLocked {
		return respond("", true, "subtype already locked for this session; no-op", nil)
	}

	tc.Agent.Subtype = models.Subtype(params.Subtype)
	tc.Agent.SubtypeLocked = true

	if tc.Events != nil {
		tc.Events.Publish(ctx, eventFor(tc, events.AgentSubtypeChange))
	}
	return respond("", true, fmt.Sprintf("subtype set to %s", params.Subtype), map[string]any{
		tools.MetaSubtypeLocked: true,
	})
}

// AskUserTool is a suspension point (§5): it asks the user a clarifying
// question and the dispatch suspends until a reply arrives on the
// session's next turn.
type AskUserTool struct{}

func NewAskUserTool() *AskUserTool { return &AskUserTool{} }

func (t *AskUserTool) Name() string          { return "ask_user" }
func (t *AskUserTool) Group() policy.Group   { return policy.GroupSystem }
func (t *AskUserTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *AskUserTool) Description() string {
	return "Ask the user a clarifying question and suspend until they reply."
}
func (t *AskUserTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"question": map[string]any{"type": "string"},
	}, "question")
}

func (t *AskUserTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	if tc != nil && tc.Events != nil {
		tc.Events.Publish(ctx, eventFor(tc, events.ToolWaiting))
	}
	return respond("", true, params.Question, map[string]any{
		tools.MetaTerminal: true,
		tools.MetaSuspend:  "ask_user",
	})
}
