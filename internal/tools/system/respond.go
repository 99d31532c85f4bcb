// Package system implements the ten built-in system tools the Orchestrator
// always makes available regardless of tool profile (§4.2, §4.3): message
// delivery, terminal signals, planning, subtype selection, user prompts,
// sub-agent delegation, and skill management.
package system

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

func schema(properties map[string]any, required ...string) json.RawMessage {
	obj := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		obj["required"] = required
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

func respond(callID string, success bool, content string, meta map[string]any) *models.ToolResponse {
	return &models.ToolResponse{CallID: callID, Success: success, Content: content, Metadata: meta}
}

// SayToUserTool emits a user-visible message. When FinishedTask is set it
// additionally signals loop termination with the message as final text
// (§4.2 step 6); a bare call is an intermediate message only.
type SayToUserTool struct{}

func NewSayToUserTool() *SayToUserTool { return &SayToUserTool{} }

func (t *SayToUserTool) Name() string        { return "say_to_user" }
func (t *SayToUserTool) Group() policy.Group { return policy.GroupSystem }
func (t *SayToUserTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *SayToUserTool) Description() string {
	return "Send a message to the user. Set finished_task=true when this message completes the current request."
}
func (t *SayToUserTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"message":       map[string]any{"type": "string", "description": "text to show the user"},
		"finished_task": map[string]any{"type": "boolean", "description": "true if this message completes the request"},
	}, "message")
}

func (t *SayToUserTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Message      string `json:"message"`
		FinishedTask bool   `json:"finished_task"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	var meta map[string]any
	if params.FinishedTask {
		meta = map[string]any{tools.MetaTerminal: true}
		if tc != nil && tc.Agent != nil {
			if cur := tc.Agent.Current(); cur != nil {
				cur.Status = models.TaskDone
			}
		}
	}
	return respond("", true, params.Message, meta)
}

// TaskFullyCompletedTool marks the current task done and, if the queue is
// now exhausted, terminates the loop with the given summary as final text.
type TaskFullyCompletedTool struct{}

func NewTaskFullyCompletedTool() *TaskFullyCompletedTool { return &TaskFullyCompletedTool{} }

func (t *TaskFullyCompletedTool) Name() string          { return "task_fully_completed" }
func (t *TaskFullyCompletedTool) Group() policy.Group   { return policy.GroupSystem }
func (t *TaskFullyCompletedTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *TaskFullyCompletedTool) Description() string {
	return "Mark the current task done. If no tasks remain, completes the request with the given summary."
}
func (t *TaskFullyCompletedTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"summary": map[string]any{"type": "string", "description": "final summary if the request is now complete"},
	}, "summary")
}

func (t *TaskFullyCompletedTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	if tc == nil || tc.Agent == nil {
		return respond("", true, params.Summary, map[string]any{tools.MetaTerminal: true})
	}

	// Idempotent: calling this after an auto-completion already advanced
	// the queue to exhaustion produces no duplicate terminal signal.
	alreadyExhausted := tc.Agent.Exhausted()

	if cur := tc.Agent.Current(); cur != nil {
		cur.Status = models.TaskDone
	}
	tc.Agent.ActivateNext()

	if tc.Agent.Exhausted() {
		if alreadyExhausted {
			return respond("", true, "task queue already complete", nil)
		}
		return respond("", true, params.Summary, map[string]any{tools.MetaTerminal: true})
	}
	return respond("", true, "task marked done, queue continues", nil)
}
