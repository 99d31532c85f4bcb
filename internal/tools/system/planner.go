package system

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// systemToolNames is excluded from auto-complete matching (§4.2): a task
// description can never auto-advance against one of the system tools
// themselves, only against domain tools.
var systemToolNames = map[string]bool{
	"say_to_user": true, "task_fully_completed": true, "define_tasks": true,
	"set_agent_subtype": true, "add_task": true, "ask_user": true,
	"subagent": true, "subagent_status": true, "use_skill": true, "manage_skills": true,
}

// matchAutoCompleteTool finds the non-system tool whose name is the
// longest case-insensitive substring match within description.
func matchAutoCompleteTool(description string, available []string) string {
	lower := strings.ToLower(description)
	best := ""
	for _, name := range available {
		if systemToolNames[strings.ToLower(name)] {
			continue
		}
		if strings.Contains(lower, strings.ToLower(name)) && len(name) > len(best) {
			best = name
		}
	}
	return best
}

// DefineTasksTool replaces the task queue atomically (§4.3). Calling it
// while a task is in_progress cancels that task (marked skipped) rather
// than leaving it dangling.
type DefineTasksTool struct {
	// AvailableTools is resolved per-call by the caller (the Orchestrator
	// wires this before each iteration to the session's currently
	// filtered tool palette) so matching reflects what's actually usable.
	AvailableTools func(tc *tools.Context) []string
}

func NewDefineTasksTool(availableTools func(tc *tools.Context) []string) *DefineTasksTool {
	return &DefineTasksTool{AvailableTools: availableTools}
}

func (t *DefineTasksTool) Name() string          { return "define_tasks" }
func (t *DefineTasksTool) Group() policy.Group   { return policy.GroupSystem }
func (t *DefineTasksTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *DefineTasksTool) Description() string {
	return "Replace the task queue with an ordered list of task descriptions."
}
func (t *DefineTasksTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"descriptions": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "ordered task descriptions",
		},
	}, "descriptions")
}

func (t *DefineTasksTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Descriptions []string `json:"descriptions"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}
	if tc == nil || tc.Agent == nil {
		return respond("", false, "no agent context available", nil)
	}

	var available []string
	if t.AvailableTools != nil {
		available = t.AvailableTools(tc)
	}

	tasks := make([]*models.PlannerTask, 0, len(params.Descriptions))
	for i, desc := range params.Descriptions {
		tasks = append(tasks, &models.PlannerTask{
			Ordinal:          i + 1,
			Description:      desc,
			Status:           models.TaskPending,
			AutoCompleteTool: matchAutoCompleteTool(desc, available),
		})
	}
	// Cancel any in-progress task from a prior plan rather than silently
	// dropping it.
	if cur := tc.Agent.Current(); cur != nil {
		cur.Status = models.TaskSkipped
	}
	tc.Agent.Tasks = tasks
	tc.Agent.ActivateNext()

	type taskView struct {
		Ordinal          int    `json:"ordinal"`
		Description      string `json:"description"`
		AutoCompleteTool string `json:"auto_complete_tool,omitempty"`
	}
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskView{task.Ordinal, task.Description, task.AutoCompleteTool})
	}
	out, _ := json.Marshal(map[string]any{"tasks": views})

	if tc.Events != nil {
		tc.Events.Publish(ctx, eventFor(tc, events.TaskQueueUpdate))
	}
	return respond("", true, string(out), nil)
}

// AddTaskTool appends a task to the queue. New tasks do not receive
// auto-completion by default (§4.3).
type AddTaskTool struct{}

func NewAddTaskTool() *AddTaskTool { return &AddTaskTool{} }

func (t *AddTaskTool) Name() string          { return "add_task" }
func (t *AddTaskTool) Group() policy.Group   { return policy.GroupSystem }
func (t *AddTaskTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *AddTaskTool) Description() string   { return "Append a task to the end of the task queue." }
func (t *AddTaskTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"description": map[string]any{"type": "string"},
	}, "description")
}

func (t *AddTaskTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}
	if tc == nil || tc.Agent == nil {
		return respond("", false, "no agent context available", nil)
	}

	ordinal := len(tc.Agent.Tasks) + 1
	tc.Agent.Tasks = append(tc.Agent.Tasks, &models.PlannerTask{
		Ordinal:     ordinal,
		Description: params.Description,
		Status:      models.TaskPending,
	})
	tc.Agent.ActivateNext()

	if tc.Events != nil {
		tc.Events.Publish(ctx, eventFor(tc, events.TaskQueueUpdate))
	}
	return respond("", true, fmt.Sprintf("task %d added", ordinal), nil)
}
