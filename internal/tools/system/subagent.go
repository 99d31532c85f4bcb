package system

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// Runner dispatches a sub-agent's task to a fresh, isolated Orchestrator
// run and returns its final text. The Orchestrator wires its own run
// function in here to avoid an import cycle (tools cannot import the
// package that imports tools).
type Runner func(ctx context.Context, task string, allowedTools, deniedTools []string) (string, error)

// SubAgentRun tracks one delegated sub-agent's lifecycle.
type SubAgentRun struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id"`
	Name        string    `json:"name"`
	Task        string    `json:"task"`
	Status      string    `json:"status"` // running, completed, failed
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// SubAgentManager runs and tracks sub-agents spawned by the subagent
// tool, bounding how many may run concurrently per process.
type SubAgentManager struct {
	mu        sync.RWMutex
	runs      map[string]*SubAgentRun
	runner    Runner
	maxActive int
	active    int64
}

// NewSubAgentManager creates a manager bound to a Runner, allowing at most
// maxActive concurrent sub-agent runs (0 selects a default of 5).
func NewSubAgentManager(runner Runner, maxActive int) *SubAgentManager {
	if maxActive <= 0 {
		maxActive = 5
	}
	return &SubAgentManager{runs: make(map[string]*SubAgentRun), runner: runner, maxActive: maxActive}
}

func (m *SubAgentManager) spawn(parentID, name, task string, allowed, denied []string) (*SubAgentRun, error) {
	if atomic.LoadInt64(&m.active) >= int64(m.maxActive) {
		return nil, fmt.Errorf("max active sub-agents reached (%d)", m.maxActive)
	}

	run := &SubAgentRun{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Name:      name,
		Task:      task,
		Status:    "running",
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	atomic.AddInt64(&m.active, 1)

	go func() {
		defer atomic.AddInt64(&m.active, -1)
		result, err := m.runner(context.Background(), task, allowed, denied)
		m.mu.Lock()
		defer m.mu.Unlock()
		run.CompletedAt = time.Now()
		if err != nil {
			run.Status = "failed"
			run.Error = err.Error()
			return
		}
		run.Status = "completed"
		run.Result = result
	}()

	return run, nil
}

func (m *SubAgentManager) get(id string) (*SubAgentRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

func (m *SubAgentManager) listFor(parentID string) []*SubAgentRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*SubAgentRun
	for _, r := range m.runs {
		if r.ParentID == parentID {
			out = append(out, r)
		}
	}
	return out
}

// SubagentTool spawns a sub-agent to work a delegated task in the
// background, returning its run ID for later polling via
// subagent_status.
type SubagentTool struct {
	manager *SubAgentManager
}

func NewSubagentTool(manager *SubAgentManager) *SubagentTool {
	return &SubagentTool{manager: manager}
}

func (t *SubagentTool) Name() string          { return "subagent" }
func (t *SubagentTool) Group() policy.Group   { return policy.GroupSystem }
func (t *SubagentTool) Safety() policy.Safety { return policy.SafetyStandard }
func (t *SubagentTool) Description() string {
	return "Delegate a task to a sub-agent running in the background. Use subagent_status to check on it."
}
func (t *SubagentTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"name":          map[string]any{"type": "string"},
		"task":          map[string]any{"type": "string"},
		"allowed_tools": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"denied_tools":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}, "name", "task")
}

func (t *SubagentTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Name         string   `json:"name"`
		Task         string   `json:"task"`
		AllowedTools []string `json:"allowed_tools"`
		DeniedTools  []string `json:"denied_tools"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	parentID := ""
	if tc != nil {
		parentID = tc.SessionID
	}
	run, err := t.manager.spawn(parentID, params.Name, params.Task, params.AllowedTools, params.DeniedTools)
	if err != nil {
		return respond("", false, err.Error(), nil)
	}
	return respond("", true, fmt.Sprintf("sub-agent %q spawned with id %s", params.Name, run.ID), nil)
}

// SubagentStatusTool polls a sub-agent's status, or lists every sub-agent
// delegated from the current session.
type SubagentStatusTool struct {
	manager *SubAgentManager
}

func NewSubagentStatusTool(manager *SubAgentManager) *SubagentStatusTool {
	return &SubagentStatusTool{manager: manager}
}

func (t *SubagentStatusTool) Name() string          { return "subagent_status" }
func (t *SubagentStatusTool) Group() policy.Group   { return policy.GroupSystem }
func (t *SubagentStatusTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *SubagentStatusTool) Description() string {
	return "Check a sub-agent's status by id, or list all sub-agents delegated from this session."
}
func (t *SubagentStatusTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"id": map[string]any{"type": "string", "description": "sub-agent run id; omit to list all"},
	})
}

func (t *SubagentStatusTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	if params.ID != "" {
		run, ok := t.manager.get(params.ID)
		if !ok {
			return respond("", false, "sub-agent not found: "+params.ID, nil)
		}
		out, _ := json.Marshal(run)
		return respond("", true, string(out), nil)
	}

	parentID := ""
	if tc != nil {
		parentID = tc.SessionID
	}
	runs := t.manager.listFor(parentID)
	out, _ := json.Marshal(runs)
	return respond("", true, string(out), nil)
}
