package models

// TaskStatus is the lifecycle state of one PlannerTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskSkipped    TaskStatus = "skipped"
)

// PlannerTask is one step of an ordered task queue produced by define_tasks.
// AutoCompleteTool, when set, names the tool whose successful invocation
// auto-advances this task to TaskDone.
type PlannerTask struct {
	Ordinal          int        `json:"ordinal"`
	Description      string     `json:"description"`
	Status           TaskStatus `json:"status"`
	AutoCompleteTool string     `json:"auto_complete_tool,omitempty"`
}

// Subtype is a scoped agent persona that narrows the visible tool
// palette and adjusts the system prompt.
type Subtype string

const (
	SubtypeNone         Subtype = "none"
	SubtypeFinance      Subtype = "finance"
	SubtypeCodeEngineer Subtype = "code_engineer"
	SubtypeSecretary    Subtype = "secretary"
)

// AgentContext is per-session runtime state owned exclusively by the
// Orchestrator while a session is dispatching.
type AgentContext struct {
	SessionID      string            `json:"session_id"`
	Subtype        Subtype           `json:"subtype"`
	Tasks          []*PlannerTask    `json:"task_queue"`
	Registers      map[string]string `json:"registers"`
	ContextBank    map[string]struct{} `json:"-"`
	IterationCount int               `json:"iteration_count"`
	LastModelCallAt int64            `json:"last_model_call_at,omitempty"`
	SubtypeLocked  bool              `json:"-"`
	Cancelled      bool              `json:"-"`
}

// NewAgentContext returns an empty AgentContext ready for a fresh dispatch.
func NewAgentContext(sessionID string) *AgentContext {
	return &AgentContext{
		SessionID:   sessionID,
		Subtype:     SubtypeNone,
		Registers:   make(map[string]string),
		ContextBank: make(map[string]struct{}),
	}
}

// Current returns the single in-progress task, if any.
func (c *AgentContext) Current() *PlannerTask {
	for _, t := range c.Tasks {
		if t.Status == TaskInProgress {
			return t
		}
	}
	return nil
}

// Exhausted reports whether every task has left the pending/in_progress states.
func (c *AgentContext) Exhausted() bool {
	for _, t := range c.Tasks {
		if t.Status == TaskPending || t.Status == TaskInProgress {
			return false
		}
	}
	return true
}

// ActivateNext marks the first pending task in_progress, if the queue
// currently has no in-progress task.
func (c *AgentContext) ActivateNext() {
	if c.Current() != nil {
		return
	}
	for _, t := range c.Tasks {
		if t.Status == TaskPending {
			t.Status = TaskInProgress
			return
		}
	}
}
