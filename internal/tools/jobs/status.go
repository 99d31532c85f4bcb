package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starkbot/starkbot/internal/jobs"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// StatusTool exposes job status via tool call.
type StatusTool struct {
	store jobs.Store
}

// NewStatusTool returns a job status tool.
func NewStatusTool(store jobs.Store) *StatusTool {
	return &StatusTool{store: store}
}

func (t *StatusTool) Name() string          { return "job_status" }
func (t *StatusTool) Group() policy.Group   { return policy.GroupExec }
func (t *StatusTool) Safety() policy.Safety { return policy.SafetyReadOnly }

func (t *StatusTool) Description() string {
	return "Fetch job status/result by job_id"
}

func (t *StatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"job_id":{"type":"string"}},"required":["job_id"]}`)
}

func (t *StatusTool) Execute(ctx context.Context, params json.RawMessage, tc *tools.Context) *models.ToolResponse {
	if t.store == nil {
		return &models.ToolResponse{Success: false, Content: "job store unavailable"}
	}
	var input struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &models.ToolResponse{Success: false, Content: fmt.Sprintf("invalid arguments: %v", err)}
	}
	if input.JobID == "" {
		return &models.ToolResponse{Success: false, Content: "job_id is required"}
	}
	job, err := t.store.Get(ctx, input.JobID)
	if err != nil {
		return &models.ToolResponse{Success: false, Content: err.Error()}
	}
	if job == nil {
		return &models.ToolResponse{Success: false, Content: "job not found"}
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return &models.ToolResponse{Success: false, Content: err.Error()}
	}
	return &models.ToolResponse{Success: true, Content: string(payload)}
}
