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

// CancelTool allows cancelling a running job.
type CancelTool struct {
	store jobs.Store
}

// NewCancelTool returns a job cancel tool.
func NewCancelTool(store jobs.Store) *CancelTool {
	return &CancelTool{store: store}
}

func (t *CancelTool) Name() string          { return "job_cancel" }
func (t *CancelTool) Group() policy.Group   { return policy.GroupExec }
func (t *CancelTool) Safety() policy.Safety { return policy.SafetyStandard }

func (t *CancelTool) Description() string {
	return "Cancel a running async job by job_id"
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"job_id":{"type":"string","description":"The ID of the job to cancel"}},"required":["job_id"]}`)
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage, tc *tools.Context) *models.ToolResponse {
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
	if job.Status != jobs.StatusRunning && job.Status != jobs.StatusQueued {
		return &models.ToolResponse{Success: false, Content: fmt.Sprintf("job cannot be cancelled (status: %s)", job.Status)}
	}

	if err := t.store.Cancel(ctx, input.JobID); err != nil {
		return &models.ToolResponse{Success: false, Content: err.Error()}
	}

	return &models.ToolResponse{Success: true, Content: fmt.Sprintf("Job %s cancelled successfully", input.JobID)}
}

// ListTool lists jobs with optional filtering.
type ListTool struct {
	store jobs.Store
}

// NewListTool returns a job list tool.
func NewListTool(store jobs.Store) *ListTool {
	return &ListTool{store: store}
}

func (t *ListTool) Name() string          { return "job_list" }
func (t *ListTool) Group() policy.Group   { return policy.GroupExec }
func (t *ListTool) Safety() policy.Safety { return policy.SafetyReadOnly }

func (t *ListTool) Description() string {
	return "List recent async jobs with optional filtering"
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","description":"Max number of jobs to return (default 10)","default":10},"status":{"type":"string","description":"Filter by status: queued, running, succeeded, failed"}}}`)
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage, tc *tools.Context) *models.ToolResponse {
	if t.store == nil {
		return &models.ToolResponse{Success: false, Content: "job store unavailable"}
	}
	var input struct {
		Limit  int    `json:"limit"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &models.ToolResponse{Success: false, Content: fmt.Sprintf("invalid arguments: %v", err)}
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}

	jobList, err := t.store.List(ctx, input.Limit, 0)
	if err != nil {
		return &models.ToolResponse{Success: false, Content: err.Error()}
	}

	if input.Status != "" {
		filtered := make([]*jobs.Job, 0)
		targetStatus := jobs.Status(input.Status)
		for _, j := range jobList {
			if j.Status == targetStatus {
				filtered = append(filtered, j)
			}
		}
		jobList = filtered
	}

	if len(jobList) == 0 {
		return &models.ToolResponse{Success: true, Content: "no jobs found"}
	}

	payload, err := json.Marshal(jobList)
	if err != nil {
		return &models.ToolResponse{Success: false, Content: err.Error()}
	}
	return &models.ToolResponse{Success: true, Content: string(payload)}
}
