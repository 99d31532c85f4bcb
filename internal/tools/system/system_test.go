package system

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/starkbot/starkbot/internal/skills"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/pkg/models"
)

func newTestContext() *tools.Context {
	return &tools.Context{
		SessionID: "sess-1",
		ChannelID: "chan-1",
		Agent:     models.NewAgentContext("sess-1"),
	}
}

func TestSayToUserFinishedTaskSignalsTerminal(t *testing.T) {
	tool := NewSayToUserTool()
	tc := newTestContext()
	args, _ := json.Marshal(map[string]any{"message": "hi there", "finished_task": true})

	resp := tool.Execute(context.Background(), args, tc)
	if !resp.Success || resp.Content != "hi there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Metadata[tools.MetaTerminal] != true {
		t.Fatalf("expected terminal signal, got metadata: %+v", resp.Metadata)
	}
}

func TestSayToUserBareDoesNotTerminate(t *testing.T) {
	tool := NewSayToUserTool()
	tc := newTestContext()
	args, _ := json.Marshal(map[string]any{"message": "working on it"})

	resp := tool.Execute(context.Background(), args, tc)
	if resp.Metadata != nil {
		t.Fatalf("expected no terminal signal, got: %+v", resp.Metadata)
	}
}

func TestTaskFullyCompletedIdempotent(t *testing.T) {
	tool := NewTaskFullyCompletedTool()
	tc := newTestContext()
	tc.Agent.Tasks = []*models.PlannerTask{{Ordinal: 1, Description: "only task", Status: models.TaskInProgress}}

	args, _ := json.Marshal(map[string]any{"summary": "done"})
	first := tool.Execute(context.Background(), args, tc)
	if first.Metadata[tools.MetaTerminal] != true {
		t.Fatalf("expected terminal on first call, got %+v", first.Metadata)
	}

	second := tool.Execute(context.Background(), args, tc)
	if second.Metadata != nil {
		t.Fatalf("expected no duplicate terminal signal, got %+v", second.Metadata)
	}
}

func TestDefineTasksMatchesAutoCompleteTool(t *testing.T) {
	tool := NewDefineTasksTool(func(tc *tools.Context) []string {
		return []string{"web_search", "web_fetch", "say_to_user"}
	})
	tc := newTestContext()
	args, _ := json.Marshal(map[string]any{"descriptions": []string{"use web_search to find docs"}})

	resp := tool.Execute(context.Background(), args, tc)
	if !resp.Success {
		t.Fatalf("unexpected failure: %s", resp.Content)
	}
	if len(tc.Agent.Tasks) != 1 || tc.Agent.Tasks[0].AutoCompleteTool != "web_search" {
		t.Fatalf("expected auto_complete_tool=web_search, got %+v", tc.Agent.Tasks)
	}
	if tc.Agent.Current() == nil {
		t.Fatal("expected first task to be activated")
	}
}

func TestDefineTasksExcludesSystemTools(t *testing.T) {
	tool := NewDefineTasksTool(func(tc *tools.Context) []string {
		return []string{"say_to_user"}
	})
	tc := newTestContext()
	args, _ := json.Marshal(map[string]any{"descriptions": []string{"say_to_user the result"}})
	tool.Execute(context.Background(), args, tc)

	if tc.Agent.Tasks[0].AutoCompleteTool != "" {
		t.Fatalf("system tool must never be matched, got %q", tc.Agent.Tasks[0].AutoCompleteTool)
	}
}

func TestAddTaskAppendsWithoutAutoComplete(t *testing.T) {
	tool := NewAddTaskTool()
	tc := newTestContext()
	args, _ := json.Marshal(map[string]any{"description": "extra step"})
	tool.Execute(context.Background(), args, tc)

	if len(tc.Agent.Tasks) != 1 || tc.Agent.Tasks[0].AutoCompleteTool != "" {
		t.Fatalf("unexpected task state: %+v", tc.Agent.Tasks)
	}
}

func TestSetAgentSubtypeLocksAfterFirstCall(t *testing.T) {
	tool := NewSetAgentSubtypeTool()
	tc := newTestContext()
	args, _ := json.Marshal(map[string]any{"subtype": "finance"})

	tool.Execute(context.Background(), args, tc)
	if tc.Agent.Subtype != models.SubtypeFinance || !tc.Agent.SubtypeLocked {
		t.Fatalf("expected subtype locked to finance, got %+v", tc.Agent)
	}

	args2, _ := json.Marshal(map[string]any{"subtype": "secretary"})
	tool.Execute(context.Background(), args2, tc)
	if tc.Agent.Subtype != models.SubtypeFinance {
		t.Fatalf("second call must be a no-op, got subtype=%s", tc.Agent.Subtype)
	}
}

func TestUseSkillReturnsContent(t *testing.T) {
	reg := skills.NewRegistry()
	reg.Install(&skills.Skill{Name: "k8s", Content: "kubectl conventions"})
	tool := NewUseSkillTool(reg)

	args, _ := json.Marshal(map[string]any{"name": "k8s"})
	resp := tool.Execute(context.Background(), args, newTestContext())
	if !resp.Success || resp.Content != "kubectl conventions" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestManageSkillsInstallListUninstall(t *testing.T) {
	reg := skills.NewRegistry()
	tool := NewManageSkillsTool(reg)
	ctx := context.Background()
	tc := newTestContext()

	installArgs, _ := json.Marshal(map[string]any{"action": "install", "name": "a", "description": "d", "content": "c"})
	if resp := tool.Execute(ctx, installArgs, tc); !resp.Success {
		t.Fatalf("install failed: %s", resp.Content)
	}

	listArgs, _ := json.Marshal(map[string]any{"action": "list"})
	resp := tool.Execute(ctx, listArgs, tc)
	if resp.Content == "" {
		t.Fatal("expected non-empty list")
	}

	uninstallArgs, _ := json.Marshal(map[string]any{"action": "uninstall", "name": "a"})
	if resp := tool.Execute(ctx, uninstallArgs, tc); !resp.Success {
		t.Fatalf("uninstall failed: %s", resp.Content)
	}
}

func TestAskUserSuspendsAndSignalsTerminal(t *testing.T) {
	tool := NewAskUserTool()
	args, _ := json.Marshal(map[string]any{"question": "which network?"})
	resp := tool.Execute(context.Background(), args, newTestContext())

	if resp.Metadata[tools.MetaSuspend] != "ask_user" {
		t.Fatalf("expected suspend=ask_user, got %+v", resp.Metadata)
	}
}

func TestSubagentSpawnAndStatus(t *testing.T) {
	done := make(chan struct{})
	runner := func(ctx context.Context, task string, allowed, denied []string) (string, error) {
		defer close(done)
		return "sub-agent result", nil
	}
	manager := NewSubAgentManager(runner, 2)
	spawnTool := NewSubagentTool(manager)
	statusTool := NewSubagentStatusTool(manager)
	tc := newTestContext()

	spawnArgs, _ := json.Marshal(map[string]any{"name": "researcher", "task": "look things up"})
	resp := spawnTool.Execute(context.Background(), spawnArgs, tc)
	if !resp.Success {
		t.Fatalf("spawn failed: %s", resp.Content)
	}

	<-done

	listArgs, _ := json.Marshal(map[string]any{})
	statusResp := statusTool.Execute(context.Background(), listArgs, tc)
	if !statusResp.Success || statusResp.Content == "[]" {
		t.Fatalf("expected non-empty sub-agent list, got %+v", statusResp)
	}
}

func TestSubagentMaxActiveEnforced(t *testing.T) {
	blocker := make(chan struct{})
	runner := func(ctx context.Context, task string, allowed, denied []string) (string, error) {
		<-blocker
		return "", nil
	}
	manager := NewSubAgentManager(runner, 1)
	tool := NewSubagentTool(manager)
	tc := newTestContext()

	args, _ := json.Marshal(map[string]any{"name": "a", "task": "t1"})
	if resp := tool.Execute(context.Background(), args, tc); !resp.Success {
		t.Fatalf("first spawn should succeed: %s", resp.Content)
	}

	args2, _ := json.Marshal(map[string]any{"name": "b", "task": "t2"})
	resp2 := tool.Execute(context.Background(), args2, tc)
	if resp2.Success {
		t.Fatal("expected second spawn to be rejected at max concurrency")
	}
	close(blocker)
}
