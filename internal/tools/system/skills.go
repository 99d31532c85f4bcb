package system

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starkbot/starkbot/internal/skills"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// UseSkillTool retrieves an installed skill's content for the agent to
// fold into its own reasoning for the remainder of the dispatch.
type UseSkillTool struct {
	registry *skills.Registry
}

func NewUseSkillTool(registry *skills.Registry) *UseSkillTool {
	return &UseSkillTool{registry: registry}
}

func (t *UseSkillTool) Name() string          { return "use_skill" }
func (t *UseSkillTool) Group() policy.Group   { return policy.GroupSystem }
func (t *UseSkillTool) Safety() policy.Safety { return policy.SafetyReadOnly }
func (t *UseSkillTool) Description() string {
	return "Load an installed skill's guidance content by name."
}
func (t *UseSkillTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"name": map[string]any{"type": "string"},
	}, "name")
}

func (t *UseSkillTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	s, err := t.registry.Get(params.Name)
	if err != nil {
		return respond("", false, err.Error(), nil)
	}
	return respond("", true, s.Content, nil)
}

// ManageSkillsTool installs, uninstalls, and lists skills.
type ManageSkillsTool struct {
	registry *skills.Registry
}

func NewManageSkillsTool(registry *skills.Registry) *ManageSkillsTool {
	return &ManageSkillsTool{registry: registry}
}

func (t *ManageSkillsTool) Name() string          { return "manage_skills" }
func (t *ManageSkillsTool) Group() policy.Group   { return policy.GroupSystem }
func (t *ManageSkillsTool) Safety() policy.Safety { return policy.SafetyStandard }
func (t *ManageSkillsTool) Description() string {
	return "Install, uninstall, or list skills. action in {install, uninstall, list}."
}
func (t *ManageSkillsTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"action":      map[string]any{"type": "string", "enum": []string{"install", "uninstall", "list"}},
		"name":        map[string]any{"type": "string"},
		"description": map[string]any{"type": "string"},
		"content":     map[string]any{"type": "string"},
	}, "action")
}

func (t *ManageSkillsTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Action      string `json:"action"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Content     string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	switch strings.ToLower(params.Action) {
	case "install":
		if params.Name == "" {
			return respond("", false, "name is required", nil)
		}
		t.registry.Install(&skills.Skill{Name: params.Name, Description: params.Description, Content: params.Content})
		return respond("", true, fmt.Sprintf("skill %q installed", params.Name), nil)
	case "uninstall":
		if err := t.registry.Uninstall(params.Name); err != nil {
			return respond("", false, err.Error(), nil)
		}
		return respond("", true, fmt.Sprintf("skill %q uninstalled", params.Name), nil)
	case "list":
		list := t.registry.List()
		names := make([]string, 0, len(list))
		for _, s := range list {
			names = append(names, fmt.Sprintf("%s: %s", s.Name, s.Description))
		}
		return respond("", true, strings.Join(names, "\n"), nil)
	default:
		return respond("", false, "unknown action: "+params.Action, nil)
	}
}
