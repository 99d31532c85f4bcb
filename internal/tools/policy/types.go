// Package policy resolves which tools a dispatch may invoke, combining a
// tool profile, a subtype's group enablement, and per-call allow/deny
// rules. Precedence (§4.4): safe-mode allow-list overrides all, then
// explicit per-call deny-list, then subtype group enablement, then the
// tool-profile default.
package policy

import "strings"

// Profile is a pre-configured tool access level selected per session.
type Profile string

const (
	ProfileNone      Profile = "none"
	ProfileMinimal   Profile = "minimal"
	ProfileStandard  Profile = "standard"
	ProfileMessaging Profile = "messaging"
	ProfileFinance   Profile = "finance"
	ProfileDeveloper Profile = "developer"
	ProfileSecretary Profile = "secretary"
	ProfileFull      Profile = "full"
)

// Group is a named bucket of tools sharing a default safety class.
type Group string

const (
	GroupSystem      Group = "system"
	GroupWeb         Group = "web"
	GroupFilesystem  Group = "filesystem"
	GroupFinance     Group = "finance"
	GroupDevelopment Group = "development"
	GroupExec        Group = "exec"
	GroupMessaging   Group = "messaging"
	GroupSocial      Group = "social"
	GroupMemory      Group = "memory"
)

// Safety is the default risk class carried by every tool in a Group.
type Safety string

const (
	SafetyReadOnly  Safety = "read_only"
	SafetyStandard  Safety = "standard"
	SafetyDangerous Safety = "dangerous"
)

// GroupSafety is the default safety class per group.
var GroupSafety = map[Group]Safety{
	GroupSystem:      SafetyReadOnly,
	GroupWeb:         SafetyReadOnly,
	GroupMemory:      SafetyReadOnly,
	GroupMessaging:   SafetyStandard,
	GroupSocial:      SafetyStandard,
	GroupFilesystem:  SafetyStandard,
	GroupDevelopment: SafetyStandard,
	GroupExec:        SafetyDangerous,
	GroupFinance:     SafetyDangerous,
}

// DefaultGroupTools lists the tools each built-in group contains. The
// registry seeds from this and merges in anything modules register later.
var DefaultGroupTools = map[Group][]string{
	GroupSystem: {
		"say_to_user", "task_fully_completed", "define_tasks", "set_agent_subtype",
		"add_task", "ask_user", "subagent", "subagent_status", "use_skill", "manage_skills",
	},
	GroupWeb:         {"web_search", "web_fetch"},
	GroupFilesystem:  {"read_file", "write_file", "list_dir"},
	GroupFinance:     {"token_lookup", "web3_tx", "wallet_balance"},
	GroupDevelopment: {"run_tests", "lint", "git_diff"},
	GroupExec:        {"exec", "sandbox_exec"},
	GroupMessaging:   {"send_message", "edit_message"},
	GroupSocial:      {"post_update", "reply_thread"},
	GroupMemory:      {"memory_read", "memory_search", "multi_memory_search"},
}

// SafeModeAllowList is the closed set of tools a safe-mode session may
// ever invoke (§6 External Interfaces). Extending it is a code change.
var SafeModeAllowList = map[string]bool{
	"memory_read":   true,
	"memory_search": true,
}

// ProfileGroups is the default set of enabled groups per profile.
// ProfileFull is handled specially by the Resolver: every group opens.
var ProfileGroups = map[Profile][]Group{
	ProfileNone:      {},
	ProfileMinimal:   {GroupSystem, GroupMemory},
	ProfileStandard:  {GroupSystem, GroupMemory, GroupWeb, GroupMessaging},
	ProfileMessaging: {GroupSystem, GroupMemory, GroupMessaging, GroupSocial},
	ProfileFinance:   {GroupSystem, GroupMemory, GroupWeb, GroupFinance},
	ProfileDeveloper: {GroupSystem, GroupMemory, GroupWeb, GroupDevelopment, GroupExec, GroupFilesystem},
	ProfileSecretary: {GroupSystem, GroupMemory, GroupWeb, GroupMessaging, GroupFilesystem},
}

// SubtypeGroups lists the additional groups a subtype opens on top of the
// session's profile once set_agent_subtype takes effect.
var SubtypeGroups = map[string][]Group{
	"finance":       {GroupFinance, GroupWeb},
	"code_engineer": {GroupDevelopment, GroupExec, GroupFilesystem},
	"secretary":     {GroupMessaging, GroupSocial, GroupFilesystem},
	"none":          {},
}

// Policy is the resolved set of restrictions applied to one dispatch.
type Policy struct {
	Profile  Profile
	Subtype  string
	Allow    []string // explicit per-call allow, evaluated after groups
	Deny     []string // explicit per-call deny, always wins
	SafeMode bool
}

// NormalizeTool lower-cases and trims a tool name for comparison.
func NormalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
