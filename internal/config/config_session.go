package config

import "github.com/starkbot/starkbot/internal/tools/policy"

// SessionConfig tunes the Dispatcher's history/memory window and the
// tool profile a session gets by default (§4.1 step 3-5).
type SessionConfig struct {
	HistoryMessages int            `yaml:"history_messages"`
	MemorySnippets  int            `yaml:"memory_snippets"`
	DefaultProfile  policy.Profile `yaml:"default_profile"`
	AdminProfile    policy.Profile `yaml:"admin_profile"`
	Scoping         SessionScopeConfig `yaml:"scoping"`
}

// SessionScopeConfig controls how sessions are keyed and reset.
type SessionScopeConfig struct {
	// DMScope selects how direct-message sessions are scoped: "main"
	// (one session per identity) or "per-channel" (one per channel+peer).
	DMScope string      `yaml:"dm_scope"`
	Reset   ResetConfig `yaml:"reset"`
}

// ResetConfig controls when sessions are automatically reset.
type ResetConfig struct {
	Mode        string `yaml:"mode"` // "daily", "idle", "daily+idle", "never"
	AtHour      int    `yaml:"at_hour"`
	IdleMinutes int    `yaml:"idle_minutes"`
}

// DefaultSessionConfig returns session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HistoryMessages: 40,
		MemorySnippets:  6,
		DefaultProfile:  policy.ProfileStandard,
		AdminProfile:    policy.ProfileFull,
		Scoping:         SessionScopeConfig{DMScope: "main", Reset: ResetConfig{Mode: "never"}},
	}
}

// WorkspaceConfig locates the on-disk workspace a session's filesystem
// and memory tools operate against.
type WorkspaceConfig struct {
	Dir       string `yaml:"dir"`
	SkillsDir string `yaml:"skills_dir"`
}

// DefaultWorkspaceConfig returns the workspace defaults.
func DefaultWorkspaceConfig() WorkspaceConfig {
	return WorkspaceConfig{Dir: ".", SkillsDir: "skills"}
}

// IdentityConfig names the single identity treated as administrator
// regardless of per-channel safe-mode defaults (§4.1 step 2).
type IdentityConfig struct {
	AdminPublicAddress string `yaml:"admin_public_address"`
}

// MemoryConfig selects and configures the Memory / Context Builder
// backend (§4.7): "sqlite" for single-process deployments, "postgres"
// for a shared corpus across multiple gateway instances.
type MemoryConfig struct {
	Backend                 string `yaml:"backend"`
	Path                    string `yaml:"path"`
	DSN                     string `yaml:"dsn"`
	EnableAutoConsolidation bool   `yaml:"enable_auto_consolidation"`
	EnableCrossSession      bool   `yaml:"enable_cross_session"`
}
