package config

import "github.com/starkbot/starkbot/internal/tools/policy"

// ToolsConfig configures the ToolRegistry/ToolExecutor (§4.4): which
// tools a session's profile may invoke and how the browsing, search,
// memory-search, sandbox, and background-job tools behave.
type ToolsConfig struct {
	DefaultProfile policy.Profile     `yaml:"default_profile"`
	SafeModeAllow  []string           `yaml:"safe_mode_allow"`
	Browser        BrowserToolConfig  `yaml:"browser"`
	WebSearch      WebSearchToolConfig `yaml:"web_search"`
	WebFetch       WebFetchToolConfig `yaml:"web_fetch"`
	MemorySearch   MemorySearchToolConfig `yaml:"memory_search"`
	Sandbox        SandboxToolConfig  `yaml:"sandbox"`
	Jobs           ToolJobsConfig     `yaml:"jobs"`
}

// BrowserToolConfig is reserved for a future headless-browser tool; no
// such tool is registered yet, so these fields are currently inert.
type BrowserToolConfig struct {
	Enabled        bool   `yaml:"enabled"`
	HeadlessBinary string `yaml:"headless_binary"`
	NavTimeout     string `yaml:"nav_timeout"`
}

// WebSearchToolConfig configures the outbound search provider.
type WebSearchToolConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Provider   string `yaml:"provider"` // "brave", "serpapi"
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// WebFetchToolConfig configures the HTML-to-text page fetcher.
type WebFetchToolConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxBodyKB   int  `yaml:"max_body_kb"`
	TimeoutSecs int  `yaml:"timeout_secs"`
}

// MemorySearchToolConfig configures semantic recall over prior sessions
// (§4.7), including the embeddings backend it uses for similarity.
type MemorySearchToolConfig struct {
	Enabled    bool                         `yaml:"enabled"`
	TopK       int                          `yaml:"top_k"`
	Embeddings MemorySearchEmbeddingsConfig `yaml:"embeddings"`
}

// MemorySearchEmbeddingsConfig names the embeddings provider/model used
// to vectorize memory entries for MemorySearchToolConfig.
type MemorySearchEmbeddingsConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// SandboxToolConfig configures the isolated workspace the code-execution
// tool runs in.
type SandboxToolConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Backend       string `yaml:"backend"` // "local", "docker"
	WorkspaceRoot string `yaml:"workspace_root"`
	CPULimit      string `yaml:"cpu_limit"`
	MemoryLimit   string `yaml:"memory_limit"`
}

// ToolJobsConfig configures asynchronous tool execution bookkeeping
// (§4.4 ToolExecutor background jobs).
type ToolJobsConfig struct {
	Retention     string `yaml:"retention"`
	PruneInterval string `yaml:"prune_interval"`
}

// DefaultToolsConfig returns the tools defaults: standard profile,
// empty safe-mode allow-list, and web/search/memory tools disabled
// until credentials are supplied.
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		DefaultProfile: policy.ProfileStandard,
		SafeModeAllow:  []string{"token_lookup", "wallet_balance"},
		WebFetch:       WebFetchToolConfig{Enabled: true, MaxBodyKB: 512, TimeoutSecs: 15},
		MemorySearch:   MemorySearchToolConfig{Enabled: true, TopK: 6},
		Sandbox:        SandboxToolConfig{WorkspaceRoot: "sandbox"},
		Jobs:           ToolJobsConfig{Retention: "168h", PruneInterval: "1h"},
	}
}

func sanitizeTools(cfg *ToolsConfig) {
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = policy.ProfileStandard
	}
	if cfg.WebSearch.MaxResults == 0 {
		cfg.WebSearch.MaxResults = 5
	}
	if cfg.WebFetch.MaxBodyKB == 0 {
		cfg.WebFetch.MaxBodyKB = 512
	}
	if cfg.WebFetch.TimeoutSecs == 0 {
		cfg.WebFetch.TimeoutSecs = 15
	}
	if cfg.MemorySearch.TopK == 0 {
		cfg.MemorySearch.TopK = 6
	}
	if cfg.Sandbox.WorkspaceRoot == "" {
		cfg.Sandbox.WorkspaceRoot = "sandbox"
	}
	if cfg.Jobs.Retention == "" {
		cfg.Jobs.Retention = "168h"
	}
	if cfg.Jobs.PruneInterval == "" {
		cfg.Jobs.PruneInterval = "1h"
	}
}

func mergeTools(base, override ToolsConfig) ToolsConfig {
	merged := base
	if override.DefaultProfile != "" {
		merged.DefaultProfile = override.DefaultProfile
	}
	if len(override.SafeModeAllow) > 0 {
		merged.SafeModeAllow = override.SafeModeAllow
	}
	if override.Browser.Enabled {
		merged.Browser = override.Browser
	}
	if override.WebSearch.Enabled {
		merged.WebSearch = override.WebSearch
	}
	if override.WebFetch.MaxBodyKB != 0 || override.WebFetch.TimeoutSecs != 0 {
		merged.WebFetch = override.WebFetch
	}
	if override.MemorySearch.TopK != 0 || override.MemorySearch.Embeddings.Provider != "" {
		merged.MemorySearch = override.MemorySearch
	}
	if override.Sandbox.Enabled {
		merged.Sandbox = override.Sandbox
	}
	if override.Jobs.Retention != "" || override.Jobs.PruneInterval != "" {
		merged.Jobs = override.Jobs
	}
	return merged
}
