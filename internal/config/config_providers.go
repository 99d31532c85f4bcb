package config

// ProvidersConfig configures the Model provider ABI (§6): an ordered
// fallback list of providers the Orchestrator tries in turn, plus the
// named credentials each provider entry references.
type ProvidersConfig struct {
	Fallback    []ProviderFallbackEntry `yaml:"fallback"`
	Credentials map[string]CredentialConfig `yaml:"credentials"`
	Bedrock     BedrockConfig           `yaml:"bedrock"`
}

// ProviderFallbackEntry names one provider/model pair and the
// credential entry to authenticate it with. The Orchestrator walks the
// list in order, advancing to the next entry on a retryable failure.
type ProviderFallbackEntry struct {
	Provider   string `yaml:"provider"` // "anthropic", "openai", "bedrock"
	Model      string `yaml:"model"`
	Credential string `yaml:"credential"`
}

// CredentialConfig is a named API key/base URL pair referenced by
// ProviderFallbackEntry.Credential.
type CredentialConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// BedrockConfig configures the aws-sdk-go-v2 bedrockruntime client used
// when a fallback entry's provider is "bedrock".
type BedrockConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Profile         string `yaml:"profile"`
}

// DefaultProvidersConfig returns a single-entry fallback list pointing
// at Anthropic, matching the teacher's default model client.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Fallback: []ProviderFallbackEntry{
			{Provider: "anthropic", Model: "claude-sonnet-4-5", Credential: "anthropic"},
		},
		Credentials: map[string]CredentialConfig{},
	}
}

func mergeProviders(base, override ProvidersConfig) ProvidersConfig {
	merged := base
	if len(override.Fallback) > 0 {
		merged.Fallback = override.Fallback
	}
	if len(override.Credentials) > 0 {
		if merged.Credentials == nil {
			merged.Credentials = map[string]CredentialConfig{}
		}
		for name, cred := range override.Credentials {
			merged.Credentials[name] = cred
		}
	}
	if override.Bedrock.Region != "" {
		merged.Bedrock = override.Bedrock
	}
	return merged
}
