package config

// LoggingConfig configures the slog-based structured logger
// (observability.Logger, §6a Ambient Stack).
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
}

// ObservabilityConfig configures the prometheus metrics exporter and
// the OpenTelemetry tracer, carried regardless of feature Non-goals
// since both are ambient concerns (§6a).
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// MetricsConfig configures the prometheus /metrics HTTP endpoint
// exposed alongside the gateway.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// CronConfig configures the robfig/cron scheduler that drives recurring
// channel messages and webhooks.
type CronConfig struct {
	Enabled bool            `yaml:"enabled"`
	Jobs    []CronJobConfig `yaml:"jobs"`
}

// CronJobConfig declares one scheduled job: a cron expression plus
// exactly one action (message, webhook, or custom).
type CronJobConfig struct {
	Name     string              `yaml:"name"`
	Schedule string              `yaml:"schedule"`
	Message  *CronMessageConfig `yaml:"message,omitempty"`
	Webhook  *CronWebhookConfig `yaml:"webhook,omitempty"`
	Custom   *CronCustomConfig  `yaml:"custom,omitempty"`
	Retry    CronRetryConfig    `yaml:"retry"`
}

// CronMessageConfig dispatches a synthetic channel message on trigger,
// re-entering the system through dispatcher.Dispatch exactly like any
// other inbound message.
type CronMessageConfig struct {
	Channel string `yaml:"channel"`
	SessionID string `yaml:"session_id"`
	Text    string `yaml:"text"`
}

// CronWebhookConfig posts a JSON payload to an external URL on trigger.
type CronWebhookConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Auth    CronWebhookAuth   `yaml:"auth"`
	Body    string            `yaml:"body"`
}

// CronWebhookAuth attaches bearer or basic credentials to a webhook job.
type CronWebhookAuth struct {
	Type     string `yaml:"type"` // "none", "bearer", "basic"
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CronCustomConfig names a registered in-process job function to invoke
// on trigger (e.g. memory consolidation, tx queue sweep).
type CronCustomConfig struct {
	Name string `yaml:"name"`
}

// CronRetryConfig bounds retry attempts for a failed job run.
type CronRetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}
