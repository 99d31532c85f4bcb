package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/starkbot/starkbot/internal/auth"
	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/internal/channels/cron"
	"github.com/starkbot/starkbot/internal/channels/discord"
	"github.com/starkbot/starkbot/internal/channels/matrix"
	"github.com/starkbot/starkbot/internal/channels/mattermost"
	"github.com/starkbot/starkbot/internal/channels/slack"
	"github.com/starkbot/starkbot/internal/channels/telegram"
	"github.com/starkbot/starkbot/internal/channels/whatsapp"
	"github.com/starkbot/starkbot/internal/config"
	"github.com/starkbot/starkbot/internal/dispatcher"
	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/internal/gateway"
	"github.com/starkbot/starkbot/internal/identity"
	"github.com/starkbot/starkbot/internal/jobs"
	"github.com/starkbot/starkbot/internal/llm"
	"github.com/starkbot/starkbot/internal/memory"
	"github.com/starkbot/starkbot/internal/observability"
	"github.com/starkbot/starkbot/internal/orchestrator"
	"github.com/starkbot/starkbot/internal/sessions"
	"github.com/starkbot/starkbot/internal/skills"
	"github.com/starkbot/starkbot/internal/tools"
	execttools "github.com/starkbot/starkbot/internal/tools/exec"
	"github.com/starkbot/starkbot/internal/tools/files"
	"github.com/starkbot/starkbot/internal/tools/finance"
	jobtools "github.com/starkbot/starkbot/internal/tools/jobs"
	"github.com/starkbot/starkbot/internal/tools/memorysearch"
	"github.com/starkbot/starkbot/internal/tools/message"
	"github.com/starkbot/starkbot/internal/tools/policy"
	systemtools "github.com/starkbot/starkbot/internal/tools/system"
	"github.com/starkbot/starkbot/internal/tools/websearch"
	"github.com/starkbot/starkbot/internal/txqueue"
	"github.com/starkbot/starkbot/pkg/models"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, channel adapters, and dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})
	_ = observability.NewMetrics()
	slogLogger := newSlogLogger(cfg.Logging)

	var shutdownTracing func(context.Context) error
	if cfg.Observability.Tracing.Enabled {
		serviceVersion := cfg.Observability.Tracing.ServiceVersion
		if serviceVersion == "" {
			serviceVersion = buildVersion
		}
		_, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: serviceVersion,
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		})
		shutdownTracing = shutdown
	}

	identities := identity.NewMemoryStore()

	sessionStore, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	memoryMgr, err := buildMemoryManager(cfg)
	if err != nil {
		return fmt.Errorf("build memory manager: %w", err)
	}

	jobStore := jobs.NewMemoryStore()
	skillsRegistry := skills.NewRegistry()

	broadcaster := events.NewBroadcaster(256)

	txStore := txqueue.NewMemoryStore()
	txQueue := txqueue.NewCoordinator(txStore, broadcaster, models.BroadcastMode(cfg.Tx.BroadcastMode))
	txBroadcaster := txqueue.NewRPCBroadcaster(cfg.Tx.NetworkEndpoints, cfg.Tx.ConfirmPollInterval)

	channelRegistry := channels.NewRegistry()
	if err := registerChannels(channelRegistry, cfg, slogLogger); err != nil {
		return fmt.Errorf("register channels: %w", err)
	}

	registry := tools.NewRegistry(policy.NewResolver())
	executor := tools.NewExecutor(registry, tools.DefaultExecutorConfig())

	model, err := buildModelClient(cfg)
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}

	orch := orchestrator.New(model, registry, executor, orchestrator.DefaultConfig())

	registerTools(registry, cfg, channelRegistry, sessionStore, jobStore, skillsRegistry, txQueue, txBroadcaster, model, executor)

	apiKeys := func(name string) (string, bool) {
		cred, ok := cfg.Providers.Credentials[name]
		if !ok || cred.APIKey == "" {
			return "", false
		}
		return cred.APIKey, true
	}

	dispCfg := dispatcher.DefaultConfig()
	dispCfg.DefaultProfile = cfg.Session.DefaultProfile
	dispCfg.AdminProfile = cfg.Session.AdminProfile
	dispCfg.HistoryMessages = cfg.Session.HistoryMessages
	dispCfg.MemorySnippets = cfg.Session.MemorySnippets
	dispCfg.Model = firstFallbackModel(cfg.Providers)

	disp := dispatcher.New(identities, sessionStore, memoryMgr, registry, orch, broadcaster, txEnqueuer{txQueue}, apiKeys, dispCfg)

	authKeys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		authKeys = append(authKeys, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	authSvc := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     authKeys,
	})

	gw := gateway.New(gateway.Config{
		AuthSecret:      cfg.Gateway.AuthSecret,
		CORSOrigins:     cfg.Gateway.CORSOrigins,
		ConfirmDeadline: cfg.Tx.ConfirmDeadline,
	}, disp, channelRegistry, broadcaster, txQueue, txBroadcaster, authSvc, slogLogger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := channelRegistry.StartAll(runCtx); err != nil {
		logger.Error(runCtx, "channel startup error", "error", err)
	}
	go dispatchChannelMessages(runCtx, channelRegistry, disp, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler: gw.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(runCtx, "gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info(runCtx, "shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error(runCtx, "gateway server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = channelRegistry.StopAll(shutdownCtx)
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	cancel()

	return nil
}

// dispatchChannelMessages drains every registered adapter's inbound
// messages through the same Dispatch entry point the gateway's chat.send
// method uses; it is the other live caller of Dispatcher.Dispatch.
func dispatchChannelMessages(ctx context.Context, registry *channels.Registry, disp *dispatcher.Dispatcher, logger *observability.Logger) {
	for msg := range registry.AggregateMessages(ctx) {
		go func(m *models.NormalizedMessage) {
			if _, err := disp.Dispatch(ctx, m); err != nil {
				logger.Error(ctx, "channel dispatch error", "channel", m.ChannelType, "error", err)
			}
		}(msg)
	}
}

// newSlogLogger builds the plain *slog.Logger the gateway and channel
// adapters take directly, alongside the redacting observability.Logger
// used for application-level logging.
func newSlogLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.Database.URL == "" {
		return sessions.NewMemoryStore(), nil
	}
	pgCfg := sessions.DefaultPostgresConfig()
	if cfg.Database.MaxConnections > 0 {
		pgCfg.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	store, err := sessions.NewPostgresStoreFromDSN(cfg.Database.URL, pgCfg)
	if err != nil {
		return nil, err
	}
	if migrator, merr := sessions.NewMigrator(store.DB()); merr == nil {
		_ = migrator.EnsureSchema(context.Background())
	}
	return store, nil
}

func buildMemoryManager(cfg *config.Config) (*memory.Manager, error) {
	switch cfg.Memory.Backend {
	case "postgres":
		store, err := memory.NewPostgresStore(memory.PostgresConfig{DSN: cfg.Memory.DSN, RunMigrations: true})
		if err != nil {
			return nil, err
		}
		return memory.NewManager(store), nil
	default:
		store, err := memory.NewSQLiteStore(memory.SQLiteConfig{Path: cfg.Memory.Path})
		if err != nil {
			return nil, err
		}
		return memory.NewManager(store), nil
	}
}

// txEnqueuer adapts *txqueue.Coordinator's typed Enqueue to the
// tools.TxEnqueuer interface the tool Context carries, for tools outside
// the finance package (which calls the Coordinator directly) that only
// have an untyped intent at hand.
type txEnqueuer struct {
	coordinator *txqueue.Coordinator
}

func (e txEnqueuer) Enqueue(ctx context.Context, sessionID string, intent any) (string, error) {
	switch v := intent.(type) {
	case txqueue.TxIntent:
		return e.coordinator.Enqueue(ctx, sessionID, v)
	case *txqueue.TxIntent:
		return e.coordinator.Enqueue(ctx, sessionID, *v)
	default:
		return "", fmt.Errorf("txqueue: unsupported intent type %T", intent)
	}
}

func firstFallbackModel(cfg config.ProvidersConfig) string {
	if len(cfg.Fallback) > 0 {
		return cfg.Fallback[0].Model
	}
	return ""
}

// buildModelClient assembles the Model provider ABI's fallback list
// (§6): one ModelClient per configured fallback entry, in order, wrapped
// in a FallbackList so the Orchestrator sees a single ModelClient.
func buildModelClient(cfg *config.Config) (llm.ModelClient, error) {
	entries := cfg.Providers.Fallback
	if len(entries) == 0 {
		entries = config.DefaultProvidersConfig().Fallback
	}

	clients := make([]llm.ModelClient, 0, len(entries))
	for _, entry := range entries {
		cred := cfg.Providers.Credentials[entry.Credential]
		switch entry.Provider {
		case "anthropic":
			c, err := llm.NewAnthropicClient(llm.AnthropicConfig{
				APIKey: cred.APIKey, BaseURL: cred.BaseURL, DefaultModel: entry.Model,
				MaxRetries: 3, RetryDelay: time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic client: %w", err)
			}
			clients = append(clients, c)
		case "openai":
			c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
				Name: entry.Credential, APIKey: cred.APIKey, BaseURL: cred.BaseURL, DefaultModel: entry.Model,
				MaxRetries: 3, RetryDelay: time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("openai client: %w", err)
			}
			clients = append(clients, c)
		case "gemini":
			c, err := llm.NewGeminiClient(context.Background(), llm.GeminiConfig{
				APIKey: cred.APIKey, DefaultModel: entry.Model, MaxRetries: 3, RetryDelay: time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("gemini client: %w", err)
			}
			clients = append(clients, c)
		default:
			return nil, fmt.Errorf("unsupported provider %q in fallback list", entry.Provider)
		}
	}

	if len(clients) == 1 {
		return clients[0], nil
	}
	return llm.NewFallbackList(llm.DefaultFailoverConfig(), clients...), nil
}

func registerChannels(registry *channels.Registry, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Channels.Telegram.Enabled {
		mode := telegram.ModeLongPolling
		if cfg.Channels.Telegram.Webhook != "" {
			mode = telegram.ModeWebhook
		}
		a, err := telegram.NewAdapter(telegram.Config{
			Token: cfg.Channels.Telegram.BotToken, Mode: mode, WebhookURL: cfg.Channels.Telegram.Webhook,
			MaxReconnectAttempts: 5, ReconnectDelay: 2 * time.Second, RateLimit: 20, RateBurst: 5,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		registry.Register(a)
	}
	if cfg.Channels.Discord.Enabled {
		a, err := discord.NewAdapter(discord.Config{
			Token: cfg.Channels.Discord.BotToken, MaxReconnectAttempts: 5,
			ReconnectBackoff: 30 * time.Second, RateLimit: 20, RateBurst: 5,
		})
		if err != nil {
			return fmt.Errorf("discord adapter: %w", err)
		}
		registry.Register(a)
	}
	if cfg.Channels.Slack.Enabled {
		a, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Channels.Slack.BotToken, AppToken: cfg.Channels.Slack.AppToken,
			RateLimit: 20, RateBurst: 5, Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("slack adapter: %w", err)
		}
		registry.Register(a)
	}
	if cfg.Channels.WhatsApp.Enabled {
		a, err := whatsapp.NewAdapter(whatsapp.Config{
			Enabled: true, SessionPath: cfg.Channels.WhatsApp.SessionPath,
			SendReadReceipts: cfg.Channels.WhatsApp.Presence.SendReadReceipts,
			SendTyping:       cfg.Channels.WhatsApp.Presence.SendTyping,
			RateLimit:        20, RateBurst: 5, Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("whatsapp adapter: %w", err)
		}
		registry.Register(a)
	}
	if cfg.Channels.Matrix.Enabled {
		a, err := matrix.NewAdapter(matrix.Config{
			Homeserver: cfg.Channels.Matrix.Homeserver, UserID: cfg.Channels.Matrix.UserID,
			AccessToken: cfg.Channels.Matrix.AccessToken, DeviceID: cfg.Channels.Matrix.DeviceID,
			AllowedRooms: cfg.Channels.Matrix.AllowedRooms,
		})
		if err != nil {
			return fmt.Errorf("matrix adapter: %w", err)
		}
		registry.Register(a)
	}
	if cfg.Channels.Mattermost.Enabled {
		a, err := mattermost.NewAdapter(mattermost.Config{
			ServerURL: cfg.Channels.Mattermost.ServerURL, Token: cfg.Channels.Mattermost.Token,
			Username: cfg.Channels.Mattermost.Username, Password: cfg.Channels.Mattermost.Password,
			TeamName: cfg.Channels.Mattermost.TeamName, RateLimit: 20, RateBurst: 5,
		})
		if err != nil {
			return fmt.Errorf("mattermost adapter: %w", err)
		}
		registry.Register(a)
	}

	registry.Register(cron.NewAdapter(cron.Config{TickInterval: time.Second, Logger: logger}, nil))

	return nil
}

// registerTools wires every tool subpackage into the registry (§10
// DOMAIN STACK / §4.4). token_lookup and wallet_balance are left
// unregistered: no PriceLookup/BalanceLookup implementation is grounded
// anywhere in the corpus, and fabricating one would mean guessing at a
// chain-data provider with no reference to build it from.
func registerTools(registry *tools.Registry, cfg *config.Config, channelRegistry *channels.Registry, sessionStore sessions.Store, jobStore jobs.Store, skillsRegistry *skills.Registry, txQueue *txqueue.Coordinator, txBroadcaster txqueue.Broadcaster, model llm.ModelClient, executor *tools.Executor) {
	const defaultMaxReadBytes = 1 << 20 // 1MB, no corresponding spec config field

	execManager := execttools.NewManager(cfg.Workspace.Dir)
	registry.Register(execttools.NewExecTool("exec", execManager))
	registry.Register(execttools.NewProcessTool(execManager))

	filesCfg := files.Config{Workspace: cfg.Workspace.Dir, MaxReadBytes: defaultMaxReadBytes}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	registry.Register(finance.NewWeb3TxTool(txQueue, txBroadcaster, cfg.Tx.ConfirmDeadline))

	registry.Register(memorysearch.NewMemorySearchTool(&memorysearch.Config{
		Directory: cfg.Workspace.Dir, WorkspacePath: cfg.Workspace.Dir,
		MaxResults: cfg.Tools.MemorySearch.TopK, MaxSnippetLen: 280, Mode: "lexical",
		Embeddings: memorysearch.EmbeddingsConfig{
			Provider: cfg.Tools.MemorySearch.Embeddings.Provider,
			Model:    cfg.Tools.MemorySearch.Embeddings.Model,
		},
	}))
	registry.Register(memorysearch.NewMemoryGetTool(&memorysearch.Config{
		Directory: cfg.Workspace.Dir, WorkspacePath: cfg.Workspace.Dir,
	}))

	registry.Register(message.NewSendMessageTool(channelRegistry, sessionStore))
	registry.Register(message.NewEditMessageTool(channelRegistry))

	registry.Register(systemtools.NewDefineTasksTool(func(tc *tools.Context) []string {
		full := registry.Filtered(&policy.Policy{Profile: policy.ProfileFull})
		names := make([]string, len(full))
		for i, t := range full {
			names[i] = t.Name()
		}
		return names
	}))
	registry.Register(systemtools.NewAddTaskTool())
	registry.Register(systemtools.NewSayToUserTool())
	registry.Register(systemtools.NewTaskFullyCompletedTool())
	registry.Register(systemtools.NewUseSkillTool(skillsRegistry))
	registry.Register(systemtools.NewManageSkillsTool(skillsRegistry))
	registry.Register(systemtools.NewSetAgentSubtypeTool())
	registry.Register(systemtools.NewAskUserTool())

	subagentRunner := func(ctx context.Context, task string, allowed, denied []string) (string, error) {
		agentCtx := models.NewAgentContext("subagent")
		pol := &policy.Policy{Profile: policy.ProfileStandard, Allow: allowed, Deny: denied}
		tc := &tools.Context{Agent: agentCtx}
		conv := &llm.Conversation{
			System:   "You are a focused sub-agent completing one delegated task.",
			Messages: []llm.ConversationMessage{{Role: models.RoleUser, Content: task}},
		}
		outcome, err := orchestrator.New(model, registry, executor, orchestrator.DefaultConfig()).Run(ctx, conv, agentCtx, pol, tc, "")
		if err != nil {
			return "", err
		}
		return outcome.FinalText, nil
	}
	subagentMgr := systemtools.NewSubAgentManager(subagentRunner, 4)
	registry.Register(systemtools.NewSubagentTool(subagentMgr))
	registry.Register(systemtools.NewSubagentStatusTool(subagentMgr))

	searchCfg := &websearch.Config{DefaultBackend: websearch.SearchBackend(cfg.Tools.WebSearch.Provider)}
	switch searchCfg.DefaultBackend {
	case websearch.BackendBraveSearch:
		searchCfg.BraveAPIKey = cfg.Tools.WebSearch.APIKey
	case websearch.BackendSearXNG:
		searchCfg.SearXNGURL = cfg.Tools.WebSearch.APIKey
	default:
		searchCfg.DefaultBackend = websearch.BackendDuckDuckGo
	}
	registry.Register(websearch.NewWebSearchTool(searchCfg))
	registry.Register(websearch.NewWebFetchTool(&websearch.FetchConfig{MaxChars: cfg.Tools.WebFetch.MaxBodyKB * 1024}))

	registry.Register(jobtools.NewCancelTool(jobStore))
	registry.Register(jobtools.NewListTool(jobStore))
	registry.Register(jobtools.NewStatusTool(jobStore))
}
