// Package dispatcher implements the Message Dispatcher (§4.1): the entry
// point that turns one NormalizedMessage into a DispatchResult, resolving
// identity and session state, assembling the system prompt and tool
// palette, handing control to the Orchestrator, and persisting the outcome.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/internal/identity"
	"github.com/starkbot/starkbot/internal/llm"
	"github.com/starkbot/starkbot/internal/memory"
	"github.com/starkbot/starkbot/internal/orchestrator"
	"github.com/starkbot/starkbot/internal/sessions"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// Config tunes a Dispatcher's ambient prompt and history behavior. None of
// this is per-session state; it's fixed at construction.
type Config struct {
	// SoulText is the identity/persona text every system prompt opens with.
	SoulText string

	// OperationalGuidelines follows SoulText in the assembled system prompt.
	OperationalGuidelines string

	// DefaultProfile is the tool profile a session gets when not an admin.
	DefaultProfile policy.Profile

	// AdminProfile is the tool profile granted to administrator identities.
	AdminProfile policy.Profile

	// HistoryMessages is K, the number of most recent messages loaded from
	// the session before dispatch (derived from the configured model's
	// context window minus a reserve; fixed here for simplicity).
	HistoryMessages int

	// MemorySnippets caps how many retrieved memories are folded into the
	// system prompt.
	MemorySnippets int

	// Model names the model to request completions from; passed through to
	// the Orchestrator/ModelClient unchanged.
	Model string
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		OperationalGuidelines: "Use tools when they help; call task_fully_completed or " +
			"say_to_user(finished_task=true) once the user's request is satisfied.",
		DefaultProfile:  policy.ProfileStandard,
		AdminProfile:    policy.ProfileFull,
		HistoryMessages: 40,
		MemorySnippets:  6,
	}
}

// DispatchResult is the Dispatcher's public contract (§4.1).
type DispatchResult struct {
	ResponseText string
	Completed    bool
	Error        string
}

// Dispatcher wires every leaf subsystem the core depends on: identity and
// session resolution, the memory/context builder, the tool registry, the
// event broadcaster, and the Orchestrator itself.
type Dispatcher struct {
	identities   identity.Store
	sessionStore sessions.Store
	memoryMgr    *memory.Manager
	registry     *tools.Registry
	orch         *orchestrator.Orchestrator
	broadcaster  *events.Broadcaster
	txQueue      tools.TxEnqueuer
	apiKeys      func(name string) (string, bool)
	config       Config
}

// New builds a Dispatcher from its already-constructed leaf dependencies.
func New(
	identities identity.Store,
	sessionStore sessions.Store,
	memoryMgr *memory.Manager,
	registry *tools.Registry,
	orch *orchestrator.Orchestrator,
	broadcaster *events.Broadcaster,
	txQueue tools.TxEnqueuer,
	apiKeys func(name string) (string, bool),
	config Config,
) *Dispatcher {
	return &Dispatcher{
		identities:   identities,
		sessionStore: sessionStore,
		memoryMgr:    memoryMgr,
		registry:     registry,
		orch:         orch,
		broadcaster:  broadcaster,
		txQueue:      txQueue,
		apiKeys:      apiKeys,
		config:       config,
	}
}

// Dispatch implements §4.1's algorithm end to end for one NormalizedMessage.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.NormalizedMessage) (*DispatchResult, error) {
	id, err := d.identities.GetOrCreate(ctx, msg.ChannelType, msg.UserID, msg.UserName)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: resolve identity: %w", err)
	}

	session, err := d.resolveSession(ctx, msg, id)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: resolve session: %w", err)
	}

	now := time.Now()
	if err := d.sessionStore.AppendMessage(ctx, session.ID, &models.Message{
		SessionID: session.ID, Role: models.RoleUser, Content: msg.Text, CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("dispatcher: persist inbound message: %w", err)
	}

	pol := &policy.Policy{Profile: d.profileFor(id), Subtype: string(models.SubtypeNone), SafeMode: session.SafeMode}

	memorySnippets := d.retrieveMemories(ctx, id.ID, msg.Text)
	agentCtx := models.NewAgentContext(session.ID)
	systemPrompt := d.buildSystemPrompt(session, agentCtx, memorySnippets)

	// The inbound user message was just appended above, so GetHistory's
	// tail already includes this turn — no separate append is needed.
	history, err := d.sessionStore.GetHistory(ctx, session.ID, d.config.HistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: load history: %w", err)
	}

	conv := &llm.Conversation{System: systemPrompt, Messages: convertHistory(history)}

	tc := &tools.Context{
		SessionID:      session.ID,
		ChannelID:      msg.ChannelID,
		ChannelType:    msg.ChannelType,
		SafeMode:       session.SafeMode,
		Agent:          agentCtx,
		Events:         d.broadcaster,
		APIKeyResolver: d.apiKeys,
		TxQueue:        d.txQueue,
	}

	outcome, runErr := d.orch.Run(ctx, conv, agentCtx, pol, tc, d.config.Model)

	responseText, completed, completionStatus := d.resolveOutcome(outcome, runErr)

	cleaned, markers := memory.ExtractMarkers(responseText)
	for _, marker := range markers {
		if _, err := d.memoryMgr.Remember(ctx, id.ID, marker.Content, marker.Kind, marker.Kind.DefaultImportance()); err != nil {
			d.publish(ctx, events.AgentWarning, session, map[string]any{"error": err.Error(), "stage": "memory_remember"})
		}
	}

	if err := d.sessionStore.AppendMessage(ctx, session.ID, &models.Message{
		SessionID: session.ID, Role: models.RoleAssistant, Content: cleaned, CreatedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("dispatcher: persist outbound message: %w", err)
	}

	session.UpdatedAt = time.Now()
	session.CompletionStatus = completionStatus
	if err := d.sessionStore.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("dispatcher: update session: %w", err)
	}

	result := &DispatchResult{ResponseText: cleaned, Completed: completed}
	if runErr != nil {
		result.Error = runErr.Error()
		d.publish(ctx, events.AgentError, session, map[string]any{"error": runErr.Error()})
	} else {
		d.publish(ctx, events.AgentResponse, session, map[string]any{"text": cleaned, "completed": completed})
	}

	return result, nil
}

// resolveSession implements §4.1 step 2.
func (d *Dispatcher) resolveSession(ctx context.Context, msg *models.NormalizedMessage, id *models.Identity) (*models.Session, error) {
	startSafeMode := msg.StartSafeMode && !id.IsAdmin

	if startSafeMode {
		if prior, err := d.sessionStore.ActiveForIdentity(ctx, id.ID, msg.ChannelID); err == nil && prior != nil && prior.SafeMode {
			prior.CompletionStatus = models.CompletionCancelled
			prior.UpdatedAt = time.Now()
			_ = d.sessionStore.Update(ctx, prior)
		}
		session := &models.Session{
			IdentityID:       id.ID,
			ChannelID:        msg.ChannelID,
			Scope:            sessionScope(msg),
			SafeMode:         true,
			CompletionStatus: models.CompletionActive,
		}
		if err := d.sessionStore.Create(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	}

	if msg.SafeModeSessionID != "" {
		session, err := d.sessionStore.Get(ctx, msg.SafeModeSessionID)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	existing, err := d.sessionStore.ActiveForIdentity(ctx, id.ID, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.SafeMode {
		return existing, nil
	}

	session := &models.Session{
		IdentityID:       id.ID,
		ChannelID:        msg.ChannelID,
		Scope:            sessionScope(msg),
		SafeMode:         false,
		CompletionStatus: models.CompletionActive,
	}
	if err := d.sessionStore.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// sessionScope infers a Session's Scope from the inbound message: cron
// channels are always ScopeCron; a chat id that differs from the sending
// user's id indicates a multi-party (group) context, otherwise a DM.
func sessionScope(msg *models.NormalizedMessage) models.Scope {
	if msg.ChannelType == models.ChannelCron {
		return models.ScopeCron
	}
	if msg.ChatID != "" && msg.ChatID != msg.UserID {
		return models.ScopeGroup
	}
	return models.ScopeDM
}

// profileFor implements §4.1 step 3's starting point: the base profile
// before subtype restriction and safe-mode intersection (both applied by
// the policy.Resolver on every Registry.Filtered call).
func (d *Dispatcher) profileFor(id *models.Identity) policy.Profile {
	if id.IsAdmin {
		return d.config.AdminProfile
	}
	return d.config.DefaultProfile
}

func (d *Dispatcher) retrieveMemories(ctx context.Context, identityID, query string) []*models.SearchResult {
	if d.memoryMgr == nil {
		return nil
	}
	resp, err := d.memoryMgr.Search(ctx, &models.SearchRequest{IdentityID: identityID, Query: query, Limit: d.config.MemorySnippets})
	if err != nil {
		return nil
	}
	return resp.Results
}

// buildSystemPrompt implements §4.1 step 4.
func (d *Dispatcher) buildSystemPrompt(session *models.Session, agentCtx *models.AgentContext, memories []*models.SearchResult) string {
	var b strings.Builder

	if d.config.SoulText != "" {
		b.WriteString(d.config.SoulText)
		b.WriteString("\n\n")
	}
	if d.config.OperationalGuidelines != "" {
		b.WriteString(d.config.OperationalGuidelines)
		b.WriteString("\n\n")
	}
	if agentCtx.Subtype != models.SubtypeNone {
		fmt.Fprintf(&b, "You are currently acting as the %s subtype.\n\n", agentCtx.Subtype)
	}
	if cur := agentCtx.Current(); cur != nil {
		fmt.Fprintf(&b, "Current task: %s", cur.Description)
		if cur.AutoCompleteTool != "" {
			fmt.Fprintf(&b, " (auto-completes on a successful %s call)", cur.AutoCompleteTool)
		}
		b.WriteString("\n\n")
	}
	if session.SafeMode {
		b.WriteString("Safe mode is active: only memory_read and memory_search are available. " +
			"No other tool may be invoked in this session.\n\n")
	}
	if len(memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, r := range memories {
			fmt.Fprintf(&b, "- %s\n", r.Memory.Content)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// convertHistory turns persisted Message records into the plain user/
// assistant turns an llm.Conversation carries across dispatches; tool_call
// and tool_result records never leave a single dispatch's conversation, so
// stored history is always user/assistant/system text.
func convertHistory(history []*models.Message) []llm.ConversationMessage {
	out := make([]llm.ConversationMessage, 0, len(history))
	for _, m := range history {
		out = append(out, llm.ConversationMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// resolveOutcome maps an Orchestrator Outcome (and any run error) onto the
// text, completion flag, and session CompletionStatus the dispatch
// persists, implementing §4.1's failure semantics for the iteration-bound
// and unrecoverable-error cases.
func (d *Dispatcher) resolveOutcome(outcome *orchestrator.Outcome, runErr error) (text string, completed bool, status models.CompletionStatus) {
	if runErr != nil {
		return "I ran into a problem and couldn't finish this request.", false, models.CompletionFailed
	}
	if outcome.FinalText == "" && !outcome.Completed {
		return "I wasn't able to finish this within the allotted number of steps.", false, models.CompletionFailed
	}
	if outcome.Completed {
		return outcome.FinalText, true, models.CompletionComplete
	}
	return outcome.FinalText, false, models.CompletionActive
}

func (d *Dispatcher) publish(ctx context.Context, t events.Type, session *models.Session, data map[string]any) {
	if d.broadcaster == nil {
		return
	}
	d.broadcaster.Publish(ctx, events.Event{
		Event:     t,
		Timestamp: time.Now(),
		SessionID: session.ID,
		ChannelID: session.ChannelID,
		Data:      data,
	})
}
