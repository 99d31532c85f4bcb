package dispatcher

import (
	"context"
	"strings"
	"testing"

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

// fakeModel is a canned ModelClient test double: it returns one queued
// response per call, in order, and fails the test if asked for more than
// were queued.
type fakeModel struct {
	t         *testing.T
	responses []*llm.ModelResponse
	calls     int
}

func (f *fakeModel) Name() string              { return "fake" }
func (f *fakeModel) Models() []llm.ModelInfo    { return nil }
func (f *fakeModel) SupportsTools() bool        { return true }
func (f *fakeModel) Generate(ctx context.Context, conv *llm.Conversation, tools []llm.ToolSchema, opts llm.GenerateOptions) (*llm.ModelResponse, error) {
	if f.calls >= len(f.responses) {
		f.t.Fatalf("fakeModel: unexpected call %d, only %d responses queued", f.calls+1, len(f.responses))
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func textResponse(text string) *llm.ModelResponse {
	return &llm.ModelResponse{
		ContentParts: []llm.ContentPart{{Kind: llm.PartText, Text: text}},
		StopReason:   llm.StopEndTurn,
	}
}

func newTestDispatcher(t *testing.T, model llm.ModelClient) (*Dispatcher, *memory.Manager) {
	t.Helper()

	memStore, err := memory.NewSQLiteStore(memory.SQLiteConfig{})
	if err != nil {
		t.Fatalf("open sqlite memory store: %v", err)
	}
	t.Cleanup(func() { memStore.Close() })
	memMgr := memory.NewManager(memStore)

	registry := tools.NewRegistry(policy.NewResolver())
	executor := tools.NewExecutor(registry, tools.DefaultExecutorConfig())
	orch := orchestrator.New(model, registry, executor, orchestrator.DefaultConfig())

	d := New(
		identity.NewMemoryStore(),
		sessions.NewMemoryStore(),
		memMgr,
		registry,
		orch,
		events.NewBroadcaster(16),
		nil,
		nil,
		DefaultConfig(),
	)
	return d, memMgr
}

func TestDispatchNoToolCallsCompletesImmediately(t *testing.T) {
	model := &fakeModel{t: t, responses: []*llm.ModelResponse{textResponse("hello back")}}
	d, _ := newTestDispatcher(t, model)

	result, err := d.Dispatch(context.Background(), &models.NormalizedMessage{
		ChannelID: "web-1", ChannelType: models.ChannelWeb, ChatID: "u1", UserID: "u1", UserName: "Ann", Text: "hi",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.ResponseText != "hello back" {
		t.Fatalf("expected response text %q, got %q", "hello back", result.ResponseText)
	}
	if !result.Completed {
		t.Fatalf("expected completed=true for an empty task queue")
	}
	if result.Error != "" {
		t.Fatalf("expected no error, got %q", result.Error)
	}
}

func TestDispatchExtractsMemoryMarkers(t *testing.T) {
	model := &fakeModel{t: t, responses: []*llm.ModelResponse{
		textResponse("Got it. [REMEMBER: likes espresso over drip coffee]"),
	}}
	d, memMgr := newTestDispatcher(t, model)
	ctx := context.Background()

	result, err := d.Dispatch(ctx, &models.NormalizedMessage{
		ChannelID: "web-1", ChannelType: models.ChannelWeb, ChatID: "u2", UserID: "u2", UserName: "Bo", Text: "I like espresso",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if strings.Contains(result.ResponseText, "[REMEMBER") {
		t.Fatalf("expected marker stripped from response text, got %q", result.ResponseText)
	}
	if !strings.Contains(result.ResponseText, "Got it.") {
		t.Fatalf("expected surrounding text preserved, got %q", result.ResponseText)
	}

	id, err := d.identities.GetOrCreate(ctx, models.ChannelWeb, "u2", "Bo")
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	resp, err := memMgr.Search(ctx, &models.SearchRequest{IdentityID: id.ID, Query: "espresso", Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected one stored memory, got %d", len(resp.Results))
	}
	if resp.Results[0].Memory.Kind != models.KindRemember {
		t.Fatalf("expected kind remember, got %s", resp.Results[0].Memory.Kind)
	}
}

// TestDispatchSafeModeSessionDeactivatesPrior exercises resolveSession's
// cancellation branch directly: a still-open safe-mode session must be
// cancelled the moment a second start_safe_mode message arrives for the
// same (identity, channel).
func TestDispatchSafeModeSessionDeactivatesPrior(t *testing.T) {
	model := &fakeModel{t: t, responses: []*llm.ModelResponse{textResponse("entering safe mode again")}}
	d, _ := newTestDispatcher(t, model)
	ctx := context.Background()

	id, err := d.identities.GetOrCreate(ctx, models.ChannelWeb, "u3", "Cy")
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	prior := &models.Session{
		IdentityID: id.ID, ChannelID: "web-1", Scope: models.ScopeDM,
		SafeMode: true, CompletionStatus: models.CompletionActive,
	}
	if err := d.sessionStore.Create(ctx, prior); err != nil {
		t.Fatalf("seed prior session: %v", err)
	}

	if _, err := d.Dispatch(ctx, &models.NormalizedMessage{
		ChannelID: "web-1", ChannelType: models.ChannelWeb, ChatID: "u3", UserID: "u3", UserName: "Cy",
		Text: "start safe mode", StartSafeMode: true,
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := d.sessionStore.Get(ctx, prior.ID)
	if err != nil {
		t.Fatalf("get prior session: %v", err)
	}
	if got.CompletionStatus != models.CompletionCancelled {
		t.Fatalf("expected prior safe-mode session cancelled, got %s", got.CompletionStatus)
	}

	all, err := d.sessionStore.List(ctx, id.ID, sessions.ListOptions{})
	if err != nil || len(all) != 2 {
		t.Fatalf("expected exactly two sessions after dispatch, err=%v sessions=%d", err, len(all))
	}
}
