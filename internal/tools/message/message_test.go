package message

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/internal/sessions"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/pkg/models"
)

type stubAdapter struct {
	channelType models.ChannelType
	sent        []*models.ChannelOutbound
}

func (a *stubAdapter) Type() models.ChannelType { return a.channelType }

func (a *stubAdapter) Send(ctx context.Context, out *models.ChannelOutbound) error {
	a.sent = append(a.sent, out)
	return nil
}

func newTestContext(channelID string, channelType models.ChannelType, sessionID string) *tools.Context {
	return &tools.Context{
		SessionID:   sessionID,
		ChannelID:   channelID,
		ChannelType: channelType,
		Agent:       models.NewAgentContext(sessionID),
	}
}

func TestSendMessageToolSend(t *testing.T) {
	registry := channels.NewRegistry()
	adapter := &stubAdapter{channelType: models.ChannelTelegram}
	registry.Register(adapter)
	store := sessions.NewMemoryStore()

	tool := NewSendMessageTool(registry, store)
	params, _ := json.Marshal(map[string]any{
		"content": "hello",
		"to":      "123",
	})
	result := tool.Execute(context.Background(), params, newTestContext("account-1", models.ChannelTelegram, "session-1"))
	if !result.Success {
		t.Fatalf("expected success: %s", result.Content)
	}
	if len(adapter.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(adapter.sent))
	}
	if adapter.sent[0].ChatID != "123" || adapter.sent[0].Text != "hello" {
		t.Fatalf("unexpected outbound: %+v", adapter.sent[0])
	}
	if !strings.Contains(result.Content, "sent") {
		t.Fatalf("expected result status: %s", result.Content)
	}
}

func TestSendMessageDefaultsToSessionChat(t *testing.T) {
	registry := channels.NewRegistry()
	adapter := &stubAdapter{channelType: models.ChannelDiscord}
	registry.Register(adapter)

	tool := NewSendMessageTool(registry, nil)
	params, _ := json.Marshal(map[string]any{"content": "hi"})
	tc := newTestContext("chat-42", models.ChannelDiscord, "")
	result := tool.Execute(context.Background(), params, tc)
	if !result.Success {
		t.Fatalf("expected success: %s", result.Content)
	}
	if adapter.sent[0].ChatID != "chat-42" {
		t.Fatalf("expected default chat id from context, got %s", adapter.sent[0].ChatID)
	}
}

func TestSendMessageRequiresContent(t *testing.T) {
	registry := channels.NewRegistry()
	tool := NewSendMessageTool(registry, nil)
	params, _ := json.Marshal(map[string]any{"content": "  "})
	result := tool.Execute(context.Background(), params, newTestContext("c", models.ChannelSlack, ""))
	if result.Success {
		t.Fatalf("expected failure for empty content")
	}
}

func TestSendMessageNoOutboundAdapter(t *testing.T) {
	registry := channels.NewRegistry()
	tool := NewSendMessageTool(registry, nil)
	params, _ := json.Marshal(map[string]any{"content": "hi"})
	result := tool.Execute(context.Background(), params, newTestContext("c", models.ChannelSlack, ""))
	if result.Success {
		t.Fatalf("expected failure with no registered adapter")
	}
}

func TestEditMessageRejectedWhenUnsupported(t *testing.T) {
	registry := channels.NewRegistry()
	adapter := &stubAdapter{channelType: models.ChannelWhatsApp}
	registry.Register(adapter)

	tool := NewEditMessageTool(registry)
	params, _ := json.Marshal(map[string]any{"message_id": "m1", "content": "updated"})
	result := tool.Execute(context.Background(), params, newTestContext("chat-1", models.ChannelWhatsApp, ""))
	if result.Success {
		t.Fatalf("expected failure: whatsapp does not support editing")
	}
}

func TestEditMessageSucceedsWhenSupported(t *testing.T) {
	registry := channels.NewRegistry()
	adapter := &stubAdapter{channelType: models.ChannelTelegram}
	registry.Register(adapter)

	tool := NewEditMessageTool(registry)
	params, _ := json.Marshal(map[string]any{"message_id": "m1", "content": "updated", "to": "chat-1"})
	result := tool.Execute(context.Background(), params, newTestContext("chat-1", models.ChannelTelegram, ""))
	if !result.Success {
		t.Fatalf("expected success: %s", result.Content)
	}
	if len(adapter.sent) != 1 || adapter.sent[0].Kind != models.OutboundEdit || adapter.sent[0].ReplyTo != "m1" {
		t.Fatalf("unexpected outbound: %+v", adapter.sent)
	}
}
