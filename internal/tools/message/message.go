// Package message implements the messaging subtype's tool group:
// send_message delivers a new outbound message through a channel
// adapter's egress, edit_message revises one already sent.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/internal/sessions"
	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

func schema(properties map[string]any, required ...string) json.RawMessage {
	obj := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		obj["required"] = required
	}
	out, _ := json.Marshal(obj)
	return out
}

func respond(callID string, success bool, content string, meta map[string]any) *models.ToolResponse {
	return &models.ToolResponse{CallID: callID, Success: success, Content: content, Metadata: meta}
}

// resolveChatID picks the outbound chat id: an explicit "to" overrides the
// calling session's own channel id, so a tool call can message a different
// peer than the one driving the current dispatch.
func resolveChatID(to string, tc *tools.Context) string {
	if to = strings.TrimSpace(to); to != "" {
		return to
	}
	if tc != nil {
		return tc.ChannelID
	}
	return ""
}

// SendMessageTool delivers a new message through the channel adapter the
// calling session is attached to (or, with an explicit "to", some other
// chat on the same channel), and appends it to the session's history.
type SendMessageTool struct {
	channels *channels.Registry
	sessions sessions.Store
}

func NewSendMessageTool(registry *channels.Registry, store sessions.Store) *SendMessageTool {
	return &SendMessageTool{channels: registry, sessions: store}
}

func (t *SendMessageTool) Name() string          { return "send_message" }
func (t *SendMessageTool) Group() policy.Group   { return policy.GroupMessaging }
func (t *SendMessageTool) Safety() policy.Safety { return policy.SafetyStandard }
func (t *SendMessageTool) Description() string {
	return "Send a new message to the current chat, or to another chat id on the same channel."
}
func (t *SendMessageTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"content": map[string]any{"type": "string", "description": "message text to send"},
		"to":      map[string]any{"type": "string", "description": "chat id to send to; defaults to the current session's chat"},
	}, "content")
}

func (t *SendMessageTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	if t.channels == nil {
		return respond("", false, "channel registry unavailable", nil)
	}
	var params struct {
		Content string `json:"content"`
		To      string `json:"to"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return respond("", false, "content is required", nil)
	}
	if tc == nil || tc.ChannelID == "" {
		return respond("", false, "no channel context available", nil)
	}
	chatID := resolveChatID(params.To, tc)
	if chatID == "" {
		return respond("", false, "no chat id to send to", nil)
	}

	adapter, ok := t.channels.GetOutbound(tc.ChannelType)
	if !ok {
		return respond("", false, fmt.Sprintf("channel %s has no outbound adapter", tc.ChannelType), nil)
	}

	out := &models.ChannelOutbound{
		ChannelID: tc.ChannelID,
		ChatID:    chatID,
		Text:      content,
		Kind:      models.OutboundMessage,
	}
	if err := adapter.Send(ctx, out); err != nil {
		return respond("", false, fmt.Sprintf("send message: %v", err), nil)
	}

	messageID := uuid.NewString()
	if tc.SessionID != "" && t.sessions != nil {
		msg := &models.Message{
			ID:        messageID,
			SessionID: tc.SessionID,
			Role:      models.RoleAssistant,
			Content:   content,
			CreatedAt: time.Now(),
		}
		if err := t.sessions.AppendMessage(ctx, tc.SessionID, msg); err != nil {
			return respond("", false, fmt.Sprintf("store message: %v", err), nil)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"status":     "sent",
		"message_id": messageID,
		"chat_id":    chatID,
	})
	return respond("", true, string(payload), nil)
}

// EditMessageTool revises a message already sent, for channels whose
// capabilities advertise SupportsEditing.
type EditMessageTool struct {
	channels *channels.Registry
}

func NewEditMessageTool(registry *channels.Registry) *EditMessageTool {
	return &EditMessageTool{channels: registry}
}

func (t *EditMessageTool) Name() string          { return "edit_message" }
func (t *EditMessageTool) Group() policy.Group   { return policy.GroupMessaging }
func (t *EditMessageTool) Safety() policy.Safety { return policy.SafetyStandard }
func (t *EditMessageTool) Description() string {
	return "Edit a message that was already sent, replacing its content."
}
func (t *EditMessageTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"message_id": map[string]any{"type": "string", "description": "id of the message to edit"},
		"content":    map[string]any{"type": "string", "description": "new message text"},
		"to":         map[string]any{"type": "string", "description": "chat id the message was sent to; defaults to the current session's chat"},
	}, "message_id", "content")
}

func (t *EditMessageTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	if t.channels == nil {
		return respond("", false, "channel registry unavailable", nil)
	}
	var params struct {
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
		To        string `json:"to"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}
	messageID := strings.TrimSpace(params.MessageID)
	content := strings.TrimSpace(params.Content)
	if messageID == "" || content == "" {
		return respond("", false, "message_id and content are required", nil)
	}
	if tc == nil || tc.ChannelID == "" {
		return respond("", false, "no channel context available", nil)
	}
	chatID := resolveChatID(params.To, tc)
	if chatID == "" {
		return respond("", false, "no chat id to edit on", nil)
	}

	caps := channels.GetChannelCapabilities(channels.FromModelChannelType(tc.ChannelType))
	if caps != nil && !caps.SupportsEditing {
		return respond("", false, fmt.Sprintf("channel %s does not support editing sent messages", tc.ChannelType), nil)
	}

	adapter, ok := t.channels.GetOutbound(tc.ChannelType)
	if !ok {
		return respond("", false, fmt.Sprintf("channel %s has no outbound adapter", tc.ChannelType), nil)
	}

	out := &models.ChannelOutbound{
		ChannelID: tc.ChannelID,
		ChatID:    chatID,
		Text:      content,
		Kind:      models.OutboundEdit,
		ReplyTo:   messageID,
	}
	if err := adapter.Send(ctx, out); err != nil {
		return respond("", false, fmt.Sprintf("edit message: %v", err), nil)
	}

	payload, _ := json.Marshal(map[string]any{"status": "edited", "message_id": messageID})
	return respond("", true, string(payload), nil)
}
