package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging platform a NormalizedMessage originated on.
type ChannelType string

const (
	ChannelWeb        ChannelType = "web"
	ChannelTelegram   ChannelType = "telegram"
	ChannelSlack      ChannelType = "slack"
	ChannelDiscord    ChannelType = "discord"
	ChannelWhatsApp   ChannelType = "whatsapp"
	ChannelMatrix     ChannelType = "matrix"
	ChannelMattermost ChannelType = "mattermost"
	ChannelCron       ChannelType = "cron"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the author of a persisted message record.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// NormalizedMessage is the shape every channel adapter produces. The
// Dispatcher treats it as an immutable input.
type NormalizedMessage struct {
	ChannelID         string      `json:"channel_id"`
	ChannelType       ChannelType `json:"channel_type"`
	ChatID            string      `json:"chat_id"`
	UserID            string      `json:"user_id"`
	UserName          string      `json:"user_name"`
	Text              string      `json:"text"`
	MessageID         string      `json:"message_id,omitempty"`
	SafeModeSessionID string      `json:"safe_mode_session_id,omitempty"`
	StartSafeMode     bool        `json:"start_safe_mode,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	ReceivedAt        time.Time   `json:"received_at"`
}

// Attachment represents a file or media attachment on an inbound message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ChannelOutbound is what the Dispatcher hands back to a channel adapter
// for delivery. kind distinguishes a brand-new message from an edit of a
// message already sent (used for streamed intermediate updates).
type ChannelOutbound struct {
	ChannelID string             `json:"channel_id"`
	ChatID    string             `json:"chat_id"`
	Text      string             `json:"text"`
	Kind      OutboundKind       `json:"kind"`
	ReplyTo   string             `json:"reply_to,omitempty"`
}

type OutboundKind string

const (
	OutboundMessage OutboundKind = "message"
	OutboundEdit    OutboundKind = "edit"
)

// ToolCall is an LLM's request to execute a tool. CallID is unique within
// the single model response that produced it.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// ToolResponse is the result of executing one ToolCall.
type ToolResponse struct {
	CallID     string         `json:"call_id"`
	Success    bool           `json:"success"`
	Content    string         `json:"content"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Scope classifies the conversational context a session lives in.
type Scope string

const (
	ScopeDM    Scope = "dm"
	ScopeGroup Scope = "group"
	ScopeCron  Scope = "cron"
)

// CompletionStatus is the terminal-or-not state of a session.
type CompletionStatus string

const (
	CompletionActive    CompletionStatus = "active"
	CompletionComplete  CompletionStatus = "complete"
	CompletionCancelled CompletionStatus = "cancelled"
	CompletionFailed    CompletionStatus = "failed"
)

// Session is a conversation context. Safe-mode is fixed at creation time;
// a session in a terminal CompletionStatus accepts no further user turns
// until explicitly resumed.
type Session struct {
	ID               string           `json:"id"`
	IdentityID       string           `json:"identity_id"`
	ChannelID        string           `json:"channel_id"`
	Scope            Scope            `json:"scope"`
	SafeMode         bool             `json:"safe_mode"`
	CompletionStatus CompletionStatus `json:"completion_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsOpen reports whether the session currently accepts new user turns.
func (s *Session) IsOpen() bool {
	return s.CompletionStatus == CompletionActive
}

// Message is an append-only record within a session. Ordering by
// CreatedAt is total.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is a stable logical user, created on first sighting per
// (ChannelType, UserID) and destroyed only by administrative action.
type Identity struct {
	ID          string      `json:"id"`
	ChannelType ChannelType `json:"channel_type"`
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name"`
	IsAdmin     bool        `json:"is_admin"`
	CreatedAt   time.Time   `json:"created_at"`
}
