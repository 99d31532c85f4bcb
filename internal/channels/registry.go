package channels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starkbot/starkbot/pkg/models"
)

// ChatChannelID identifies one of the messaging platforms an
// ExternalChannel (§3a) can be configured for.
type ChatChannelID string

const (
	ChannelTelegram   ChatChannelID = "telegram"
	ChannelDiscord    ChatChannelID = "discord"
	ChannelSlack      ChatChannelID = "slack"
	ChannelWhatsApp   ChatChannelID = "whatsapp"
	ChannelMatrix     ChatChannelID = "matrix"
	ChannelMattermost ChatChannelID = "mattermost"
	ChannelWeb        ChatChannelID = "web"
	ChannelCron       ChatChannelID = "cron"
)

// ChatChannelOrder defines the preferred channel ordering for UI display.
var ChatChannelOrder = []ChatChannelID{
	ChannelTelegram,
	ChannelDiscord,
	ChannelSlack,
	ChannelWhatsApp,
	ChannelMatrix,
	ChannelMattermost,
	ChannelWeb,
	ChannelCron,
}

// ChannelMeta carries display metadata for a configured channel type.
type ChannelMeta struct {
	ID      ChatChannelID
	Label   string
	Blurb   string
	Aliases []string
}

var chatChannelMeta = map[ChatChannelID]*ChannelMeta{
	ChannelTelegram: {
		ID: ChannelTelegram, Label: "Telegram",
		Blurb: "register a bot with @BotFather", Aliases: []string{"tg"},
	},
	ChannelDiscord: {
		ID: ChannelDiscord, Label: "Discord",
		Blurb: "rich embeds and slash commands via a bot application",
	},
	ChannelSlack: {
		ID: ChannelSlack, Label: "Slack",
		Blurb: "Socket Mode app for real-time messaging",
	},
	ChannelWhatsApp: {
		ID: ChannelWhatsApp, Label: "WhatsApp",
		Blurb: "linked device via a QR-code pairing session", Aliases: []string{"wa"},
	},
	ChannelMatrix: {
		ID: ChannelMatrix, Label: "Matrix",
		Blurb: "federated, open protocol via the Client-Server API",
	},
	ChannelMattermost: {
		ID: ChannelMattermost, Label: "Mattermost",
		Blurb: "self-hosted team collaboration bot", Aliases: []string{"mm"},
	},
	ChannelWeb: {
		ID: ChannelWeb, Label: "Web",
		Blurb: "the gateway's own WebSocket chat widget",
	},
	ChannelCron: {
		ID: ChannelCron, Label: "Cron",
		Blurb: "scheduled synthetic messages driven by cron_jobs rows",
	},
}

var chatChannelAliases = map[string]ChatChannelID{
	"tg": ChannelTelegram,
	"wa": ChannelWhatsApp,
	"mm": ChannelMattermost,
}

// ChannelCapabilities describes feature support for a channel, used to
// decide what an outbound response may safely contain.
type ChannelCapabilities struct {
	SupportsEditing     bool
	SupportsAttachments bool
	MaxMessageLength    int // 0 = unlimited
}

var channelCapabilities = map[ChatChannelID]*ChannelCapabilities{
	ChannelTelegram:   {SupportsEditing: true, SupportsAttachments: true, MaxMessageLength: 4096},
	ChannelDiscord:    {SupportsEditing: true, SupportsAttachments: true, MaxMessageLength: 2000},
	ChannelSlack:      {SupportsEditing: true, SupportsAttachments: true, MaxMessageLength: 40000},
	ChannelWhatsApp:   {SupportsEditing: false, SupportsAttachments: true, MaxMessageLength: 65536},
	ChannelMatrix:     {SupportsEditing: true, SupportsAttachments: true, MaxMessageLength: 65536},
	ChannelMattermost: {SupportsEditing: true, SupportsAttachments: true, MaxMessageLength: 16383},
	ChannelWeb:        {SupportsEditing: true, SupportsAttachments: true, MaxMessageLength: 0},
	ChannelCron:       {SupportsEditing: false, SupportsAttachments: false, MaxMessageLength: 0},
}

// ListChatChannels returns all channels in preferred order.
func ListChatChannels() []*ChannelMeta {
	result := make([]*ChannelMeta, 0, len(ChatChannelOrder))
	for _, id := range ChatChannelOrder {
		if meta, ok := chatChannelMeta[id]; ok {
			result = append(result, meta)
		}
	}
	return result
}

// ListChatChannelAliases returns all registered aliases sorted alphabetically.
func ListChatChannelAliases() []string {
	aliases := make([]string, 0, len(chatChannelAliases))
	for alias := range chatChannelAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// GetChatChannelMeta returns metadata for a channel, or nil if unknown.
func GetChatChannelMeta(id ChatChannelID) *ChannelMeta {
	return chatChannelMeta[id]
}

// NormalizeChatChannelID normalizes a channel ID string (handling aliases,
// case, and whitespace) to its canonical form, or "" if unrecognized.
func NormalizeChatChannelID(raw string) ChatChannelID {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return ""
	}
	id := ChatChannelID(normalized)
	if _, ok := chatChannelMeta[id]; ok {
		return id
	}
	if canonical, ok := chatChannelAliases[normalized]; ok {
		return canonical
	}
	return ""
}

// IsValidChannelID checks if a channel ID is configurable.
func IsValidChannelID(id ChatChannelID) bool {
	_, ok := chatChannelMeta[id]
	return ok
}

// FormatChannelPrimerLine formats a channel for display in a setup primer.
func FormatChannelPrimerLine(meta *ChannelMeta) string {
	if meta == nil {
		return ""
	}
	if meta.Blurb == "" {
		return meta.Label
	}
	return fmt.Sprintf("%s — %s", meta.Label, meta.Blurb)
}

// GetChannelCapabilities returns capabilities for a channel, or nil if unknown.
func GetChannelCapabilities(id ChatChannelID) *ChannelCapabilities {
	return channelCapabilities[id]
}

// ToModelChannelType converts a ChatChannelID to the models.ChannelType.
func ToModelChannelType(id ChatChannelID) models.ChannelType {
	switch id {
	case ChannelTelegram:
		return models.ChannelTelegram
	case ChannelDiscord:
		return models.ChannelDiscord
	case ChannelSlack:
		return models.ChannelSlack
	case ChannelWhatsApp:
		return models.ChannelWhatsApp
	case ChannelMatrix:
		return models.ChannelMatrix
	case ChannelMattermost:
		return models.ChannelMattermost
	case ChannelWeb:
		return models.ChannelWeb
	case ChannelCron:
		return models.ChannelCron
	default:
		return ""
	}
}

// FromModelChannelType converts a models.ChannelType to a ChatChannelID.
func FromModelChannelType(ct models.ChannelType) ChatChannelID {
	switch ct {
	case models.ChannelTelegram:
		return ChannelTelegram
	case models.ChannelDiscord:
		return ChannelDiscord
	case models.ChannelSlack:
		return ChannelSlack
	case models.ChannelWhatsApp:
		return ChannelWhatsApp
	case models.ChannelMatrix:
		return ChannelMatrix
	case models.ChannelMattermost:
		return ChannelMattermost
	case models.ChannelWeb:
		return ChannelWeb
	case models.ChannelCron:
		return ChannelCron
	default:
		return ""
	}
}

// GetAllChannelIDs returns all registered channel IDs.
func GetAllChannelIDs() []ChatChannelID {
	ids := make([]ChatChannelID, 0, len(chatChannelMeta))
	for id := range chatChannelMeta {
		ids = append(ids, id)
	}
	return ids
}
