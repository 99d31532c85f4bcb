package config

// ChannelsConfig configures the adapters registered into the channel
// registry (§10 DOMAIN STACK): Telegram, Discord, Slack, WhatsApp,
// Matrix, and Mattermost, each with its own credentials/enablement.
// Signal, iMessage, Teams, Email, Zalo, Nextcloud Talk, BlueBubbles, and
// Home Assistant are teacher channel adapters with no home in the
// current channel-type set and are not wired.
type ChannelsConfig struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Discord    DiscordConfig    `yaml:"discord"`
	Slack      SlackConfig      `yaml:"slack"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Matrix     MatrixConfig     `yaml:"matrix"`
	Mattermost MattermostConfig `yaml:"mattermost"`
}

// ChannelPolicyConfig controls who may reach an adapter's DM or group
// surface.
type ChannelPolicyConfig struct {
	Policy    string   `yaml:"policy"` // "open", "allowlist", "disabled"
	AllowFrom []string `yaml:"allow_from"`
}

// TelegramConfig configures the go-telegram/bot adapter.
type TelegramConfig struct {
	Enabled  bool                `yaml:"enabled"`
	BotToken string              `yaml:"bot_token"`
	Webhook  string              `yaml:"webhook"`
	DM       ChannelPolicyConfig `yaml:"dm"`
	Group    ChannelPolicyConfig `yaml:"group"`
}

// DiscordConfig configures the bwmarrin/discordgo adapter.
type DiscordConfig struct {
	Enabled  bool                `yaml:"enabled"`
	BotToken string              `yaml:"bot_token"`
	AppID    string              `yaml:"app_id"`
	DM       ChannelPolicyConfig `yaml:"dm"`
	Group    ChannelPolicyConfig `yaml:"group"`
}

// SlackConfig configures the slack-go/slack adapter.
type SlackConfig struct {
	Enabled           bool                `yaml:"enabled"`
	BotToken          string              `yaml:"bot_token"`
	AppToken          string              `yaml:"app_token"`
	SigningSecret     string              `yaml:"signing_secret"`
	UploadAttachments bool                `yaml:"upload_attachments"`
	DM                ChannelPolicyConfig `yaml:"dm"`
	Group             ChannelPolicyConfig `yaml:"group"`
}

// WhatsAppConfig configures the go.mau.fi/whatsmeow adapter.
type WhatsAppConfig struct {
	Enabled      bool                   `yaml:"enabled"`
	SessionPath  string                 `yaml:"session_path"`
	SyncContacts bool                   `yaml:"sync_contacts"`
	DM           ChannelPolicyConfig    `yaml:"dm"`
	Group        ChannelPolicyConfig    `yaml:"group"`
	Presence     WhatsAppPresenceConfig `yaml:"presence"`
}

// WhatsAppPresenceConfig controls read-receipt/typing behavior.
type WhatsAppPresenceConfig struct {
	SendReadReceipts bool `yaml:"send_read_receipts"`
	SendTyping       bool `yaml:"send_typing"`
}

// MatrixConfig configures the maunium.net/go/mautrix adapter.
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	DeviceID     string   `yaml:"device_id"`
	AllowedRooms []string `yaml:"allowed_rooms"`
	JoinOnInvite bool     `yaml:"join_on_invite"`

	DM    ChannelPolicyConfig `yaml:"dm"`
	Group ChannelPolicyConfig `yaml:"group"`
}

// MattermostConfig configures the mattermost/mattermost/server/public adapter.
type MattermostConfig struct {
	Enabled   bool                `yaml:"enabled"`
	ServerURL string              `yaml:"server_url"`
	Token     string              `yaml:"token"`
	Username  string              `yaml:"username"`
	Password  string              `yaml:"password"`
	TeamName  string              `yaml:"team_name"`
	DM        ChannelPolicyConfig `yaml:"dm"`
	Group     ChannelPolicyConfig `yaml:"group"`
}

func mergeChannels(base, override ChannelsConfig) ChannelsConfig {
	merged := base
	if override.Telegram.BotToken != "" || override.Telegram.Enabled {
		merged.Telegram = override.Telegram
	}
	if override.Discord.BotToken != "" || override.Discord.Enabled {
		merged.Discord = override.Discord
	}
	if override.Slack.BotToken != "" || override.Slack.Enabled {
		merged.Slack = override.Slack
	}
	if override.WhatsApp.SessionPath != "" || override.WhatsApp.Enabled {
		merged.WhatsApp = override.WhatsApp
	}
	if override.Matrix.Homeserver != "" || override.Matrix.Enabled {
		merged.Matrix = override.Matrix
	}
	if override.Mattermost.ServerURL != "" || override.Mattermost.Enabled {
		merged.Mattermost = override.Mattermost
	}
	return merged
}
