package whatsapp

import (
	"fmt"
	"log/slog"
)

// Config configures the WhatsApp adapter.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	SessionPath string `yaml:"session_path"`
	MediaPath   string `yaml:"media_path"`

	SendReadReceipts bool `yaml:"send_read_receipts"`
	SendTyping       bool `yaml:"send_typing"`
	BroadcastOnline  bool `yaml:"broadcast_online"`

	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          false,
		SessionPath:      "~/.starkbot/whatsapp/session.db",
		MediaPath:        "~/.starkbot/whatsapp/media",
		SendReadReceipts: true,
		SendTyping:       true,
		BroadcastOnline:  false,
		RateLimit:        3,
		RateBurst:        5,
	}
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SessionPath == "" {
		return fmt.Errorf("whatsapp: session_path is required")
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 3
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
