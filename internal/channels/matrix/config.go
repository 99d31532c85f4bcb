// Package matrix adapts the maunium.net/go/mautrix client into the
// channels.FullAdapter contract, translating room timeline events into
// NormalizedMessages and ChannelOutbounds back into m.room.message events.
package matrix

import (
	"log/slog"
	"time"

	"github.com/starkbot/starkbot/internal/channels"
)

// Config holds configuration for the Matrix adapter.
type Config struct {
	// Homeserver is the Matrix homeserver URL (required).
	Homeserver string

	// UserID is the bot's Matrix user ID (e.g., @bot:matrix.org) (required).
	UserID string

	// AccessToken authenticates the client (required).
	AccessToken string

	// DeviceID is the device ID for this client session.
	DeviceID string

	// AllowedRooms limits which rooms the bot will respond in (empty = all).
	AllowedRooms []string

	// AllowedUsers limits which users can interact (empty = all).
	AllowedUsers []string

	// IgnoreOwnMessages ignores messages the bot sent itself. Always true;
	// kept as a field for symmetry with the other adapters' Config shape.
	IgnoreOwnMessages bool

	// JoinOnInvite automatically joins rooms when invited.
	JoinOnInvite bool

	// MaxReconnectAttempts bounds sync-loop retries before giving up.
	MaxReconnectAttempts int

	// ReconnectBackoff is the maximum backoff between sync retries.
	ReconnectBackoff time.Duration

	// RateLimit configures outbound rate limiting (messages per second).
	RateLimit float64

	// RateBurst configures burst capacity.
	RateBurst int

	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Homeserver == "" {
		return channels.ErrConfig("homeserver is required", nil)
	}
	if c.UserID == "" {
		return channels.ErrConfig("user_id is required", nil)
	}
	if c.AccessToken == "" {
		return channels.ErrConfig("access_token is required", nil)
	}

	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	c.IgnoreOwnMessages = true

	return nil
}
