package slack

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// SlackAPIClient is the subset of *slack.Client operations this adapter
// needs, narrow enough for tests to substitute a fake.
type SlackAPIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// SocketModeClient is the subset of *socketmode.Client this adapter needs.
type SocketModeClient interface {
	Run() error
	Ack(req socketmode.Request, payload ...interface{})
}

// Ensure the real clients satisfy the narrow interfaces.
var _ SlackAPIClient = (*slack.Client)(nil)
var _ SocketModeClient = (*socketmode.Client)(nil)
