package slack

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"
)

func TestConfigValidate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Fatalf("expected error for missing bot token")
	}

	cfg := Config{BotToken: "xoxb-test"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.RateLimit != 10 || cfg.RateBurst != 10 {
		t.Fatalf("expected default rate limit 10/10, got %v/%v", cfg.RateLimit, cfg.RateBurst)
	}
}

func TestConvertSlackMessageStripsMentionAndParsesTimestamp(t *testing.T) {
	event := &slackevents.MessageEvent{
		Channel:   "C123",
		User:      "U456",
		Text:      "<@UBOT> hello there",
		TimeStamp: "1700000000.000100",
	}
	got := convertSlackMessage(event)

	if got.ChannelType != models.ChannelSlack {
		t.Fatalf("expected channel type slack, got %s", got.ChannelType)
	}
	if got.ChatID != "C123" || got.UserID != "U456" {
		t.Fatalf("unexpected chat/user id: chat=%s user=%s", got.ChatID, got.UserID)
	}
	if got.Text != "hello there" {
		t.Fatalf("expected mention stripped, got %q", got.Text)
	}
	if got.MessageID != "1700000000.000100" {
		t.Fatalf("unexpected message id %q", got.MessageID)
	}
}

func TestConvertSlackMessageAttachments(t *testing.T) {
	event := &slackevents.MessageEvent{
		Channel: "C1", User: "U1", Text: "see attached",
		Message: &slackevents.Message{
			Files: []slackevents.File{
				{ID: "F1", Name: "a.png", Mimetype: "image/png", URLPrivateDownload: "https://x/a.png", Size: 10},
			},
		},
	}
	got := convertSlackMessage(event)
	if len(got.Attachments) != 1 || got.Attachments[0].Type != "image" {
		t.Fatalf("expected 1 image attachment, got %#v", got.Attachments)
	}
}

type fakeSlackAPIClient struct {
	authErr        error
	postErr        error
	updateErr      error
	postedChannel  string
	postedText     string
	updatedTS      string
	authCallCount  int
}

func (f *fakeSlackAPIClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	f.authCallCount++
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &slack.AuthTestResponse{UserID: "UBOT"}, nil
}

func (f *fakeSlackAPIClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.postedChannel = channelID
	return channelID, "1700000000.000001", nil
}

func (f *fakeSlackAPIClient) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if f.updateErr != nil {
		return "", "", "", f.updateErr
	}
	f.updatedTS = timestamp
	return channelID, timestamp, "", nil
}

func newTestAdapter(t *testing.T, client SlackAPIClient) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.socketClient = nil
	a.SetAPIClient(client)
	return a
}

func TestStartSetsBotUserID(t *testing.T) {
	client := &fakeSlackAPIClient{}
	a := newTestAdapter(t, client)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.botUserID != "UBOT" {
		t.Fatalf("expected bot user id UBOT, got %s", a.botUserID)
	}
	if !a.Status().Connected {
		t.Fatalf("expected connected status after start")
	}
}

func TestStartAuthFailure(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{authErr: errors.New("invalid auth")})
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("expected error for auth failure")
	}
}

func TestSendMessage(t *testing.T) {
	client := &fakeSlackAPIClient{}
	a := newTestAdapter(t, client)

	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "C1", Text: "hi", Kind: models.OutboundMessage})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.postedChannel != "C1" {
		t.Fatalf("expected posted channel C1, got %s", client.postedChannel)
	}
}

func TestSendEdit(t *testing.T) {
	client := &fakeSlackAPIClient{}
	a := newTestAdapter(t, client)

	err := a.Send(context.Background(), &models.ChannelOutbound{
		ChatID: "C1", Text: "updated", Kind: models.OutboundEdit, ReplyTo: "1700000000.000001",
	})
	if err != nil {
		t.Fatalf("send edit: %v", err)
	}
	if client.updatedTS != "1700000000.000001" {
		t.Fatalf("expected edit on the given timestamp, got %s", client.updatedTS)
	}
}

func TestSendMissingChatID(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{})
	if err := a.Send(context.Background(), &models.ChannelOutbound{Text: "hi"}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}

func TestSendRateLimitClassification(t *testing.T) {
	client := &fakeSlackAPIClient{postErr: errors.New("ratelimited")}
	a := newTestAdapter(t, client)

	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "C1", Text: "hi"})
	var chErr *channels.Error
	if !errors.As(err, &chErr) || chErr.Code != channels.ErrCodeRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestProcessMessageFiltersNonDMNonMention(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{})
	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()

	a.ProcessMessage(&slackevents.MessageEvent{Channel: "C1", User: "U1", Text: "just chatting"})

	select {
	case <-a.messages:
		t.Fatalf("expected message to be filtered out")
	default:
	}
}

func TestProcessMessageAcceptsDM(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{})
	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()

	a.ProcessMessage(&slackevents.MessageEvent{Channel: "D1", User: "U1", Text: "hello", TimeStamp: "1700000000.000001"})

	select {
	case got := <-a.messages:
		if got.Text != "hello" {
			t.Fatalf("unexpected text %q", got.Text)
		}
	default:
		t.Fatalf("expected a DM to be enqueued")
	}
}

func TestProcessAppMention(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{})
	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()
	a.botUserID = "UBOT"

	a.ProcessAppMention(&slackevents.AppMentionEvent{
		Channel: "C1", User: "U1", Text: "<@UBOT> help", TimeStamp: "1700000000.000001",
	})

	select {
	case got := <-a.messages:
		if got.Text != "help" {
			t.Fatalf("unexpected text %q", got.Text)
		}
	default:
		t.Fatalf("expected mention to be enqueued")
	}
}

func TestTypeAndMetrics(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{})
	if a.Type() != models.ChannelSlack {
		t.Fatalf("expected slack type")
	}
	if a.Metrics().ChannelType != models.ChannelSlack {
		t.Fatalf("expected metrics channel type slack")
	}
}

func TestHealthCheck(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{})
	got := a.HealthCheck(context.Background())
	if !got.Healthy {
		t.Fatalf("expected healthy status, got %+v", got)
	}
}

func TestHealthCheckFailure(t *testing.T) {
	a := newTestAdapter(t, &fakeSlackAPIClient{authErr: errors.New("down")})
	got := a.HealthCheck(context.Background())
	if got.Healthy {
		t.Fatalf("expected unhealthy status")
	}
}
