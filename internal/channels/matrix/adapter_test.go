package matrix

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
	}{
		{"empty config", Config{}, true},
		{"missing homeserver", Config{UserID: "@bot:matrix.org", AccessToken: "t"}, true},
		{"missing user_id", Config{Homeserver: "https://matrix.org", AccessToken: "t"}, true},
		{"missing access_token", Config{Homeserver: "https://matrix.org", UserID: "@bot:matrix.org"}, true},
		{"valid config", Config{Homeserver: "https://matrix.org", UserID: "@bot:matrix.org", AccessToken: "t"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{Homeserver: "https://matrix.org", UserID: "@bot:matrix.org", AccessToken: "t"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.RateLimit != 5 || cfg.RateBurst != 10 || !cfg.IgnoreOwnMessages {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

type fakeMatrixClient struct {
	sendErr     error
	joinErr     error
	whoamiErr   error
	sentRoom    id.RoomID
	sentContent *event.MessageEventContent
}

func (f *fakeMatrixClient) SendMessageEvent(_ context.Context, roomID id.RoomID, _ event.Type, contentJSON interface{}, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sentRoom = roomID
	f.sentContent, _ = contentJSON.(*event.MessageEventContent)
	return &mautrix.RespSendEvent{EventID: "evt-1"}, nil
}

func (f *fakeMatrixClient) JoinRoom(_ context.Context, _ string, _ *mautrix.ReqJoinRoom) (*mautrix.RespJoinRoom, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return &mautrix.RespJoinRoom{}, nil
}

func (f *fakeMatrixClient) Whoami(_ context.Context) (*mautrix.RespWhoami, error) {
	if f.whoamiErr != nil {
		return nil, f.whoamiErr
	}
	return &mautrix.RespWhoami{}, nil
}

func newTestAdapter(t *testing.T, client *fakeMatrixClient) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{Homeserver: "https://matrix.org", UserID: "@bot:matrix.org", AccessToken: "t"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.SetClient(client)
	return a
}

func TestSendMessage(t *testing.T) {
	client := &fakeMatrixClient{}
	a := newTestAdapter(t, client)

	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "!room:matrix.org", Text: "hi", Kind: models.OutboundMessage})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.sentRoom != "!room:matrix.org" || client.sentContent.Body != "hi" {
		t.Fatalf("unexpected sent state: %+v", client.sentContent)
	}
}

func TestSendEdit(t *testing.T) {
	client := &fakeMatrixClient{}
	a := newTestAdapter(t, client)

	err := a.Send(context.Background(), &models.ChannelOutbound{
		ChatID: "!room:matrix.org", Text: "updated", Kind: models.OutboundEdit, ReplyTo: "evt-9",
	})
	if err != nil {
		t.Fatalf("send edit: %v", err)
	}
	if client.sentContent.RelatesTo == nil || client.sentContent.RelatesTo.EventID != "evt-9" {
		t.Fatalf("expected edit relates-to evt-9, got %+v", client.sentContent.RelatesTo)
	}
	if client.sentContent.NewContent == nil || client.sentContent.NewContent.Body != "updated" {
		t.Fatalf("expected new_content body 'updated', got %+v", client.sentContent.NewContent)
	}
}

func TestSendMissingChatID(t *testing.T) {
	a := newTestAdapter(t, &fakeMatrixClient{})
	if err := a.Send(context.Background(), &models.ChannelOutbound{Text: "hi"}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}

func TestSendRateLimitClassification(t *testing.T) {
	client := &fakeMatrixClient{sendErr: errors.New("M_LIMIT_EXCEEDED")}
	a := newTestAdapter(t, client)

	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "!room:matrix.org", Text: "hi"})
	var chErr *channels.Error
	if !errors.As(err, &chErr) || chErr.Code != channels.ErrCodeRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestTypeAndMetrics(t *testing.T) {
	a := newTestAdapter(t, &fakeMatrixClient{})
	if a.Type() != models.ChannelMatrix {
		t.Fatalf("expected matrix type")
	}
	if a.Metrics().ChannelType != models.ChannelMatrix {
		t.Fatalf("expected metrics channel type matrix")
	}
}

func TestHealthCheck(t *testing.T) {
	a := newTestAdapter(t, &fakeMatrixClient{})
	got := a.HealthCheck(context.Background())
	if !got.Healthy {
		t.Fatalf("expected healthy status, got %+v", got)
	}
}

func TestHealthCheckFailure(t *testing.T) {
	a := newTestAdapter(t, &fakeMatrixClient{whoamiErr: errors.New("down")})
	got := a.HealthCheck(context.Background())
	if got.Healthy {
		t.Fatalf("expected unhealthy status")
	}
}

func TestHandleMessageFiltersOwnAndDisallowed(t *testing.T) {
	a := newTestAdapter(t, &fakeMatrixClient{})
	a.config.AllowedRooms = []string{"!allowed:matrix.org"}
	a.allowedRooms = map[string]bool{"!allowed:matrix.org": true}

	a.handleMessage(&event.Event{
		Sender: "@bot:matrix.org",
		RoomID: "!allowed:matrix.org",
		Content: event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: "own message"}},
	})
	select {
	case <-a.messages:
		t.Fatalf("expected own message to be ignored")
	default:
	}

	a.handleMessage(&event.Event{
		Sender:    "@user:matrix.org",
		RoomID:    "!other:matrix.org",
		Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"}},
		Timestamp: time.Now().UnixMilli(),
	})
	select {
	case <-a.messages:
		t.Fatalf("expected disallowed room to be ignored")
	default:
	}
}

func TestHandleMessageAccepted(t *testing.T) {
	a := newTestAdapter(t, &fakeMatrixClient{})

	a.handleMessage(&event.Event{
		ID:        "evt-5",
		Sender:    "@user:matrix.org",
		RoomID:    "!room:matrix.org",
		Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: "hello"}},
		Timestamp: time.Now().UnixMilli(),
	})

	select {
	case got := <-a.messages:
		if got.Text != "hello" || got.ChatID != "!room:matrix.org" || got.MessageID != "evt-5" {
			t.Fatalf("unexpected message: %+v", got)
		}
	default:
		t.Fatalf("expected a message to be enqueued")
	}
}
