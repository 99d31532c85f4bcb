package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func TestConfigValidate(t *testing.T) {
	if err := (&Config{Enabled: true}).Validate(); err == nil {
		t.Fatalf("expected error for missing session_path")
	}
	if err := (&Config{}).Validate(); err != nil {
		t.Fatalf("disabled config should validate: %v", err)
	}

	cfg := Config{Enabled: true, SessionPath: "/tmp/session.db"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.RateLimit != 3 || cfg.RateBurst != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.SendReadReceipts || !cfg.SendTyping {
		t.Fatalf("expected read receipts and typing enabled by default: %+v", cfg)
	}
	if cfg.BroadcastOnline {
		t.Fatalf("expected broadcast online disabled by default")
	}
}

type fakeWAClient struct {
	sendErr    error
	presenceErr error
	markReadErr error

	sentJID     types.JID
	sentText    string
	presenceJID types.JID
	presence    types.ChatPresence
	markReadIDs []types.MessageID
}

func (f *fakeWAClient) Connect() error    { return nil }
func (f *fakeWAClient) Disconnect()       {}
func (f *fakeWAClient) IsConnected() bool { return true }
func (f *fakeWAClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 { return 1 }
func (f *fakeWAClient) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	return make(chan whatsmeow.QRChannelItem), nil
}

func (f *fakeWAClient) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	if f.sendErr != nil {
		return whatsmeow.SendResponse{}, f.sendErr
	}
	f.sentJID = to
	if message.Conversation != nil {
		f.sentText = *message.Conversation
	}
	return whatsmeow.SendResponse{ID: "msg-1"}, nil
}

func (f *fakeWAClient) Upload(ctx context.Context, data []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return whatsmeow.UploadResponse{URL: "https://example.com/media"}, nil
}

func (f *fakeWAClient) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return []byte("data"), nil
}

func (f *fakeWAClient) SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error {
	f.presenceJID, f.presence = jid, state
	return f.presenceErr
}

func (f *fakeWAClient) SendPresence(ctx context.Context, state types.Presence) error { return nil }

func (f *fakeWAClient) MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID) error {
	f.markReadIDs = ids
	return f.markReadErr
}

func (f *fakeWAClient) GetGroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error) {
	return &types.GroupInfo{Name: "Test Group"}, nil
}

func newTestAdapter(client *fakeWAClient) *Adapter {
	logger := slog.Default()
	cfg := DefaultConfig()
	a := &Adapter{
		config:      cfg,
		logger:      logger,
		health:      channels.NewBaseHealthAdapter(models.ChannelWhatsApp, logger),
		rateLimiter: channels.NewRateLimiter(100, 10),
		messages:    make(chan *models.NormalizedMessage, 10),
		qrChan:      make(chan string, 1),
		mediaCache:  make(map[string]mediaEntry),
	}
	a.SetClient(client)
	a.setConnected(true)
	return a
}

func TestSendMessage(t *testing.T) {
	client := &fakeWAClient{}
	a := newTestAdapter(client)

	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "123@s.whatsapp.net", Text: "hi", Kind: models.OutboundMessage})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.sentText != "hi" {
		t.Fatalf("unexpected sent text: %q", client.sentText)
	}
}

func TestSendMissingChatID(t *testing.T) {
	a := newTestAdapter(&fakeWAClient{})
	if err := a.Send(context.Background(), &models.ChannelOutbound{Text: "hi"}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}

func TestSendNotConnected(t *testing.T) {
	a := newTestAdapter(&fakeWAClient{})
	a.setConnected(false)
	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "123@s.whatsapp.net", Text: "hi"})
	var chErr *channels.Error
	if !errors.As(err, &chErr) || chErr.Code != channels.ErrCodeUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestSendInvalidChatID(t *testing.T) {
	a := newTestAdapter(&fakeWAClient{})
	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "not-a-jid", Text: "hi"})
	var chErr *channels.Error
	if !errors.As(err, &chErr) || chErr.Code != channels.ErrCodeInvalidInput {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestSendRateLimitClassification(t *testing.T) {
	client := &fakeWAClient{sendErr: errors.New("rate-overlimit")}
	a := newTestAdapter(client)

	err := a.Send(context.Background(), &models.ChannelOutbound{ChatID: "123@s.whatsapp.net", Text: "hi"})
	var chErr *channels.Error
	if !errors.As(err, &chErr) || chErr.Code != channels.ErrCodeRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestTypeAndMetrics(t *testing.T) {
	a := newTestAdapter(&fakeWAClient{})
	if a.Type() != models.ChannelWhatsApp {
		t.Fatalf("expected whatsapp type")
	}
	if a.Metrics().ChannelType != models.ChannelWhatsApp {
		t.Fatalf("expected metrics channel type whatsapp")
	}
}

func TestHealthCheck(t *testing.T) {
	a := newTestAdapter(&fakeWAClient{})
	got := a.HealthCheck(context.Background())
	if !got.Healthy {
		t.Fatalf("expected healthy status, got %+v", got)
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	a := newTestAdapter(&fakeWAClient{})
	a.setConnected(false)
	got := a.HealthCheck(context.Background())
	if got.Healthy {
		t.Fatalf("expected unhealthy status")
	}
}

func TestSetTypingRespectsConfig(t *testing.T) {
	client := &fakeWAClient{}
	a := newTestAdapter(client)
	a.config.SendTyping = false

	if err := a.SetTyping(context.Background(), "123@s.whatsapp.net", true); err != nil {
		t.Fatalf("set typing: %v", err)
	}
	if client.presenceJID != "" {
		t.Fatalf("expected no presence call when typing disabled")
	}

	a.config.SendTyping = true
	if err := a.SetTyping(context.Background(), "123@s.whatsapp.net", true); err != nil {
		t.Fatalf("set typing: %v", err)
	}
	if client.presence != types.ChatPresenceComposing {
		t.Fatalf("expected composing presence, got %v", client.presence)
	}
}

func TestHandleMessageSkipsBroadcast(t *testing.T) {
	a := newTestAdapter(&fakeWAClient{})
	a.handleMessage(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: types.JID{Server: "broadcast"}},
			ID:            "evt-1",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{},
	})
	select {
	case <-a.messages:
		t.Fatalf("expected broadcast message to be skipped")
	default:
	}
}
