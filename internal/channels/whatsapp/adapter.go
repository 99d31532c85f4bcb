package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver backing the whatsmeow session store
)

// waClient is the subset of *whatsmeow.Client the adapter depends on, narrowed
// so tests can inject a fake without standing up a real device pairing.
type waClient interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, data []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	SendPresence(ctx context.Context, state types.Presence) error
	MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID) error
	GetGroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)
}

var _ waClient = (*whatsmeow.Client)(nil)

type mediaEntry struct {
	data     []byte
	mimeType string
	filename string
	path     string
}

// Adapter implements the WhatsApp channel using whatsmeow, a self-hosted
// multi-device WhatsApp Web client. Unlike the bot-token channels, WhatsApp
// pairs with a QR code and speaks to a single phone number per session.
type Adapter struct {
	config *Config
	logger *slog.Logger

	rawClient *whatsmeow.Client
	client    waClient
	waStore   *sqlstore.Container
	device    *store.Device

	health      *channels.BaseHealthAdapter
	rateLimiter *channels.RateLimiter

	messages chan *models.NormalizedMessage

	qrChan    chan string
	connected bool
	connMu    sync.RWMutex

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mediaCache map[string]mediaEntry
	mediaMu    sync.RWMutex
}

// NewAdapter creates a WhatsApp adapter. It opens (creating if needed) the
// local SQLite session store but does not connect until Start is called.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel", "whatsapp")

	sessionPath := expandPath(cfg.SessionPath)
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0o755); err != nil {
		return nil, channels.ErrConfig("failed to create session directory", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	container, err := sqlstore.New(initCtx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", sessionPath), waLog.Noop)
	if err != nil {
		return nil, channels.ErrConnection("failed to open session store", err)
	}

	return &Adapter{
		config:      &cfg,
		logger:      logger,
		waStore:     container,
		health:      channels.NewBaseHealthAdapter(models.ChannelWhatsApp, logger),
		rateLimiter: channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		messages:    make(chan *models.NormalizedMessage, 100),
		qrChan:      make(chan string, 1),
		mediaCache:  make(map[string]mediaEntry),
	}, nil
}

// SetClient overrides the whatsmeow client used for outbound calls. Intended for tests.
func (a *Adapter) SetClient(c waClient) {
	a.client = c
}

// QRChannel returns a channel that receives pairing QR codes when the session
// has no linked device yet. Callers display the code to the account owner.
func (a *Adapter) QRChannel() <-chan string {
	return a.qrChan
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelWhatsApp
}

// Start connects to WhatsApp and begins listening for messages.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	device, err := a.waStore.GetFirstDevice(ctx)
	if err != nil {
		return channels.ErrConnection("failed to get device", err)
	}
	a.device = device

	a.rawClient = whatsmeow.NewClient(device, waLog.Noop)
	a.rawClient.AddEventHandler(a.handleEvent)
	if a.client == nil {
		a.client = a.rawClient
	}

	if a.rawClient.Store.ID == nil {
		qrChan, err := a.client.GetQRChannel(ctx)
		if err != nil {
			return channels.ErrAuthentication("failed to get QR channel", err)
		}
		if err := a.client.Connect(); err != nil {
			return channels.ErrConnection("failed to connect", err)
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-qrChan:
					if !ok {
						return
					}
					if evt.Event == "code" {
						a.logger.Info("scan QR code to link WhatsApp", "code", evt.Code)
						select {
						case a.qrChan <- evt.Code:
						default:
						}
					}
				}
			}
		}()
	} else if err := a.client.Connect(); err != nil {
		return channels.ErrConnection("failed to connect", err)
	}

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	return nil
}

// Stop disconnects from WhatsApp and releases the session store.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.wg.Wait()

	if a.qrChan != nil {
		close(a.qrChan)
	}
	if a.client != nil {
		a.client.Disconnect()
	}
	if a.waStore != nil {
		if err := a.waStore.Close(); err != nil {
			a.logger.Warn("failed to close session store", "error", err)
		}
	}
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	close(a.messages)
	return nil
}

// Messages returns the channel of inbound normalized messages.
func (a *Adapter) Messages() <-chan *models.NormalizedMessage {
	return a.messages
}

// Send delivers an outbound message. WhatsApp has no edit capability, so an
// OutboundEdit is rejected by the registry's capability check before it
// reaches here; this adapter only ever sees plain sends.
func (a *Adapter) Send(ctx context.Context, out *models.ChannelOutbound) error {
	if out.ChatID == "" {
		return channels.ErrInvalidInput("missing chat id", nil)
	}
	if !a.isConnected() {
		return channels.ErrUnavailable("not connected to WhatsApp", nil)
	}

	jid, err := types.ParseJID(out.ChatID)
	if err != nil {
		return channels.ErrInvalidInput(fmt.Sprintf("invalid chat id %q", out.ChatID), err)
	}

	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.ErrRateLimit("rate limit wait failed", err)
	}

	caps := channels.GetChannelCapabilities(channels.ChannelWhatsApp)
	chunker := channels.ChunkerFromCapabilities(caps)
	for _, chunk := range chunker.Chunk(out.Text) {
		waMsg := &waE2E.Message{Conversation: proto.String(chunk)}
		if _, err := a.client.SendMessage(ctx, jid, waMsg); err != nil {
			a.health.RecordMessageFailed()
			if isRateLimitError(err) {
				return channels.ErrRateLimit("send rate limited", err)
			}
			return channels.ErrConnection("failed to send message", err)
		}
		a.health.RecordMessageSent()
	}

	channels.RecordActivity(string(channels.ChannelWhatsApp), out.ChatID, channels.DirectionOutbound)
	return nil
}

// SendAttachment uploads and sends a single attachment to a chat, used by the
// messaging tool when a reply carries media the text-only Send cannot express.
func (a *Adapter) SendAttachment(ctx context.Context, chatID string, att models.Attachment) error {
	if !a.isConnected() {
		return channels.ErrUnavailable("not connected to WhatsApp", nil)
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return channels.ErrInvalidInput(fmt.Sprintf("invalid chat id %q", chatID), err)
	}
	return a.sendAttachment(ctx, jid, att)
}

func (a *Adapter) sendAttachment(ctx context.Context, jid types.JID, att models.Attachment) error {
	data, err := downloadURL(ctx, att.URL)
	if err != nil {
		return err
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = att.Type
	}

	var uploadType whatsmeow.MediaType
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		uploadType = whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		uploadType = whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		uploadType = whatsmeow.MediaAudio
	default:
		uploadType = whatsmeow.MediaDocument
	}

	uploaded, err := a.client.Upload(ctx, data, uploadType)
	if err != nil {
		return channels.ErrConnection("failed to upload attachment", err)
	}

	var waMsg *waE2E.Message
	switch uploadType {
	case whatsmeow.MediaImage:
		waMsg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL: &uploaded.URL, DirectPath: &uploaded.DirectPath, MediaKey: uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256, FileSHA256: uploaded.FileSHA256,
			FileLength: &uploaded.FileLength, Mimetype: &mimeType,
		}}
	case whatsmeow.MediaVideo:
		waMsg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL: &uploaded.URL, DirectPath: &uploaded.DirectPath, MediaKey: uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256, FileSHA256: uploaded.FileSHA256,
			FileLength: &uploaded.FileLength, Mimetype: &mimeType,
		}}
	case whatsmeow.MediaAudio:
		waMsg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL: &uploaded.URL, DirectPath: &uploaded.DirectPath, MediaKey: uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256, FileSHA256: uploaded.FileSHA256,
			FileLength: &uploaded.FileLength, Mimetype: &mimeType,
		}}
	default:
		filename := att.Filename
		if filename == "" {
			filename = "document"
		}
		waMsg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL: &uploaded.URL, DirectPath: &uploaded.DirectPath, MediaKey: uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256, FileSHA256: uploaded.FileSHA256,
			FileLength: &uploaded.FileLength, Mimetype: &mimeType, FileName: &filename,
		}}
	}

	if _, err := a.client.SendMessage(ctx, jid, waMsg); err != nil {
		return channels.ErrConnection("failed to send attachment message", err)
	}
	a.health.RecordMessageSent()
	return nil
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	return a.health.Status()
}

// HealthCheck reports whether the WhatsApp connection is live.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	if a.client == nil || !a.isConnected() {
		return channels.HealthStatus{Healthy: false, Message: "not connected", Latency: time.Since(start), LastCheck: time.Now()}
	}
	return channels.HealthStatus{Healthy: true, Message: "connected", Latency: time.Since(start), LastCheck: time.Now()}
}

// Metrics returns the current metrics snapshot.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) isConnected() bool {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.connected
}

func (a *Adapter) setConnected(v bool) {
	a.connMu.Lock()
	a.connected = v
	a.connMu.Unlock()
}

// handleEvent dispatches whatsmeow events to their handlers.
func (a *Adapter) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		a.setConnected(true)
		a.health.SetStatus(true, "")
		a.logger.Info("connected to WhatsApp")
	case *events.Disconnected:
		a.setConnected(false)
		a.health.SetStatus(false, "disconnected")
		a.logger.Warn("disconnected from WhatsApp")
	case *events.Message:
		a.handleMessage(v)
	case *events.LoggedOut:
		a.setConnected(false)
		a.health.SetStatus(false, "logged out")
		a.logger.Warn("logged out from WhatsApp", "reason", v.Reason)
	}
}

// handleMessage normalizes an inbound whatsmeow message event and enqueues it.
func (a *Adapter) handleMessage(evt *events.Message) {
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	var text string
	var attachments []models.Attachment

	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil:
		text = evt.Message.ExtendedTextMessage.GetText()
	case evt.Message.ImageMessage != nil:
		text = evt.Message.ImageMessage.GetCaption()
		if att := a.downloadMedia(evt.Info.ID, evt.Message.ImageMessage); att != nil {
			attachments = append(attachments, *att)
		}
	case evt.Message.DocumentMessage != nil:
		text = evt.Message.DocumentMessage.GetCaption()
		if att := a.downloadMedia(evt.Info.ID, evt.Message.DocumentMessage); att != nil {
			att.Filename = evt.Message.DocumentMessage.GetFileName()
			attachments = append(attachments, *att)
		}
	case evt.Message.AudioMessage != nil:
		if att := a.downloadMedia(evt.Info.ID, evt.Message.AudioMessage); att != nil {
			attachments = append(attachments, *att)
		}
	case evt.Message.VideoMessage != nil:
		text = evt.Message.VideoMessage.GetCaption()
		if att := a.downloadMedia(evt.Info.ID, evt.Message.VideoMessage); att != nil {
			attachments = append(attachments, *att)
		}
	}

	if text == "" && len(attachments) == 0 {
		return
	}

	chatID := evt.Info.Chat.String()
	msg := &models.NormalizedMessage{
		ChannelID:   chatID,
		ChannelType: models.ChannelWhatsApp,
		ChatID:      chatID,
		UserID:      evt.Info.Sender.String(),
		UserName:    evt.Info.Sender.User,
		Text:        text,
		MessageID:   evt.Info.ID,
		Attachments: attachments,
		ReceivedAt:  evt.Info.Timestamp,
	}
	if evt.Info.IsGroup {
		groupName := a.getGroupName(evt.Info.Chat)
		if groupName != "" {
			msg.UserName = fmt.Sprintf("%s (%s)", msg.UserName, groupName)
		}
	}

	select {
	case a.messages <- msg:
		a.health.RecordMessageReceived()
		channels.RecordActivity(string(channels.ChannelWhatsApp), chatID, channels.DirectionInbound)
		if a.config.SendReadReceipts {
			a.markRead(evt.Info.Chat, evt.Info.Sender, evt.Info.ID)
		}
	default:
		a.logger.Warn("message channel full, dropping message", "message_id", evt.Info.ID)
	}
}

// downloadableMedia is the subset of whatsmeow's media message types needed
// for the adapter's generic attachment download path.
type downloadableMedia interface {
	whatsmeow.DownloadableMessage
	GetMimetype() string
}

func (a *Adapter) downloadMedia(messageID string, media downloadableMedia) *models.Attachment {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := a.client.Download(ctx, media)
	if err != nil {
		a.logger.Error("failed to download media", "error", err, "message_id", messageID)
		return nil
	}

	mimeType := media.GetMimetype()
	path, storeErr := a.persistMedia(messageID, data, mimeType)
	if storeErr != nil {
		a.logger.Warn("failed to persist media", "error", storeErr, "message_id", messageID)
	}
	a.mediaMu.Lock()
	a.mediaCache[messageID] = mediaEntry{data: data, mimeType: mimeType, path: path}
	a.mediaMu.Unlock()

	url := path
	if url != "" {
		url = "file://" + url
	}
	return &models.Attachment{
		ID:       messageID,
		Type:     mimeType,
		URL:      url,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}
}

func (a *Adapter) persistMedia(mediaID string, data []byte, mimeType string) (string, error) {
	root := strings.TrimSpace(a.config.MediaPath)
	if root == "" {
		return "", nil
	}
	root = expandPath(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	name := base64.RawURLEncoding.EncodeToString([]byte(mediaID)) + extensionForMime(mimeType)
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func extensionForMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mimeType, "image/png"):
		return ".png"
	case strings.HasPrefix(mimeType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(mimeType, "audio/"):
		return ".ogg"
	case mimeType == "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

func (a *Adapter) getGroupName(jid types.JID) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	group, err := a.client.GetGroupInfo(ctx, jid)
	if err == nil && group.Name != "" {
		return group.Name
	}
	return ""
}

func (a *Adapter) markRead(chat, sender types.JID, messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.MarkRead(ctx, []types.MessageID{types.MessageID(messageID)}, time.Now(), chat, sender); err != nil {
		a.logger.Debug("failed to mark message read", "error", err)
	}
}

// SetTyping sends a typing (composing) presence to a chat, when enabled.
func (a *Adapter) SetTyping(ctx context.Context, chatID string, typing bool) error {
	if !a.config.SendTyping {
		return nil
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return channels.ErrInvalidInput("invalid chat id", err)
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return a.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// BroadcastOnline announces the linked account's online presence, when enabled.
func (a *Adapter) BroadcastOnline(ctx context.Context, online bool) error {
	if !a.config.BroadcastOnline {
		return nil
	}
	state := types.PresenceUnavailable
	if online {
		state = types.PresenceAvailable
	}
	return a.client.SendPresence(ctx, state)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate") || strings.Contains(msg, "429") || strings.Contains(msg, "too many")
}

// downloadURL fetches attachment bytes from an http(s), file://, or data: URL,
// bounded to avoid pulling unbounded payloads into memory.
func downloadURL(ctx context.Context, rawURL string) ([]byte, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, channels.ErrInvalidInput("missing attachment url", nil)
	}
	const maxBytes = 16 * 1024 * 1024

	if strings.HasPrefix(raw, "data:") {
		payload, err := decodeDataURL(raw)
		if err != nil {
			return nil, err
		}
		if len(payload) > maxBytes {
			return nil, channels.ErrConnection(fmt.Sprintf("attachment too large (%d bytes)", len(payload)), nil)
		}
		return payload, nil
	}

	if strings.HasPrefix(raw, "file://") {
		path := strings.TrimPrefix(raw, "file://")
		f, err := os.Open(path)
		if err != nil {
			return nil, channels.ErrInvalidInput("attachment file not found", err)
		}
		defer f.Close()
		payload, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
		if err != nil {
			return nil, channels.ErrConnection("failed to read attachment file", err)
		}
		if len(payload) > maxBytes {
			return nil, channels.ErrConnection(fmt.Sprintf("attachment too large (%d bytes)", len(payload)), nil)
		}
		return payload, nil
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, channels.ErrConnection("failed to build download request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, channels.ErrConnection("failed to download attachment", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, channels.ErrConnection(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, channels.ErrConnection("failed to read attachment", err)
	}
	if len(payload) > maxBytes {
		return nil, channels.ErrConnection(fmt.Sprintf("attachment too large (%d bytes)", len(payload)), nil)
	}
	return payload, nil
}

func decodeDataURL(raw string) ([]byte, error) {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return nil, channels.ErrInvalidInput("invalid data url format", nil)
	}
	meta, payload := parts[0], parts[1]
	base64Encoded := false
	for _, seg := range strings.Split(meta, ";") {
		if strings.EqualFold(strings.TrimSpace(seg), "base64") {
			base64Encoded = true
			break
		}
	}
	if !base64Encoded {
		return nil, channels.ErrInvalidInput("data url must be base64 encoded", nil)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, channels.ErrInvalidInput("decode data url", err)
	}
	return decoded, nil
}
