// Package telegram adapts the go-telegram/bot client into the
// channels.FullAdapter contract, translating Telegram updates into
// NormalizedMessages and ChannelOutbounds back into bot API calls.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/starkbot/starkbot/internal/channels"
	models "github.com/starkbot/starkbot/pkg/models"
)

// Mode represents the operation mode of the Telegram adapter.
type Mode string

const (
	ModeLongPolling Mode = "long_polling"
	ModeWebhook     Mode = "webhook"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	Token                string
	Mode                 Mode
	WebhookURL           string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	RateLimit            float64
	RateBurst            int
	Logger               *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.Mode == "" {
		c.Mode = ModeLongPolling
	}
	if c.Mode == ModeWebhook && c.WebhookURL == "" {
		return channels.ErrConfig("webhook_url is required for webhook mode", nil)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30 // Telegram's limit is ~30 messages per second
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.FullAdapter for Telegram.
type Adapter struct {
	config      Config
	bot         *bot.Bot
	botClient   BotClient
	messages    chan *models.NormalizedMessage
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter
}

// NewAdapter creates a new Telegram adapter with the given configuration.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:      config,
		messages:    make(chan *models.NormalizedMessage, 100),
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:      config.Logger.With("adapter", "telegram"),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelTelegram, a.logger)
	return a, nil
}

// SetBotClient sets a custom BotClient implementation, primarily for tests.
func (a *Adapter) SetBotClient(client BotClient) {
	a.botClient = client
}

// Start begins listening for messages from Telegram.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.logger.Info("starting telegram adapter", "mode", a.config.Mode, "rate_limit", a.config.RateLimit)

	b, err := bot.New(a.config.Token)
	if err != nil {
		a.updateStatus(false, fmt.Sprintf("failed to create bot: %v", err))
		a.health.RecordError(channels.ErrCodeAuthentication)
		return channels.ErrAuthentication("failed to create bot", err)
	}
	a.bot = b
	a.botClient = newRealBotClient(b)
	a.health.RecordConnectionOpened()

	a.wg.Add(1)
	go a.runWithReconnection(ctx)

	a.logger.Info("telegram adapter started successfully")
	return nil
}

func (a *Adapter) runWithReconnection(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.messages)

	attempts := 0
	reconnector := &channels.Reconnector{
		Config: channels.ReconnectConfig{
			MaxAttempts:  a.config.MaxReconnectAttempts,
			InitialDelay: a.config.ReconnectDelay,
			MaxDelay:     30 * time.Second,
			Factor:       2,
			Jitter:       true,
		},
		Logger: a.logger,
		Health: a.health,
	}

	err := reconnector.Run(ctx, func(runCtx context.Context) error {
		if err := a.run(runCtx); err != nil {
			attempts++
			a.updateStatus(false, fmt.Sprintf("bot error (attempt %d/%d)", attempts, a.config.MaxReconnectAttempts))
			a.logger.Error("telegram bot error", "error", err, "attempt", attempts)
			a.setDegraded(true)
			return err
		}
		attempts = 0
		a.setDegraded(false)
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		a.logger.Error("telegram adapter stopped", "error", err)
		a.health.RecordError(channels.ErrCodeConnection)
	}
	a.updateStatus(false, "")
}

func (a *Adapter) run(ctx context.Context) error {
	a.updateStatus(true, "")
	if a.config.Mode == ModeWebhook {
		return a.runWebhook(ctx)
	}
	return a.runLongPolling(ctx)
}

func (a *Adapter) runLongPolling(ctx context.Context) error {
	a.logger.Info("starting long polling mode")
	a.botClient.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleMessage)
	a.botClient.RegisterHandlerMatchFunc(a.matchMediaMessage, a.handleMessage)
	a.botClient.Start(ctx)
	return nil
}

func (a *Adapter) runWebhook(ctx context.Context) error {
	a.logger.Info("starting webhook mode", "url", a.config.WebhookURL)
	if _, err := a.botClient.SetWebhook(ctx, &bot.SetWebhookParams{URL: a.config.WebhookURL}); err != nil {
		a.health.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to set webhook", err)
	}
	a.botClient.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleMessage)
	a.botClient.RegisterHandlerMatchFunc(a.matchMediaMessage, a.handleMessage)
	go a.botClient.StartWebhook(ctx)
	<-ctx.Done()
	return nil
}

// matchMediaMessage matches messages carrying media but no text, which the
// text handler above won't catch.
func (a *Adapter) matchMediaMessage(update *tgmodels.Update) bool {
	if update.Message == nil || update.Message.Text != "" {
		return false
	}
	return update.Message.Voice != nil ||
		update.Message.Audio != nil ||
		len(update.Message.Photo) > 0 ||
		update.Message.Document != nil
}

func (a *Adapter) handleMessage(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	startTime := time.Now()
	if update.Message == nil {
		return
	}

	msg := convertTelegramMessage(&telegramMessageAdapter{update.Message})

	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(startTime))

	select {
	case a.messages <- msg:
		a.updateLastPing()
		channels.RecordActivity(string(channels.ChannelTelegram), msg.ChatID, channels.DirectionInbound)
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "chat_id", update.Message.Chat.ID)
		a.health.RecordMessageFailed()
	}
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("stopping telegram adapter")
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.health.RecordConnectionClosed()
		a.logger.Info("telegram adapter stopped gracefully")
		return nil
	case <-ctx.Done():
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

// Send delivers a ChannelOutbound to Telegram, rate limited. A Kind of
// OutboundEdit edits out.ReplyTo (the original message ID) in place.
func (a *Adapter) Send(ctx context.Context, out *models.ChannelOutbound) error {
	startTime := time.Now()

	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}
	if a.botClient == nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("bot not initialized", nil)
	}

	chatID, err := strconv.ParseInt(out.ChatID, 10, 64)
	if err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInvalidInput)
		return channels.ErrInvalidInput("invalid telegram chat id", err)
	}

	if out.Kind == models.OutboundEdit && out.ReplyTo != "" {
		msgID, err := strconv.Atoi(out.ReplyTo)
		if err != nil {
			return channels.ErrInvalidInput("invalid telegram message id", err)
		}
		_, err = a.botClient.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID: chatID, MessageID: msgID, Text: out.Text,
		})
		if err != nil && !strings.Contains(err.Error(), "message is not modified") {
			a.health.RecordMessageFailed()
			a.health.RecordError(channels.ErrCodeInternal)
			return channels.ErrInternal("failed to edit message", err)
		}
		a.health.RecordMessageSent()
		return nil
	}

	chunker := channels.ChunkerFromCapabilities(channels.GetChannelCapabilities(channels.ChannelTelegram))
	for _, chunk := range chunker.Chunk(out.Text) {
		_, err = a.botClient.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk})
		if err != nil {
			a.health.RecordMessageFailed()
			if isRateLimitError(err) {
				a.health.RecordError(channels.ErrCodeRateLimit)
				return channels.ErrRateLimit("telegram rate limit exceeded", err)
			}
			a.health.RecordError(channels.ErrCodeInternal)
			return channels.ErrInternal("failed to send message", err)
		}
	}

	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(startTime))
	channels.RecordActivity(string(channels.ChannelTelegram), out.ChatID, channels.DirectionOutbound)
	return nil
}

// Messages returns a channel of inbound NormalizedMessages.
func (a *Adapter) Messages() <-chan *models.NormalizedMessage {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelTelegram
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	if a.health == nil {
		return channels.Status{}
	}
	return a.health.Status()
}

// HealthCheck verifies connectivity by calling getMe.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	startTime := time.Now()
	health := channels.HealthStatus{LastCheck: startTime}

	if a.botClient == nil {
		health.Message = "bot not initialized"
		health.Latency = time.Since(startTime)
		return health
	}

	_, err := a.botClient.GetMe(ctx)
	health.Latency = time.Since(startTime)
	if err != nil {
		health.Message = fmt.Sprintf("health check failed: %v", err)
		return health
	}

	health.Healthy = true
	health.Degraded = a.isDegraded()
	if health.Degraded {
		health.Message = "operating in degraded mode"
	} else {
		health.Message = "healthy"
	}
	return health
}

// Metrics returns the current metrics snapshot.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	if a.health == nil {
		return channels.MetricsSnapshot{ChannelType: models.ChannelTelegram}
	}
	return a.health.Metrics()
}

func (a *Adapter) updateStatus(connected bool, errMsg string) {
	if a.health != nil {
		a.health.SetStatus(connected, errMsg)
	}
}

func (a *Adapter) updateLastPing() {
	if a.health != nil {
		a.health.UpdateLastPing()
	}
}

func (a *Adapter) setDegraded(degraded bool) {
	if a.health != nil {
		a.health.SetDegraded(degraded)
	}
}

func (a *Adapter) isDegraded() bool {
	if a.health == nil {
		return false
	}
	return a.health.IsDegraded()
}

// isRateLimitError checks if an error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Too Many Requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "FLOOD_WAIT") ||
		strings.Contains(errStr, "rate limit")
}

// telegramMessageInterface lets convertTelegramMessage be exercised with a
// hand-built fake in tests, without depending on the SDK's concrete type.
type telegramMessageInterface interface {
	GetMessageID() int64
	GetChatID() int64
	GetChatType() string
	GetText() string
	GetFrom() userInterface
	GetDate() int64
	HasPhoto() bool
	GetPhotoID() string
	HasDocument() bool
	GetDocumentID() string
	GetDocumentName() string
	GetDocumentMimeType() string
	HasAudio() bool
	GetAudioID() string
	HasVoice() bool
	GetVoiceID() string
	GetVoiceMimeType() string
}

type userInterface interface {
	GetID() int64
	GetFirstName() string
	GetLastName() string
}

type telegramMessageAdapter struct {
	*tgmodels.Message
}

func (t *telegramMessageAdapter) GetMessageID() int64   { return int64(t.ID) }
func (t *telegramMessageAdapter) GetChatID() int64      { return t.Chat.ID }
func (t *telegramMessageAdapter) GetChatType() string   { return string(t.Chat.Type) }
func (t *telegramMessageAdapter) GetText() string       { return t.Text }
func (t *telegramMessageAdapter) GetDate() int64        { return int64(t.Date) }
func (t *telegramMessageAdapter) HasPhoto() bool        { return len(t.Photo) > 0 }
func (t *telegramMessageAdapter) HasDocument() bool     { return t.Document != nil }
func (t *telegramMessageAdapter) HasAudio() bool        { return t.Audio != nil }
func (t *telegramMessageAdapter) HasVoice() bool        { return t.Voice != nil }

func (t *telegramMessageAdapter) GetFrom() userInterface {
	if t.From == nil {
		return &userAdapter{}
	}
	return &userAdapter{t.From}
}

func (t *telegramMessageAdapter) GetPhotoID() string {
	if len(t.Photo) > 0 {
		return t.Photo[0].FileID
	}
	return ""
}

func (t *telegramMessageAdapter) GetDocumentID() string {
	if t.Document != nil {
		return t.Document.FileID
	}
	return ""
}

func (t *telegramMessageAdapter) GetDocumentName() string {
	if t.Document != nil {
		return t.Document.FileName
	}
	return ""
}

func (t *telegramMessageAdapter) GetDocumentMimeType() string {
	if t.Document != nil {
		return t.Document.MimeType
	}
	return ""
}

func (t *telegramMessageAdapter) GetAudioID() string {
	if t.Audio != nil {
		return t.Audio.FileID
	}
	return ""
}

func (t *telegramMessageAdapter) GetVoiceID() string {
	if t.Voice != nil {
		return t.Voice.FileID
	}
	return ""
}

func (t *telegramMessageAdapter) GetVoiceMimeType() string {
	if t.Voice != nil {
		return t.Voice.MimeType
	}
	return "audio/ogg"
}

type userAdapter struct {
	*tgmodels.User
}

func (u *userAdapter) GetID() int64 {
	if u.User == nil {
		return 0
	}
	return u.User.ID
}

func (u *userAdapter) GetFirstName() string {
	if u.User == nil {
		return ""
	}
	return u.User.FirstName
}

func (u *userAdapter) GetLastName() string {
	if u.User == nil {
		return ""
	}
	return u.User.LastName
}

// convertTelegramMessage converts a Telegram message into a NormalizedMessage.
// Telegram's private-chat id equals the sender's user id, so ChatID/UserID
// naturally agree for DMs and diverge for groups.
func convertTelegramMessage(msg telegramMessageInterface) *models.NormalizedMessage {
	user := msg.GetFrom()

	m := &models.NormalizedMessage{
		ChannelID:   strconv.FormatInt(msg.GetChatID(), 10),
		ChannelType: models.ChannelTelegram,
		ChatID:      strconv.FormatInt(msg.GetChatID(), 10),
		UserID:      strconv.FormatInt(user.GetID(), 10),
		UserName:    strings.TrimSpace(strings.TrimSpace(user.GetFirstName()) + " " + strings.TrimSpace(user.GetLastName())),
		Text:        msg.GetText(),
		MessageID:   strconv.FormatInt(msg.GetMessageID(), 10),
		ReceivedAt:  time.Unix(msg.GetDate(), 0),
	}

	var attachments []models.Attachment
	if msg.HasPhoto() {
		attachments = append(attachments, models.Attachment{ID: msg.GetPhotoID(), Type: "image"})
	}
	if msg.HasDocument() {
		attachments = append(attachments, models.Attachment{
			ID: msg.GetDocumentID(), Type: "document",
			Filename: msg.GetDocumentName(), MimeType: msg.GetDocumentMimeType(),
		})
	}
	if msg.HasAudio() {
		attachments = append(attachments, models.Attachment{ID: msg.GetAudioID(), Type: "audio"})
	}
	if msg.HasVoice() {
		attachments = append(attachments, models.Attachment{
			ID: msg.GetVoiceID(), Type: "voice", MimeType: msg.GetVoiceMimeType(),
		})
	}
	if len(attachments) > 0 {
		m.Attachments = attachments
	}

	return m
}
