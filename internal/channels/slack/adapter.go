package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Config holds configuration for the Slack adapter.
type Config struct {
	// BotToken is the xoxb- token used for API calls (required)
	BotToken string

	// AppToken is the xapp- token used for Socket Mode (required for Start)
	AppToken string

	// RateLimit configures rate limiting for API calls (operations per second)
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting
	RateBurst int

	// Logger is an optional slog.Logger instance
	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return channels.ErrConfig("bot_token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.FullAdapter for Slack, via Socket Mode.
type Adapter struct {
	cfg          Config
	apiClient    SlackAPIClient
	socketClient *socketmode.Client
	messages     chan *models.NormalizedMessage
	botUserID    string
	botUserIDMu  sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	rateLimiter  *channels.RateLimiter
	metrics      *channels.Metrics
	logger       *slog.Logger
	status       channels.Status
	statusMu     sync.RWMutex
	degraded     bool
	degradedMu   sync.RWMutex
}

// NewAdapter creates a new Slack adapter with the given configuration.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	return &Adapter{
		cfg:          cfg,
		apiClient:    client,
		socketClient: socketmode.New(client, socketmode.OptionDebug(false)),
		messages:     make(chan *models.NormalizedMessage, 100),
		rateLimiter:  channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:      channels.NewMetrics(models.ChannelSlack),
		logger:       cfg.Logger.With("adapter", "slack"),
	}, nil
}

// SetAPIClient injects an API client implementation, used by tests.
func (a *Adapter) SetAPIClient(client SlackAPIClient) {
	a.apiClient = client
}

// Start begins listening for messages from Slack via Socket Mode.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	authResp, err := a.apiClient.AuthTestContext(ctx)
	if err != nil {
		a.metrics.RecordError(channels.ErrCodeAuthentication)
		return channels.ErrAuthentication("failed to authenticate with Slack", err)
	}

	a.botUserIDMu.Lock()
	a.botUserID = authResp.UserID
	a.botUserIDMu.Unlock()

	a.logger.Info("slack adapter started", "bot_user_id", authResp.UserID)

	if a.socketClient != nil {
		a.wg.Add(1)
		go a.handleEvents()

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.socketClient.Run(); err != nil {
				a.updateStatus(false, fmt.Sprintf("socket mode error: %v", err))
				a.logger.Error("socket mode error", "error", err)
			}
		}()
	}

	a.updateStatus(true, "")
	a.metrics.RecordConnectionOpened()
	return nil
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	close(a.messages)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.updateStatus(false, "")
		a.metrics.RecordConnectionClosed()
		return nil
	case <-ctx.Done():
		a.updateStatus(false, "shutdown timeout")
		a.metrics.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("shutdown timeout", ctx.Err())
	}
}

// Send delivers an outbound message (or edit) to Slack.
func (a *Adapter) Send(ctx context.Context, out *models.ChannelOutbound) error {
	startTime := time.Now()

	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.metrics.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	if out.ChatID == "" {
		a.metrics.RecordMessageFailed()
		a.metrics.RecordError(channels.ErrCodeInvalidInput)
		return channels.ErrInvalidInput("channel id is required", nil)
	}

	var err error
	if out.Kind == models.OutboundEdit && out.ReplyTo != "" {
		_, _, _, err = a.apiClient.UpdateMessageContext(ctx, out.ChatID, out.ReplyTo, slack.MsgOptionText(out.Text, false))
	} else {
		chunker := channels.ChunkerFromCapabilities(channels.GetChannelCapabilities(channels.ChannelSlack))
		for _, chunk := range chunker.Chunk(out.Text) {
			if _, _, err = a.apiClient.PostMessageContext(ctx, out.ChatID, slack.MsgOptionText(chunk, false)); err != nil {
				break
			}
		}
	}

	if err != nil {
		a.metrics.RecordMessageFailed()
		a.logger.Error("failed to send slack message", "error", err, "channel_id", out.ChatID)
		if isRateLimitError(err) {
			a.metrics.RecordError(channels.ErrCodeRateLimit)
			return channels.ErrRateLimit("slack rate limit exceeded", err)
		}
		a.metrics.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to send slack message", err)
	}

	a.metrics.RecordMessageSent()
	a.metrics.RecordSendLatency(time.Since(startTime))
	channels.RecordActivity(string(channels.ChannelSlack), out.ChatID, channels.DirectionOutbound)
	return nil
}

// Messages returns a channel of inbound NormalizedMessages.
func (a *Adapter) Messages() <-chan *models.NormalizedMessage {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelSlack
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// HealthCheck performs a connectivity check with Slack's API.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	startTime := time.Now()
	health := channels.HealthStatus{LastCheck: startTime}

	_, err := a.apiClient.AuthTestContext(ctx)
	health.Latency = time.Since(startTime)
	if err != nil {
		health.Message = "health check failed: " + err.Error()
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
	return a.metrics.Snapshot()
}

// handleEvents processes incoming Socket Mode events.
func (a *Adapter) handleEvents() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}

			a.statusMu.Lock()
			a.status.LastPing = time.Now().Unix()
			a.statusMu.Unlock()

			switch event.Type {
			case socketmode.EventTypeConnectionError:
				a.updateStatus(false, "connection error")
			case socketmode.EventTypeConnected:
				a.updateStatus(true, "")
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					a.socketClient.Ack(*event.Request)
				}
			}
		}
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if event.Request != nil {
			a.socketClient.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.ProcessAppMention(ev)
	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		if ev.SubType != "" && ev.SubType != "file_share" {
			return
		}
		a.ProcessMessage(ev)
	}
}

// ProcessMessage converts and enqueues an inbound message event. Exported
// so tests (and the Events API callback above) share the same path.
func (a *Adapter) ProcessMessage(event *slackevents.MessageEvent) {
	startTime := time.Now()

	a.botUserIDMu.RLock()
	botUserID := a.botUserID
	a.botUserIDMu.RUnlock()

	isDM := strings.HasPrefix(event.Channel, "D")
	isMention := botUserID != "" && strings.Contains(event.Text, fmt.Sprintf("<@%s>", botUserID))
	if !isDM && !isMention && event.ThreadTimeStamp == "" {
		return
	}

	msg := convertSlackMessage(event)

	a.metrics.RecordMessageReceived()
	a.metrics.RecordReceiveLatency(time.Since(startTime))

	select {
	case a.messages <- msg:
		channels.RecordActivity(string(channels.ChannelSlack), msg.ChatID, channels.DirectionInbound)
	case <-a.ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message")
		a.metrics.RecordMessageFailed()
	}
}

// ProcessAppMention converts an app-mention event to a MessageEvent and
// processes it the same way as a direct message.
func (a *Adapter) ProcessAppMention(event *slackevents.AppMentionEvent) {
	a.ProcessMessage(&slackevents.MessageEvent{
		Type:            "message",
		User:            event.User,
		Text:            event.Text,
		Channel:         event.Channel,
		TimeStamp:       event.TimeStamp,
		ThreadTimeStamp: event.ThreadTimeStamp,
	})
}

func (a *Adapter) updateStatus(connected bool, errMsg string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.Connected = connected
	a.status.Error = errMsg
	if connected {
		a.status.LastPing = time.Now().Unix()
	}
}

func (a *Adapter) setDegraded(degraded bool) {
	a.degradedMu.Lock()
	defer a.degradedMu.Unlock()
	a.degraded = degraded
}

func (a *Adapter) isDegraded() bool {
	a.degradedMu.RLock()
	defer a.degradedMu.RUnlock()
	return a.degraded
}

// isRateLimitError checks if an error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "ratelimited") ||
		strings.Contains(errStr, "429")
}

// convertSlackMessage maps a Slack message event to a NormalizedMessage.
// Slack's channel id is used as both ChannelID and ChatID; DMs and
// channels are both addressed the same way in the Slack Web API.
func convertSlackMessage(event *slackevents.MessageEvent) *models.NormalizedMessage {
	text := event.Text
	for strings.Contains(text, "<@") {
		start := strings.Index(text, "<@")
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	text = strings.TrimSpace(text)

	receivedAt := time.Now()
	if ts, err := parseSlackTimestamp(event.TimeStamp); err == nil {
		receivedAt = ts
	}

	msg := &models.NormalizedMessage{
		ChannelID:   event.Channel,
		ChannelType: models.ChannelSlack,
		ChatID:      event.Channel,
		UserID:      event.User,
		Text:        text,
		MessageID:   event.TimeStamp,
		ReceivedAt:  receivedAt,
	}

	if event.Message != nil {
		for _, file := range event.Message.Files {
			msg.Attachments = append(msg.Attachments, models.Attachment{
				ID:       file.ID,
				Type:     getAttachmentType(file.Mimetype),
				URL:      file.URLPrivateDownload,
				Filename: file.Name,
				MimeType: file.Mimetype,
				Size:     int64(file.Size),
			})
		}
	}

	return msg
}

func getAttachmentType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "document"
	}
}

// parseSlackTimestamp converts a Slack timestamp string ("1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) (time.Time, error) {
	parts := strings.Split(ts, ".")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", ts)
	}

	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Time{}, err
	}

	return time.Unix(sec, usec*1000), nil
}
