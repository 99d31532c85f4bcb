// Package mattermost adapts the mattermost/server/public/model Client4/
// WebSocketClient pair into the channels.FullAdapter contract, translating
// posted-event WebSocket messages into NormalizedMessages and
// ChannelOutbounds back into REST post calls.
package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"
)

// Config holds configuration for the Mattermost adapter.
type Config struct {
	// ServerURL is the Mattermost server URL (required).
	ServerURL string

	// Token is the bot token for API calls. Either Token or
	// (Username + Password) must be provided.
	Token string

	Username string
	Password string

	// TeamName is the default team to operate in (optional).
	TeamName string

	// RateLimit configures rate limiting for API calls (operations per second).
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting.
	RateBurst int

	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return channels.ErrConfig("server_url is required", nil)
	}
	if c.Token == "" && (c.Username == "" || c.Password == "") {
		return channels.ErrConfig("either token or username/password is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// mattermostClient is the subset of *model.Client4 this adapter needs,
// narrow enough for tests to substitute a fake.
type mattermostClient interface {
	Login(ctx context.Context, username, password string) (*model.User, *model.Response, error)
	GetMe(ctx context.Context, etag string) (*model.User, *model.Response, error)
	CreatePost(ctx context.Context, post *model.Post) (*model.Post, *model.Response, error)
	UpdatePost(ctx context.Context, postID string, post *model.Post) (*model.Post, *model.Response, error)
	GetPing(ctx context.Context) (string, *model.Response, error)
}

var _ mattermostClient = (*model.Client4)(nil)

// Adapter implements channels.FullAdapter for Mattermost.
type Adapter struct {
	cfg         Config
	rawClient   *model.Client4
	client      mattermostClient
	wsClient    *model.WebSocketClient
	messages    chan *models.NormalizedMessage
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	botUserID   string
	botUserIDMu sync.RWMutex
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter
}

// NewAdapter creates a new Mattermost adapter with the given configuration.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := model.NewAPIv4Client(cfg.ServerURL)
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	a := &Adapter{
		cfg:         cfg,
		rawClient:   client,
		client:      client,
		messages:    make(chan *models.NormalizedMessage, 100),
		rateLimiter: channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:      cfg.Logger.With("adapter", "mattermost"),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelMattermost, a.logger)
	return a, nil
}

// SetClient swaps in a fake mattermostClient, primarily for tests.
func (a *Adapter) SetClient(c mattermostClient) {
	a.client = c
}

// Start begins listening for messages from Mattermost via WebSocket.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("starting mattermost adapter", "server", a.cfg.ServerURL, "rate_limit", a.cfg.RateLimit)

	if a.cfg.Token == "" {
		user, _, err := a.client.Login(ctx, a.cfg.Username, a.cfg.Password)
		if err != nil {
			a.health.RecordError(channels.ErrCodeAuthentication)
			return channels.ErrAuthentication("failed to login to Mattermost", err)
		}
		a.setBotUserID(user.Id)
		a.logger.Info("mattermost adapter logged in", "user_id", user.Id)
	} else {
		me, _, err := a.client.GetMe(ctx, "")
		if err != nil {
			a.health.RecordError(channels.ErrCodeAuthentication)
			return channels.ErrAuthentication("failed to get bot user info", err)
		}
		a.setBotUserID(me.Id)
		a.logger.Info("mattermost adapter authenticated", "user_id", me.Id)
	}

	wsURL := buildWebSocketURL(a.cfg.ServerURL)
	a.logger.Debug("connecting to websocket", "url", wsURL)

	var err error
	a.wsClient, err = model.NewWebSocketClient4(wsURL, a.rawClient.AuthToken)
	if err != nil {
		a.health.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to connect to Mattermost WebSocket", err)
	}
	a.wsClient.Listen()

	a.wg.Add(1)
	go a.handleEvents()

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()

	a.logger.Info("mattermost adapter started successfully")
	return nil
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("stopping mattermost adapter")

	if a.cancel != nil {
		a.cancel()
	}
	if a.wsClient != nil {
		a.wsClient.Close()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(a.messages)
		a.health.SetStatus(false, "")
		a.health.RecordConnectionClosed()
		a.logger.Info("mattermost adapter stopped gracefully")
		return nil
	case <-ctx.Done():
		close(a.messages)
		a.health.SetStatus(false, "shutdown timeout")
		a.logger.Warn("mattermost adapter stop timeout")
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("shutdown timeout", ctx.Err())
	}
}

// Send delivers a ChannelOutbound as a new post or an edit of an existing one.
func (a *Adapter) Send(ctx context.Context, out *models.ChannelOutbound) error {
	startTime := time.Now()

	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	if out.ChatID == "" && !(out.Kind == models.OutboundEdit && out.ReplyTo != "") {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInvalidInput)
		return channels.ErrInvalidInput("channel id is required", nil)
	}

	if out.Kind == models.OutboundEdit && out.ReplyTo != "" {
		_, _, err := a.client.UpdatePost(ctx, out.ReplyTo, &model.Post{Id: out.ReplyTo, Message: out.Text})
		if err != nil {
			a.health.RecordMessageFailed()
			if isRateLimitError(err) {
				a.health.RecordError(channels.ErrCodeRateLimit)
				return channels.ErrRateLimit("mattermost rate limit exceeded", err)
			}
			a.health.RecordError(channels.ErrCodeInternal)
			return channels.ErrInternal("failed to edit Mattermost message", err)
		}
	} else {
		chunker := channels.ChunkerFromCapabilities(channels.GetChannelCapabilities(channels.ChannelMattermost))
		for _, chunk := range chunker.Chunk(out.Text) {
			_, _, err := a.client.CreatePost(ctx, &model.Post{ChannelId: out.ChatID, Message: chunk})
			if err != nil {
				a.health.RecordMessageFailed()
				a.logger.Error("failed to send message", "error", err, "channel_id", out.ChatID)
				if isRateLimitError(err) {
					a.health.RecordError(channels.ErrCodeRateLimit)
					return channels.ErrRateLimit("mattermost rate limit exceeded", err)
				}
				a.health.RecordError(channels.ErrCodeInternal)
				return channels.ErrInternal("failed to send Mattermost message", err)
			}
		}
	}

	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(startTime))
	channels.RecordActivity(string(channels.ChannelMattermost), out.ChatID, channels.DirectionOutbound)
	return nil
}

// Messages returns a channel of inbound NormalizedMessages.
func (a *Adapter) Messages() <-chan *models.NormalizedMessage {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelMattermost
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	return a.health.Status()
}

// HealthCheck performs a connectivity check with Mattermost's ping endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	health := channels.HealthStatus{LastCheck: start}

	pingResp, _, err := a.client.GetPing(ctx)
	health.Latency = time.Since(start)
	if err != nil {
		health.Message = fmt.Sprintf("health check failed: %v", err)
		return health
	}

	health.Healthy = pingResp == "OK"
	health.Degraded = a.health.IsDegraded()
	if health.Degraded {
		health.Message = "operating in degraded mode"
	} else {
		health.Message = "healthy"
	}
	return health
}

// Metrics returns a snapshot of adapter metrics.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) handleEvents() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("event handler stopped")
			return
		case event, ok := <-a.wsClient.EventChannel:
			if !ok {
				a.logger.Info("websocket event channel closed")
				return
			}
			a.health.UpdateLastPing()
			a.handleEvent(event)
		case _, ok := <-a.wsClient.ResponseChannel:
			if !ok {
				a.logger.Info("websocket response channel closed")
				return
			}
		}
	}
}

func (a *Adapter) handleEvent(event *model.WebSocketEvent) {
	switch event.EventType() {
	case model.WebsocketEventPosted:
		a.handlePosted(event)
	case model.WebsocketEventHello:
		a.logger.Debug("websocket hello received")
		a.health.SetStatus(true, "")
		a.health.SetDegraded(false)
	case model.WebsocketEventStatusChange:
		a.logger.Debug("websocket status change", "data", event.GetData())
	}
}

func (a *Adapter) handlePosted(event *model.WebSocketEvent) {
	startTime := time.Now()

	postData := event.GetData()["post"]
	if postData == nil {
		return
	}
	postJSON, ok := postData.(string)
	if !ok {
		return
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		a.logger.Warn("failed to parse post", "error", err)
		return
	}

	if post.UserId == a.getBotUserID() {
		return
	}

	channelType, _ := event.GetData()["channel_type"].(string)
	isDM := channelType == "D"
	isMention := strings.Contains(post.Message, "@"+a.getBotUserID())
	if !isDM && !isMention && post.RootId == "" {
		return
	}

	msg := convertPost(&post, event.GetData())

	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(startTime))

	select {
	case a.messages <- msg:
		channels.RecordActivity(string(channels.ChannelMattermost), msg.ChatID, channels.DirectionInbound)
	case <-a.ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "channel", post.ChannelId)
		a.health.RecordMessageFailed()
	}
}

// convertPost converts a Mattermost post into a NormalizedMessage. The
// channel id doubles as the chat id, matching Discord's and Slack's
// channel-identifies-the-conversation shape.
func convertPost(post *model.Post, eventData map[string]any) *models.NormalizedMessage {
	senderName, _ := eventData["sender_name"].(string)

	msg := &models.NormalizedMessage{
		ChannelID:   post.ChannelId,
		ChannelType: models.ChannelMattermost,
		ChatID:      post.ChannelId,
		UserID:      post.UserId,
		UserName:    senderName,
		Text:        post.Message,
		MessageID:   post.Id,
		ReceivedAt:  time.UnixMilli(post.CreateAt),
	}

	for _, fileID := range post.FileIds {
		msg.Attachments = append(msg.Attachments, models.Attachment{ID: fileID})
	}

	return msg
}

func (a *Adapter) setBotUserID(id string) {
	a.botUserIDMu.Lock()
	defer a.botUserIDMu.Unlock()
	a.botUserID = id
}

func (a *Adapter) getBotUserID() string {
	a.botUserIDMu.RLock()
	defer a.botUserIDMu.RUnlock()
	return a.botUserID
}

func buildWebSocketURL(serverURL string) string {
	wsURL := strings.Replace(serverURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return wsURL
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "rate limited") ||
		strings.Contains(errStr, "429")
}
