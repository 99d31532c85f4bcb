package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// matrixClient is the subset of *mautrix.Client this adapter needs, narrow
// enough for tests to substitute a fake.
type matrixClient interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	JoinRoom(ctx context.Context, roomIDOrAlias string, req *mautrix.ReqJoinRoom) (*mautrix.RespJoinRoom, error)
	Whoami(ctx context.Context) (*mautrix.RespWhoami, error)
}

var _ matrixClient = (*mautrix.Client)(nil)

// Adapter implements channels.FullAdapter for Matrix.
type Adapter struct {
	config      *Config
	rawClient   *mautrix.Client
	client      matrixClient
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter
	rateLimiter *channels.RateLimiter

	messages chan *models.NormalizedMessage

	allowedRooms map[string]bool
	allowedUsers map[string]bool

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewAdapter creates a new Matrix adapter.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rawClient, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	if cfg.DeviceID != "" {
		rawClient.DeviceID = id.DeviceID(cfg.DeviceID)
	}

	a := &Adapter{
		config:      &cfg,
		rawClient:   rawClient,
		client:      rawClient,
		logger:      cfg.Logger.With("adapter", "matrix"),
		rateLimiter: channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		messages:    make(chan *models.NormalizedMessage, 100),
		stopCh:      make(chan struct{}),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelMatrix, a.logger)

	if len(cfg.AllowedRooms) > 0 {
		a.allowedRooms = make(map[string]bool, len(cfg.AllowedRooms))
		for _, room := range cfg.AllowedRooms {
			a.allowedRooms[room] = true
		}
	}
	if len(cfg.AllowedUsers) > 0 {
		a.allowedUsers = make(map[string]bool, len(cfg.AllowedUsers))
		for _, user := range cfg.AllowedUsers {
			a.allowedUsers[user] = true
		}
	}

	return a, nil
}

// SetClient swaps in a fake matrixClient, primarily for tests.
func (a *Adapter) SetClient(c matrixClient) {
	a.client = c
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelMatrix
}

// Start begins syncing with the homeserver.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	syncer, ok := a.rawClient.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return channels.ErrInternal("matrix client syncer is not a DefaultSyncer", nil)
	}

	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		a.handleMessage(evt)
	})
	if a.config.JoinOnInvite {
		syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
			a.handleMemberEvent(ctx, evt)
		})
	}

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	go a.syncLoop(ctx)

	a.logger.Info("matrix adapter started", "homeserver", a.config.Homeserver, "user_id", a.config.UserID)
	return nil
}

// Stop stops syncing and closes the messages channel.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()

	a.rawClient.StopSync()
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	close(a.messages)

	a.logger.Info("matrix adapter stopped")
	return nil
}

// Messages returns a channel of inbound NormalizedMessages.
func (a *Adapter) Messages() <-chan *models.NormalizedMessage {
	return a.messages
}

// Send delivers a ChannelOutbound as a room message or edit.
func (a *Adapter) Send(ctx context.Context, out *models.ChannelOutbound) error {
	if out == nil || out.ChatID == "" {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInvalidInput)
		return channels.ErrInvalidInput("room id is required", nil)
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	start := time.Now()
	roomID := id.RoomID(out.ChatID)

	if out.Kind == models.OutboundEdit && out.ReplyTo != "" {
		if err := a.sendEdit(ctx, roomID, out.ReplyTo, out.Text); err != nil {
			return err
		}
		a.health.RecordMessageSent()
		a.health.RecordSendLatency(time.Since(start))
		channels.RecordActivity(string(channels.ChannelMatrix), out.ChatID, channels.DirectionOutbound)
		return nil
	}

	chunker := channels.ChunkerFromCapabilities(channels.GetChannelCapabilities(channels.ChannelMatrix))
	for _, chunk := range chunker.Chunk(out.Text) {
		if err := a.sendText(ctx, roomID, chunk); err != nil {
			return err
		}
	}

	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	channels.RecordActivity(string(channels.ChannelMatrix), out.ChatID, channels.DirectionOutbound)
	return nil
}

func (a *Adapter) sendText(ctx context.Context, roomID id.RoomID, text string) error {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if strings.Contains(text, "**") || strings.Contains(text, "```") {
		content.Format = event.FormatHTML
		content.FormattedBody = markdownToHTML(text)
	}

	_, err := a.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		a.health.RecordMessageFailed()
		if isRateLimitError(err) {
			a.health.RecordError(channels.ErrCodeRateLimit)
			return channels.ErrRateLimit("matrix rate limit exceeded", err)
		}
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal(fmt.Sprintf("send message to %s", roomID), err)
	}
	return nil
}

// sendEdit sends an m.replace edit of an existing event, per the Matrix
// message editing spec (MSC2676-derived, now stable in the spec).
func (a *Adapter) sendEdit(ctx context.Context, roomID id.RoomID, targetEventID, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    "* " + text,
		NewContent: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    text,
		},
		RelatesTo: &event.RelatesTo{
			Type:    event.RelReplace,
			EventID: id.EventID(targetEventID),
		},
	}

	_, err := a.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		a.health.RecordMessageFailed()
		if isRateLimitError(err) {
			a.health.RecordError(channels.ErrCodeRateLimit)
			return channels.ErrRateLimit("matrix rate limit exceeded", err)
		}
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal(fmt.Sprintf("edit message in %s", roomID), err)
	}
	return nil
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	return a.health.Status()
}

// HealthCheck performs a live whoami call against the homeserver.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	_, err := a.client.Whoami(ctx)
	healthy := err == nil
	message := "ok"
	if err != nil {
		message = err.Error()
	}
	return channels.HealthStatus{
		Healthy:   healthy,
		Latency:   time.Since(start),
		Message:   message,
		LastCheck: time.Now(),
		Degraded:  a.health.IsDegraded(),
	}
}

// Metrics returns a snapshot of adapter metrics.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) syncLoop(ctx context.Context) {
	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := a.rawClient.SyncWithContext(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.logger.Error("matrix sync error", "error", err)
			a.health.RecordError(channels.ErrCodeConnection)
			a.health.SetDegraded(true)

			select {
			case <-time.After(5 * time.Second):
			case <-a.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		a.health.SetDegraded(false)
	}
}

func (a *Adapter) handleMessage(evt *event.Event) {
	if a.config.IgnoreOwnMessages && string(evt.Sender) == a.config.UserID {
		return
	}
	if a.allowedRooms != nil && !a.allowedRooms[string(evt.RoomID)] {
		return
	}
	if a.allowedUsers != nil && !a.allowedUsers[string(evt.Sender)] {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgNotice {
		return
	}

	msg := &models.NormalizedMessage{
		ChannelID:   string(evt.RoomID),
		ChannelType: models.ChannelMatrix,
		ChatID:      string(evt.RoomID),
		UserID:      string(evt.Sender),
		UserName:    string(evt.Sender),
		Text:        content.Body,
		MessageID:   string(evt.ID),
		ReceivedAt:  time.UnixMilli(evt.Timestamp),
	}

	a.health.RecordMessageReceived()

	select {
	case a.messages <- msg:
		channels.RecordActivity(string(channels.ChannelMatrix), msg.ChatID, channels.DirectionInbound)
	default:
		a.logger.Warn("messages channel full, dropping message", "event_id", evt.ID)
		a.health.RecordMessageFailed()
	}
}

func (a *Adapter) handleMemberEvent(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok {
		return
	}
	if content.Membership != event.MembershipInvite || evt.GetStateKey() != a.config.UserID {
		return
	}

	a.logger.Info("received room invite", "room_id", evt.RoomID)
	if _, err := a.client.JoinRoom(ctx, string(evt.RoomID), nil); err != nil {
		a.logger.Error("failed to join room", "room_id", evt.RoomID, "error", err)
		return
	}
	a.logger.Info("joined room", "room_id", evt.RoomID)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "M_LIMIT_EXCEEDED") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "Too Many Requests")
}

// markdownToHTML performs basic markdown to HTML conversion for the
// formatted_body fallback Matrix clients render when present.
func markdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "**", "<strong>")
	text = strings.ReplaceAll(text, "```", "<pre><code>")
	return text
}
