package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starkbot/starkbot/internal/auth"
	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/internal/dispatcher"
	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/internal/txqueue"
	"github.com/starkbot/starkbot/pkg/models"
)

const (
	protocolVersion  = "2.0"
	maxPayloadBytes  = 1 << 20
	pongWait         = 45 * time.Second
	writeWait        = 10 * time.Second
	pingInterval     = 15 * time.Second
)

// Server is the JSON-RPC 2.0 over WebSocket gateway (§6): the transport
// that turns a connected client into a channel of dispatcher.Dispatch
// calls, and fans the Event Broadcaster and Transaction Queue Coordinator
// out to every subscribed connection.
type Server struct {
	cfg          Config
	dispatcher   *dispatcher.Dispatcher
	channels     *channels.Registry
	broadcaster  *events.Broadcaster
	txQueue      *txqueue.Coordinator
	txBroadcaster txqueue.Broadcaster
	auth         *auth.Service
	logger       *slog.Logger

	upgrader  websocket.Upgrader
	startTime time.Time

	connGauge    prometheus.Gauge
	requestTotal *prometheus.CounterVec
}

// Config is the subset of gateway behavior the caller must supply.
type Config struct {
	AuthSecret      string
	CORSOrigins     []string
	ConfirmDeadline time.Duration
}

// New builds a Server wired to the already-constructed runtime: the
// message Dispatcher, the channel Registry (for health snapshots), the
// Event Broadcaster (for the subscribe method), the tx queue Coordinator
// (for tx_queue.confirm/deny), and the auth Service gating the initial
// `auth` request.
func New(
	cfg Config,
	disp *dispatcher.Dispatcher,
	registry *channels.Registry,
	broadcaster *events.Broadcaster,
	txQueue *txqueue.Coordinator,
	txBroadcaster txqueue.Broadcaster,
	authSvc *auth.Service,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmDeadline <= 0 {
		cfg.ConfirmDeadline = 2 * time.Minute
	}
	s := &Server{
		cfg:           cfg,
		dispatcher:    disp,
		channels:      registry,
		broadcaster:   broadcaster,
		txQueue:       txQueue,
		txBroadcaster: txBroadcaster,
		auth:          authSvc,
		logger:        logger,
		startTime:     time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(r *http.Request) bool { return cfg.allowOrigin(r) },
		},
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "starkbot",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Number of live WebSocket connections.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starkbot",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "JSON-RPC requests handled, labeled by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	prometheus.MustRegister(s.connGauge, s.requestTotal)
	return s
}

func (c Config) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(c.CORSOrigins) == 0 {
		return true
	}
	for _, allowed := range c.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler returns the HTTP mux serving the WebSocket upgrade endpoint, a
// liveness probe, and the prometheus exposition endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) serveHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"uptime_ms": time.Since(s.startTime).Milliseconds(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway: websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	c := &conn_{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
	}
	s.connGauge.Inc()
	defer s.connGauge.Dec()
	c.run()
}

// conn_ is one live WebSocket connection and its authenticated/subscribed
// state. Named with a trailing underscore only to avoid colliding with the
// gorilla/websocket Conn it wraps.
type conn_ struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	id           string
	mu           sync.Mutex
	authenticated bool
	user         *models.User
	sub          *events.Subscriber
}

func (c *conn_) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *conn_) close() {
	c.cancel()
	if c.sub != nil {
		c.server.broadcaster.Unsubscribe(c.sub)
	}
	close(c.send)
	_ = c.conn.Close()
}

func (c *conn_) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		req, err := c.decodeRequest(data)
		if err != nil {
			c.sendError(nil, errCodeParse, err.Error())
			continue
		}

		if !c.isAuthenticated() && req.Method != "auth" {
			c.sendError(req.ID, errCodeUnauthorized, "auth must be the first request")
			continue
		}

		c.handle(req)
	}
}

func (c *conn_) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *conn_) decodeRequest(raw []byte) (*rpcRequest, error) {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if req.JSONRPC == "" {
		req.JSONRPC = protocolVersion
	}
	if err := validateRPCRequest(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *conn_) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated || c.server.auth == nil || !c.server.auth.Enabled()
}

func (c *conn_) handle(req *rpcRequest) {
	var err error
	switch req.Method {
	case "auth":
		err = c.handleAuth(req)
	case "subscribe":
		err = c.handleSubscribe(req)
	case "chat.send":
		err = c.handleChatSend(req)
	case "tx_queue.confirm":
		err = c.handleTxConfirm(req)
	case "tx_queue.deny":
		err = c.handleTxDeny(req)
	default:
		c.sendError(req.ID, errCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		c.server.requestTotal.WithLabelValues(req.Method, "not_found").Inc()
		return
	}
	if err != nil {
		c.sendError(req.ID, errCodeInternal, err.Error())
		c.server.requestTotal.WithLabelValues(req.Method, "error").Inc()
		return
	}
	c.server.requestTotal.WithLabelValues(req.Method, "ok").Inc()
}

func (c *conn_) handleAuth(req *rpcRequest) error {
	var params authParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return err
	}
	var user *models.User
	if c.server.auth != nil && c.server.auth.Enabled() {
		token := strings.TrimSpace(params.Token)
		if token == c.server.cfg.AuthSecret && token != "" {
			user = &models.User{ID: "gateway"}
		} else if u, err := c.server.auth.ValidateJWT(token); err == nil {
			user = u
		} else if u, err := c.server.auth.ValidateAPIKey(token); err == nil {
			user = u
		} else {
			return c.respondError(req.ID, errCodeUnauthorized, "invalid token")
		}
	}
	c.mu.Lock()
	c.authenticated = true
	c.user = user
	c.mu.Unlock()
	return c.respond(req.ID, map[string]any{
		"protocol": protocolVersion,
		"snapshot": c.healthSnapshot(),
	})
}

func (c *conn_) handleSubscribe(req *rpcRequest) error {
	var params subscribeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return err
		}
	}
	c.mu.Lock()
	if c.sub != nil {
		c.server.broadcaster.Unsubscribe(c.sub)
	}
	c.sub = c.server.broadcaster.Subscribe(params.SessionID)
	c.mu.Unlock()
	go c.forwardEvents(c.sub)
	return c.respond(req.ID, map[string]any{"subscribed": true})
}

func (c *conn_) forwardEvents(sub *events.Subscriber) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			c.notify(string(evt.Event), evt)
		}
	}
}

func (c *conn_) handleChatSend(req *rpcRequest) error {
	var params chatSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.Content) == "" {
		return c.respondError(req.ID, errCodeInvalidParams, "content is required")
	}

	channelType := models.ChannelType(params.Channel)
	if channelType == "" {
		channelType = models.ChannelType("web")
	}
	userID := "gateway-anonymous"
	userName := "Gateway User"
	c.mu.Lock()
	if c.user != nil {
		userID = c.user.ID
		if c.user.Name != "" {
			userName = c.user.Name
		}
	}
	c.mu.Unlock()

	msg := &models.NormalizedMessage{
		ChannelID:   "gateway:" + c.id,
		ChannelType: channelType,
		ChatID:      params.SessionID,
		UserID:      userID,
		UserName:    userName,
		Text:        params.Content,
		ReceivedAt:  time.Now(),
	}

	result, err := c.server.dispatcher.Dispatch(c.ctx, msg)
	if err != nil {
		return err
	}
	return c.respond(req.ID, map[string]any{
		"response":  result.ResponseText,
		"completed": result.Completed,
		"error":     result.Error,
	})
}

func (c *conn_) handleTxConfirm(req *rpcRequest) error {
	if c.server.txQueue == nil || c.server.txBroadcaster == nil {
		return c.respondError(req.ID, errCodeInternal, "tx queue unavailable")
	}
	var params txQueueConfirmParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return err
	}
	deadline := time.Now().Add(c.server.cfg.ConfirmDeadline)
	txHash, err := c.server.txQueue.Confirm(c.ctx, params.ID, c.server.txBroadcaster, deadline)
	if err != nil {
		return err
	}
	return c.respond(req.ID, map[string]any{
		"approved": true,
		"tx_hash":  txHash,
	})
}

func (c *conn_) handleTxDeny(req *rpcRequest) error {
	if c.server.txQueue == nil {
		return c.respondError(req.ID, errCodeInternal, "tx queue unavailable")
	}
	var params txQueueDenyParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return err
	}
	if err := c.server.txQueue.Deny(c.ctx, params.ID); err != nil {
		return err
	}
	return c.respond(req.ID, map[string]any{"denied": true})
}

func (c *conn_) healthSnapshot() map[string]any {
	snapshot := map[string]any{
		"uptime_ms": time.Since(c.server.startTime).Milliseconds(),
	}
	if c.server.channels == nil {
		return snapshot
	}
	statuses := make([]map[string]any, 0)
	for channelType, adapter := range c.server.channels.HealthAdapters() {
		status := adapter.Status()
		statuses = append(statuses, map[string]any{
			"channel":   string(channelType),
			"connected": status.Connected,
			"error":     status.Error,
		})
	}
	if len(statuses) > 0 {
		snapshot["channels"] = statuses
	}
	return snapshot
}

func (c *conn_) respond(id json.RawMessage, result any) error {
	return c.enqueue(rpcResponse{JSONRPC: protocolVersion, ID: id, Result: result})
}

func (c *conn_) respondError(id json.RawMessage, code int, message string) error {
	return c.enqueue(rpcResponse{JSONRPC: protocolVersion, ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (c *conn_) sendError(id json.RawMessage, code int, message string) {
	_ = c.respondError(id, code, message)
}

func (c *conn_) notify(method string, params any) {
	_ = c.enqueue(rpcNotification{JSONRPC: protocolVersion, Method: method, Params: params})
}

func (c *conn_) enqueue(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > maxPayloadBytes {
		return fmt.Errorf("payload too large")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}
