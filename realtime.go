package supportchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Realtime event names.
const (
	EventJoinAdmin    = "support-chat:join-admin"
	EventNewMessage   = "support-chat:new-message"
	EventThreadUpdate = "support-chat:thread-update"
)

// envelope is the wire format for all realtime frames.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type command struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type joinPayload struct {
	AdminID *string `json:"adminId"`
}

var errMissingMessage = errors.New("payload carries no message id")

// ============================================================================
// Status
// ============================================================================

// Status is the connection state of a realtime channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Label is the indicator text shown next to the inbox and thread views.
func (s Status) Label() string {
	switch s {
	case StatusConnected:
		return "Realtime live"
	case StatusConnecting:
		return "Connecting…"
	default:
		return "Offline"
	}
}

// ============================================================================
// Configuration
// ============================================================================

// ChannelConfig configures a realtime channel.
type ChannelConfig struct {
	// URL is the realtime base, http(s) or ws(s). See ResolveSocketURL.
	URL string
	// Path is appended to URL. Defaults to "/ws".
	Path string
	// Token is sent as a bearer token on the handshake.
	Token string
	// AdminID is announced in the join frame; empty announces null.
	AdminID string

	AutoReconnect bool
	// MaxReconnectAttempts bounds consecutive failed attempts. Zero or
	// negative retries until Close.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	PingTimeout          time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	ReadLimit            int64

	// HTTPClient is used for the handshake. Its Timeout must be zero.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (c *ChannelConfig) defaults() {
	if c.URL == "" {
		c.URL = ResolveSocketURL(nil, "")
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = -1
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ChannelConfig returns a reconnecting channel configuration for this
// client's endpoint, session and admin id.
func (c *Client) ChannelConfig() ChannelConfig {
	return ChannelConfig{
		URL:           c.SocketURL(),
		Token:         c.session.Token(),
		AdminID:       c.adminID,
		AutoReconnect: true,
		Logger:        c.logger,
	}
}

// socketEndpoint maps an http(s) base to its ws(s) form and appends path.
func socketEndpoint(base, path string) string {
	u := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return u + path
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *ChannelConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.reset()
	}
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Channel
// ============================================================================

// ChannelHandlers receive channel events. Handlers are called one at a time
// from the channel's goroutine and must not call Close.
type ChannelHandlers struct {
	OnStatus       func(Status)
	OnMessage      func(MessageEvent)
	OnThreadUpdate func(WireThread)
}

// Channel is a realtime connection with automatic reconnect and heartbeat.
// A Channel is opened once; after Close it cannot be reopened.
type Channel struct {
	cfg    ChannelConfig
	url    string
	h      ChannelHandlers
	logger *zap.Logger
	recon  *reconnector

	mu     sync.Mutex
	status Status
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel creates a channel. Call Open to start connecting.
func NewChannel(config ChannelConfig, handlers ChannelHandlers) *Channel {
	cfg := config
	cfg.defaults()
	return &Channel{
		cfg:    cfg,
		url:    socketEndpoint(cfg.URL, cfg.Path),
		h:      handlers,
		logger: cfg.Logger,
		recon:  newReconnector(&cfg),
		status: StatusDisconnected,
	}
}

// URL is the websocket endpoint the channel dials.
func (c *Channel) URL() string { return c.url }

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Open starts connecting in the background and returns immediately.
// Opening an open channel is a no-op.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.done != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)
	return nil
}

// Close disconnects, waits for the channel goroutine to exit and reports a
// final disconnected status. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}
	cancel()
	<-done
	c.setStatus(StatusDisconnected)
	c.logger.Debug("realtime_closed", zap.String("url", c.url))
	return nil
}

// WithChannel opens a channel, runs fn and closes the channel when fn returns.
func WithChannel(ctx context.Context, config ChannelConfig, handlers ChannelHandlers, fn func(*Channel) error) error {
	ch := NewChannel(config, handlers)
	if err := ch.Open(ctx); err != nil {
		return err
	}
	defer ch.Close()
	return fn(ch)
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	if c.h.OnStatus != nil {
		c.h.OnStatus(s)
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	for {
		c.setStatus(StatusConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			c.recon.markConnected()
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			c.logger.Warn("realtime_dial_failed", zap.String("url", c.url), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		c.setStatus(StatusDisconnected)
		if !c.cfg.AutoReconnect || !c.recon.shouldReconnect() {
			c.logger.Warn("realtime_gave_up", zap.String("url", c.url), zap.Int("attempts", c.recon.attempt))
			return
		}

		delay := c.recon.nextDelay()
		observeReconnect()
		c.logger.Info("realtime_reconnecting",
			zap.String("url", c.url),
			zap.Int("attempt", c.recon.attempt),
			zap.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)
	return conn, nil
}

// serve runs one connection until it fails or ctx is cancelled.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	incConnections()
	defer decConnections()

	connCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.logger.Info("realtime_connected", zap.String("url", c.url))
	c.setStatus(StatusConnected)
	c.join(connCtx, conn)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(connCtx, conn)
	}()

	for {
		typ, data, err := conn.Read(connCtx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("realtime_disconnected", zap.String("url", c.url), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			observeDrop("binary")
			continue
		}
		c.dispatch(data)
	}
}

func (c *Channel) join(ctx context.Context, conn *websocket.Conn) {
	var adminID *string
	if c.cfg.AdminID != "" {
		id := c.cfg.AdminID
		adminID = &id
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	err := wsjson.Write(writeCtx, conn, command{Type: EventJoinAdmin, Payload: joinPayload{AdminID: adminID}})
	if err != nil {
		c.logger.Warn("realtime_join_failed", zap.String("url", c.url), zap.Error(err))
	}
}

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("realtime_heartbeat_failed", zap.String("url", c.url), zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *Channel) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.drop("unknown", err)
		return
	}

	switch env.Type {
	case EventNewMessage:
		var ev MessageEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.drop(env.Type, err)
			return
		}
		if ev.Message == nil || ev.Message.ID == "" {
			c.drop(env.Type, errMissingMessage)
			return
		}
		observeEvent(env.Type)
		if c.h.OnMessage != nil {
			c.h.OnMessage(ev)
		}
	case EventThreadUpdate:
		var w WireThread
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			c.drop(env.Type, err)
			return
		}
		observeEvent(env.Type)
		if c.h.OnThreadUpdate != nil {
			c.h.OnThreadUpdate(w)
		}
	default:
		c.logger.Debug("realtime_event_ignored", zap.String("event", env.Type))
	}
}

func (c *Channel) drop(event string, err error) {
	observeDrop(event)
	c.logger.Debug("realtime_payload_dropped", zap.String("event", event), zap.Error(err))
}
