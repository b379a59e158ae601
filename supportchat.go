// Package supportchat keeps the admin console's support-chat inbox and
// thread views in sync with the backend.
//
// It covers the REST endpoints, the realtime channel, the pure merge
// functions shared by both, and two controllers (inbox list and thread
// detail) that tie them together.
//
// Example:
//
//	client := supportchat.NewClient(supportchat.StaticSession("admin-jwt"),
//		supportchat.WithBaseURL("https://shop.example.com/api"),
//		supportchat.WithAdminID("admin-1"))
//
//	inbox := supportchat.OpenInbox(ctx, client, supportchat.InboxOptions{})
//	defer inbox.Close()
//
//	thread := supportchat.OpenThread(ctx, client, "user-123", supportchat.ThreadOptions{})
//	defer thread.Close()
//	thread.SetInput("Hi, how can we help?")
//	_ = thread.Send(ctx)
package supportchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================================
// Environment
// ============================================================================

const (
	EnvAPIURL    = "SUPPORT_CHAT_API_URL"
	EnvSocketURL = "SUPPORT_CHAT_SOCKET_URL"
)

const (
	DefaultBaseURL   = "http://localhost:5000/api"
	DefaultSocketURL = "http://localhost:5000"
	DefaultTimeout   = 30 * time.Second
)

// ResolveAPIURL returns the REST base URL from the environment, falling back
// to DefaultBaseURL. A nil lookup reads the process environment.
func ResolveAPIURL(lookup func(string) string) string {
	if lookup == nil {
		lookup = os.Getenv
	}
	if v := strings.TrimSpace(lookup(EnvAPIURL)); v != "" {
		return strings.TrimRight(v, "/")
	}
	return DefaultBaseURL
}

// ResolveSocketURL returns the realtime endpoint: the socket URL variable,
// then the API URL variable, then origin, then DefaultSocketURL.
func ResolveSocketURL(lookup func(string) string, origin string) string {
	if lookup == nil {
		lookup = os.Getenv
	}
	for _, v := range []string{lookup(EnvSocketURL), lookup(EnvAPIURL), origin} {
		if v = strings.TrimSpace(v); v != "" {
			return strings.TrimRight(v, "/")
		}
	}
	return DefaultSocketURL
}

// ============================================================================
// Session
// ============================================================================

// Session supplies the admin credentials used by the client.
type Session interface {
	// Token returns the bearer token, or "" for anonymous requests.
	Token() string
	// OnUnauthorized is called when the backend rejects the token.
	OnUnauthorized()
}

// StaticSession is a Session with a fixed token.
type StaticSession string

func (s StaticSession) Token() string { return string(s) }

func (s StaticSession) OnUnauthorized() {}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL    string
	socketURL  string
	origin     string
	adminID    string
	session    Session
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithSocketURL sets the realtime endpoint explicitly, bypassing
// environment resolution.
func WithSocketURL(u string) ClientOption {
	return func(c *Client) { c.socketURL = strings.TrimRight(u, "/") }
}

// WithOrigin sets the origin used when no socket or API URL is configured.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) { c.origin = origin }
}

// WithAdminID sets the admin identifier announced on realtime channels.
func WithAdminID(id string) ClientOption {
	return func(c *Client) { c.adminID = id }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRateLimit bounds the REST request rate. A zero limit disables it.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		if limit == 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewClient creates a client. session may be nil for anonymous use.
func NewClient(session Session, opts ...ClientOption) *Client {
	if session == nil {
		session = StaticSession("")
	}
	c := &Client{
		baseURL: ResolveAPIURL(nil),
		session: session,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SocketURL is the resolved realtime endpoint for this client.
func (c *Client) SocketURL() string {
	if c.socketURL != "" {
		return c.socketURL
	}
	return ResolveSocketURL(nil, c.origin)
}

// AdminID is the admin identifier announced on realtime channels.
func (c *Client) AdminID() string { return c.adminID }

// Logger returns the client's logger.
func (c *Client) Logger() *zap.Logger { return c.logger }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeRequest(method, "error")
		c.logger.Warn("request_failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return fmt.Errorf("network request failed: %w", err)
	}
	defer resp.Body.Close()

	observeRequest(method, strconv.Itoa(resp.StatusCode))
	c.logger.Debug("request_done",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.session.OnUnauthorized()
		}
		return &APIError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func threadPath(userID string) string {
	return "/support/chat/threads/" + url.PathEscape(userID)
}

// ============================================================================
// Support Chat API
// ============================================================================

// threadList accepts either a bare array or a {"data": [...]} envelope.
type threadList []WireThread

func (l *threadList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, (*[]WireThread)(l))
	}
	var env struct {
		Data []WireThread `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return err
	}
	*l = env.Data
	return nil
}

// ListThreads fetches thread summaries for the inbox.
func (c *Client) ListThreads(ctx context.Context, opts *ListThreadsOptions) ([]WireThread, error) {
	query := url.Values{}
	if opts != nil {
		if opts.Search != "" {
			query.Set("search", opts.Search)
		}
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			query.Set("offset", strconv.Itoa(opts.Offset))
		}
	}
	var list threadList
	if err := c.doRequest(ctx, http.MethodGet, "/support/chat/threads", nil, query, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetThread fetches one thread with its full message history.
func (c *Client) GetThread(ctx context.Context, userID string) (*WireThread, error) {
	var thread WireThread
	if err := c.doRequest(ctx, http.MethodGet, threadPath(userID), nil, nil, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// SendMessage posts an admin reply to the user's thread.
func (c *Client) SendMessage(ctx context.Context, userID, content string) (*SendResult, error) {
	var result SendResult
	body := map[string]string{"content": content}
	if err := c.doRequest(ctx, http.MethodPost, threadPath(userID)+"/messages", body, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkRead resets the admin unread counter of the user's thread.
func (c *Client) MarkRead(ctx context.Context, userID string) error {
	return c.doRequest(ctx, http.MethodPatch, threadPath(userID)+"/read", nil, nil, nil)
}
