package supportchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ============================================================================
// Fake backend
// ============================================================================

const testToken = "test-token"

// fakeBackend serves the support chat REST endpoints under /api and the
// realtime channel under /ws.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	joins chan json.RawMessage

	mu          sync.Mutex
	threads     []WireThread
	details     map[string]WireThread
	listAsArray bool
	listHook    func(search string)
	getHook     func(userID string)
	sendHook    func(content string)
	sendStatus  int
	readStatus  int
	nextID      int

	listQueries []string
	sent        []string
	reads       []string
	requestIDs  []string
	socketAuth  []string
	sockets     []*websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return newFakeBackendOn(t, ln)
}

// newFakeBackendOn serves the fake backend on an existing listener.
func newFakeBackendOn(t *testing.T, ln net.Listener) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		t:       t,
		joins:   make(chan json.RawMessage, 16),
		details: map[string]WireThread{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/support/chat/threads", fb.handleList)
	mux.HandleFunc("GET /api/support/chat/threads/{userId}", fb.handleGet)
	mux.HandleFunc("POST /api/support/chat/threads/{userId}/messages", fb.handleSend)
	mux.HandleFunc("PATCH /api/support/chat/threads/{userId}/read", fb.handleRead)
	mux.HandleFunc("/ws", fb.handleSocket)

	fb.srv = httptest.NewUnstartedServer(fb.authorize(mux))
	fb.srv.Listener.Close()
	fb.srv.Listener = ln
	fb.srv.Start()
	t.Cleanup(func() {
		fb.dropSockets()
		fb.srv.Close()
	})
	return fb
}

func (fb *fakeBackend) client(opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(fb.srv.URL + "/api"),
		WithSocketURL(fb.srv.URL),
		WithAdminID("admin-1"),
		WithRateLimit(0, 0),
	}
	return NewClient(StaticSession(testToken), append(base, opts...)...)
}

// channelConfig is a fast-reconnecting configuration for c.
func (fb *fakeBackend) channelConfig(c *Client) *ChannelConfig {
	cfg := c.ChannelConfig()
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond
	cfg.MaxReconnectAttempts = -1
	return &cfg
}

func (fb *fakeBackend) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		fb.mu.Lock()
		fb.requestIDs = append(fb.requestIDs, r.Header.Get("X-Request-ID"))
		fb.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fb *fakeBackend) setThreads(threads ...WireThread) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.threads = threads
}

func (fb *fakeBackend) setDetail(w WireThread) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.details[w.UserID] = w
}

func (fb *fakeBackend) handleList(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("search")
	fb.mu.Lock()
	fb.listQueries = append(fb.listQueries, search)
	hook := fb.listHook
	fb.mu.Unlock()

	if hook != nil {
		hook(search)
	}

	fb.mu.Lock()
	out := make([]WireThread, 0, len(fb.threads))
	for _, th := range fb.threads {
		name := ""
		if th.UserName != nil {
			name = *th.UserName
		}
		if search == "" || strings.Contains(strings.ToLower(name), strings.ToLower(search)) {
			out = append(out, th)
		}
	}
	asArray := fb.listAsArray
	fb.mu.Unlock()

	if asArray {
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (fb *fakeBackend) handleGet(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	fb.mu.Lock()
	hook := fb.getHook
	fb.mu.Unlock()
	if hook != nil {
		hook(userID)
	}

	fb.mu.Lock()
	th, ok := fb.details[userID]
	fb.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "thread not found"})
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (fb *fakeBackend) handleSend(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}

	fb.mu.Lock()
	hook := fb.sendHook
	fb.mu.Unlock()
	if hook != nil {
		hook(body.Content)
	}

	fb.mu.Lock()
	fb.sent = append(fb.sent, body.Content)
	status := fb.sendStatus
	fb.nextID++
	id := fmt.Sprintf("srv-%d", fb.nextID)
	fb.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]string{"message": "send failed"})
		return
	}

	at := TimeOf(time.Now())
	admin := SenderAdmin
	writeJSON(w, http.StatusOK, map[string]any{
		"thread": WireThread{
			ThreadID:      "thread-" + userID,
			UserID:        userID,
			LastMessage:   &body.Content,
			LastSender:    &admin,
			LastMessageAt: at,
			UnreadByUser:  intPtr(1),
		},
		"message": WireMessage{ID: id, Sender: SenderAdmin, Content: body.Content, CreatedAt: at},
	})
}

func (fb *fakeBackend) handleRead(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	fb.reads = append(fb.reads, r.PathValue("userId"))
	status := fb.readStatus
	fb.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]string{"message": "read failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (fb *fakeBackend) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	fb.mu.Lock()
	fb.socketAuth = append(fb.socketAuth, r.Header.Get("Authorization"))
	fb.sockets = append(fb.sockets, conn)
	fb.mu.Unlock()
	defer fb.removeSocket(conn)

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Type == EventJoinAdmin {
			fb.joins <- env.Payload
		}
	}
}

func (fb *fakeBackend) removeSocket(conn *websocket.Conn) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i, c := range fb.sockets {
		if c == conn {
			fb.sockets = append(fb.sockets[:i], fb.sockets[i+1:]...)
			return
		}
	}
}

// dropSockets closes every realtime connection from the server side.
func (fb *fakeBackend) dropSockets() {
	fb.mu.Lock()
	sockets := fb.sockets
	fb.sockets = nil
	fb.mu.Unlock()
	for _, c := range sockets {
		c.Close(websocket.StatusGoingAway, "server restart")
	}
}

// waitJoin waits for a join frame and returns its payload.
func (fb *fakeBackend) waitJoin(t *testing.T) json.RawMessage {
	t.Helper()
	select {
	case p := <-fb.joins:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for join-admin")
		return nil
	}
}

// emit sends a realtime event to every connected client.
func (fb *fakeBackend) emit(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	fb.emitRaw(t, envelope{Type: event, Payload: raw})
}

func (fb *fakeBackend) emitRaw(t *testing.T, frame any) {
	t.Helper()
	fb.mu.Lock()
	sockets := append([]*websocket.Conn(nil), fb.sockets...)
	fb.mu.Unlock()
	require.NotEmpty(t, sockets, "no realtime client connected")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range sockets {
		require.NoError(t, wsjson.Write(ctx, c, frame))
	}
}

func (fb *fakeBackend) counts() (lists, sends, reads int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.listQueries), len(fb.sent), len(fb.reads)
}

func (fb *fakeBackend) readCalls() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.reads...)
}

func (fb *fakeBackend) queries() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.listQueries...)
}

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)
