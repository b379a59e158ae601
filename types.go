package supportchat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

var (
	// ErrUnauthorized is returned (wrapped in an APIError) when the backend
	// rejects the session token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmptyMessage is returned by Thread.Send when the trimmed input is empty.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrSendInProgress is returned by Thread.Send while another send is pending.
	ErrSendInProgress = errors.New("a message is already being sent")

	// ErrClosed is returned by controller methods called after Close.
	ErrClosed = errors.New("controller closed")
)

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: %d %s", e.Status, e.StatusText)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// ============================================================================
// Sender
// ============================================================================

// Sender identifies who authored a message. The values are part of the wire
// contract.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAdmin  Sender = "admin"
	SenderSystem Sender = "system"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAdmin, SenderSystem:
		return true
	}
	return false
}

func (s *Sender) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	v := Sender(raw)
	if !v.Valid() {
		return fmt.Errorf("sender: unknown value %q", raw)
	}
	*s = v
	return nil
}

// ============================================================================
// Wire Types
// ============================================================================

// WireTime holds a raw JSON timestamp as sent by the backend: an ISO-8601
// string, an epoch number, or null. Use ParseTime to read it.
type WireTime []byte

func (t *WireTime) UnmarshalJSON(data []byte) error {
	*t = append((*t)[:0], data...)
	return nil
}

func (t WireTime) MarshalJSON() ([]byte, error) {
	if len(bytes.TrimSpace(t)) == 0 {
		return []byte("null"), nil
	}
	return t, nil
}

// TimeString builds a WireTime carrying s as a JSON string.
func TimeString(s string) WireTime {
	b, _ := json.Marshal(s)
	return WireTime(b)
}

// TimeEpochMillis builds a WireTime carrying an epoch in milliseconds.
func TimeEpochMillis(ms int64) WireTime {
	return WireTime(fmt.Sprintf("%d", ms))
}

// TimeOf builds a WireTime from t in RFC 3339 form.
func TimeOf(t time.Time) WireTime {
	return TimeString(t.UTC().Format(time.RFC3339Nano))
}

// WireMessage is a message as it appears in REST responses and realtime events.
type WireMessage struct {
	ID         string   `json:"id"`
	Sender     Sender   `json:"sender"`
	SenderID   *string  `json:"senderId,omitempty"`
	SenderName *string  `json:"senderName,omitempty"`
	SenderRole *string  `json:"senderRole,omitempty"`
	Content    string   `json:"content"`
	CreatedAt  WireTime `json:"createdAt,omitempty"`
}

// WireThread is a thread or thread summary. List entries and realtime
// summaries are partial: any field may be missing.
type WireThread struct {
	ThreadID      string        `json:"threadId,omitempty"`
	UserID        string        `json:"userId,omitempty"`
	UserEmail     *string       `json:"userEmail,omitempty"`
	UserName      *string       `json:"userName,omitempty"`
	UserAvatar    *string       `json:"userAvatar,omitempty"`
	LastMessage   *string       `json:"lastMessage,omitempty"`
	LastSender    *Sender       `json:"lastSender,omitempty"`
	LastMessageAt WireTime      `json:"lastMessageAt,omitempty"`
	UnreadByAdmin *int          `json:"unreadByAdmin,omitempty"`
	UnreadByUser  *int          `json:"unreadByUser,omitempty"`
	CreatedAt     WireTime      `json:"createdAt,omitempty"`
	UpdatedAt     WireTime      `json:"updatedAt,omitempty"`
	Messages      []WireMessage `json:"messages,omitempty"`
}

// UnmarshalJSON decodes a thread leniently: messages that fail to decode are
// skipped and an unknown lastSender is treated as absent, so one bad entry
// does not discard the thread.
func (w *WireThread) UnmarshalJSON(data []byte) error {
	type Alias WireThread
	aux := struct {
		*Alias
		LastSender json.RawMessage   `json:"lastSender,omitempty"`
		Messages   []json.RawMessage `json:"messages,omitempty"`
	}{Alias: (*Alias)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	w.LastSender = nil
	if raw := bytes.TrimSpace(aux.LastSender); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var s Sender
		if json.Unmarshal(raw, &s) == nil {
			w.LastSender = &s
		}
	}

	w.Messages = nil
	if aux.Messages != nil {
		w.Messages = make([]WireMessage, 0, len(aux.Messages))
		for _, raw := range aux.Messages {
			var m WireMessage
			if json.Unmarshal(raw, &m) == nil {
				w.Messages = append(w.Messages, m)
			}
		}
	}
	return nil
}

// MessageEvent is the payload of a support-chat:new-message event.
type MessageEvent struct {
	Summary *WireThread  `json:"summary,omitempty"`
	Message *WireMessage `json:"message"`
}

// SendResult is the response to a send-message request. Older backends
// name the summary "thread".
type SendResult struct {
	Summary *WireThread  `json:"summary,omitempty"`
	Thread  *WireThread  `json:"thread,omitempty"`
	Message *WireMessage `json:"message,omitempty"`
}

// ThreadSummary returns whichever summary the backend sent.
func (r *SendResult) ThreadSummary() *WireThread {
	if r.Summary != nil {
		return r.Summary
	}
	return r.Thread
}

// ListThreadsOptions filters the inbox list. Search is applied server-side.
type ListThreadsOptions struct {
	Search string
	Limit  int
	Offset int
}

// ============================================================================
// Canonical Types
// ============================================================================

// Message is a normalized chat message. Optional display fields are empty
// when the backend did not send them.
type Message struct {
	ID         string
	Sender     Sender
	SenderID   string
	SenderName string
	SenderRole string
	Content    string
	CreatedAt  time.Time
}

// ThreadSummary is a normalized thread. Messages is only populated for
// threads loaded in full.
type ThreadSummary struct {
	ThreadID      string
	UserID        string
	UserEmail     string
	UserName      string
	UserAvatar    string
	LastMessage   string
	LastSender    Sender
	LastMessageAt *time.Time
	UnreadByAdmin int
	UnreadByUser  int
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	Messages      []Message
}

// DisplayName is the label shown for the end-user of the thread.
func (t *ThreadSummary) DisplayName() string {
	if t.UserName != "" {
		return t.UserName
	}
	if t.UserEmail != "" {
		return t.UserEmail
	}
	id := t.UserID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return "User " + id
}

// Initial is the avatar letter for the thread.
func (t *ThreadSummary) Initial() string {
	for _, s := range []string{t.UserName, t.UserEmail} {
		if s != "" {
			return strings.ToUpper(string([]rune(s)[0]))
		}
	}
	return "U"
}

// UnreadBadge renders the admin unread counter, capped at "99+".
func (t *ThreadSummary) UnreadBadge() string {
	switch {
	case t.UnreadByAdmin <= 0:
		return ""
	case t.UnreadByAdmin > 99:
		return "99+"
	default:
		return fmt.Sprintf("%d", t.UnreadByAdmin)
	}
}

// SummaryPatch is a partial thread summary. A nil field was absent from the
// payload and leaves the stored value alone when merged.
type SummaryPatch struct {
	ThreadID      string
	UserID        string
	UserEmail     *string
	UserName      *string
	UserAvatar    *string
	LastMessage   *string
	LastSender    *Sender
	LastMessageAt *time.Time
	UnreadByAdmin *int
	UnreadByUser  *int
	UpdatedAt     *time.Time
}

// key is the identity used to find the summary in a list.
func (p SummaryPatch) key() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.ThreadID
}
