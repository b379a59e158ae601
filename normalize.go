package supportchat

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// now is swapped in tests.
var now = time.Now

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// epochSecondsCutoff separates epoch seconds from epoch milliseconds.
const epochSecondsCutoff = 1e11

// ParseTime reads a wire timestamp. It returns nil for missing, null, empty
// or unparsable input.
func ParseTime(raw WireTime) *time.Time {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil || s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
		return nil
	}

	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	var t time.Time
	if math.Abs(n) < epochSecondsCutoff {
		t = time.UnixMilli(int64(n * 1000)).UTC()
	} else {
		t = time.UnixMilli(int64(n)).UTC()
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// NormalizeMessage converts a wire message. A missing or invalid createdAt
// becomes the current time.
func NormalizeMessage(w WireMessage) Message {
	createdAt := now()
	if t := ParseTime(w.CreatedAt); t != nil {
		createdAt = *t
	}
	return Message{
		ID:         w.ID,
		Sender:     w.Sender,
		SenderID:   deref(w.SenderID),
		SenderName: deref(w.SenderName),
		SenderRole: deref(w.SenderRole),
		Content:    w.Content,
		CreatedAt:  createdAt,
	}
}

// NormalizeThread converts a full wire thread. Counters default to zero and
// messages are ordered and deduplicated.
func NormalizeThread(w WireThread) ThreadSummary {
	threadID := w.ThreadID
	if threadID == "" {
		threadID = w.UserID
	}
	var lastSender Sender
	if w.LastSender != nil {
		lastSender = *w.LastSender
	}

	messages := make([]Message, 0, len(w.Messages))
	for _, m := range w.Messages {
		messages = InsertMessage(messages, NormalizeMessage(m))
	}

	return ThreadSummary{
		ThreadID:      threadID,
		UserID:        w.UserID,
		UserEmail:     deref(w.UserEmail),
		UserName:      deref(w.UserName),
		UserAvatar:    deref(w.UserAvatar),
		LastMessage:   deref(w.LastMessage),
		LastSender:    lastSender,
		LastMessageAt: ParseTime(w.LastMessageAt),
		UnreadByAdmin: derefInt(w.UnreadByAdmin),
		UnreadByUser:  derefInt(w.UnreadByUser),
		CreatedAt:     ParseTime(w.CreatedAt),
		UpdatedAt:     ParseTime(w.UpdatedAt),
		Messages:      messages,
	}
}

// NormalizeSummary converts a partial wire summary into a patch. Fields the
// payload omitted stay nil.
func NormalizeSummary(w WireThread) SummaryPatch {
	threadID := w.ThreadID
	if threadID == "" {
		threadID = w.UserID
	}
	updatedAt := ParseTime(w.UpdatedAt)
	if updatedAt == nil {
		updatedAt = ParseTime(w.LastMessageAt)
	}
	return SummaryPatch{
		ThreadID:      threadID,
		UserID:        w.UserID,
		UserEmail:     w.UserEmail,
		UserName:      w.UserName,
		UserAvatar:    w.UserAvatar,
		LastMessage:   w.LastMessage,
		LastSender:    w.LastSender,
		LastMessageAt: ParseTime(w.LastMessageAt),
		UnreadByAdmin: w.UnreadByAdmin,
		UnreadByUser:  w.UnreadByUser,
		UpdatedAt:     updatedAt,
	}
}

// MessageEventPatch builds the summary patch for a new-message event from
// its optional summary and the already normalized message. The preview
// fields fall back to the message.
func MessageEventPatch(summary *WireThread, msg Message) SummaryPatch {
	var p SummaryPatch
	if summary != nil {
		p = NormalizeSummary(*summary)
	}
	if p.LastMessage == nil {
		content := msg.Content
		p.LastMessage = &content
	}
	if p.LastSender == nil {
		sender := msg.Sender
		p.LastSender = &sender
	}
	if p.LastMessageAt == nil {
		at := msg.CreatedAt
		p.LastMessageAt = &at
		if p.UpdatedAt == nil {
			p.UpdatedAt = &at
		}
	}
	return p
}

// eventUserID is the end-user a new-message event belongs to.
func eventUserID(ev MessageEvent) string {
	if ev.Summary == nil {
		return ""
	}
	if ev.Summary.UserID != "" {
		return ev.Summary.UserID
	}
	return ev.Summary.ThreadID
}
