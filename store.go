package supportchat

import (
	"sort"
	"time"
)

// ============================================================================
// Message Store
// ============================================================================

// InsertMessage adds m to a thread's message log. If a message with the same
// id is already present, current is returned unchanged. Otherwise a new
// slice ordered by CreatedAt is returned; current is never modified.
func InsertMessage(current []Message, m Message) []Message {
	for i := range current {
		if current[i].ID == m.ID {
			return current
		}
	}
	out := make([]Message, 0, len(current)+1)
	out = append(out, current...)
	out = append(out, m)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// InsertMessages inserts each message in turn.
func InsertMessages(current []Message, ms ...Message) []Message {
	for _, m := range ms {
		current = InsertMessage(current, m)
	}
	return current
}

// ============================================================================
// Thread Summary Store
// ============================================================================

// MergeSummary applies a patch to a stored summary. Present patch fields
// override, absent ones keep the stored value; messages are left alone.
//
// With no stored summary, a new one is built from the patch when it carries
// a thread id, otherwise nil is returned.
func MergeSummary(cur *ThreadSummary, p SummaryPatch) *ThreadSummary {
	if cur == nil {
		if p.ThreadID == "" {
			return nil
		}
		userID := p.UserID
		if userID == "" {
			userID = p.ThreadID
		}
		updatedAt := p.UpdatedAt
		if updatedAt == nil {
			updatedAt = p.LastMessageAt
		}
		t := &ThreadSummary{
			ThreadID:      p.ThreadID,
			UserID:        userID,
			UserEmail:     deref(p.UserEmail),
			UserName:      deref(p.UserName),
			UserAvatar:    deref(p.UserAvatar),
			LastMessage:   deref(p.LastMessage),
			LastMessageAt: cloneTime(p.LastMessageAt),
			UnreadByAdmin: derefInt(p.UnreadByAdmin),
			UnreadByUser:  derefInt(p.UnreadByUser),
			UpdatedAt:     cloneTime(updatedAt),
			Messages:      []Message{},
		}
		if p.LastSender != nil {
			t.LastSender = *p.LastSender
		}
		return t
	}

	next := *cur
	if p.ThreadID != "" {
		next.ThreadID = p.ThreadID
	}
	if p.UserID != "" {
		next.UserID = p.UserID
	}
	if p.UserEmail != nil {
		next.UserEmail = *p.UserEmail
	}
	if p.UserName != nil {
		next.UserName = *p.UserName
	}
	if p.UserAvatar != nil {
		next.UserAvatar = *p.UserAvatar
	}
	if p.LastMessage != nil {
		next.LastMessage = *p.LastMessage
	}
	if p.LastSender != nil {
		next.LastSender = *p.LastSender
	}
	if p.LastMessageAt != nil {
		next.LastMessageAt = cloneTime(p.LastMessageAt)
	}
	if p.UnreadByAdmin != nil {
		next.UnreadByAdmin = *p.UnreadByAdmin
	}
	if p.UnreadByUser != nil {
		next.UnreadByUser = *p.UnreadByUser
	}
	if p.UpdatedAt != nil {
		next.UpdatedAt = cloneTime(p.UpdatedAt)
	}
	return &next
}

// UpsertSummary merges p into the summary with the same user id, or prepends
// a new summary when none exists and p carries a thread id. The result is
// always sorted by SortThreads. A patch without identity is a no-op.
func UpsertSummary(list []ThreadSummary, p SummaryPatch) []ThreadSummary {
	key := p.key()
	if key == "" {
		return list
	}
	out := make([]ThreadSummary, 0, len(list)+1)
	found := false
	for i := range list {
		if !found && list[i].UserID == key {
			out = append(out, *MergeSummary(&list[i], p))
			found = true
			continue
		}
		out = append(out, list[i])
	}
	if !found {
		created := MergeSummary(nil, p)
		if created == nil {
			return list
		}
		out = append([]ThreadSummary{*created}, out...)
	}
	return SortThreads(out)
}

// SortThreads returns a copy of list ordered by LastMessageAt, newest first.
// Threads without a timestamp sort last; ties keep their order.
func SortThreads(list []ThreadSummary) []ThreadSummary {
	out := make([]ThreadSummary, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
