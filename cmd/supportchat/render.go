package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dacn-admin/supportchat"
	"github.com/dustin/go-humanize"
)

var (
	liveColor    = lipgloss.Color("42")
	pendingColor = lipgloss.Color("214")
	offlineColor = lipgloss.Color("245")
	accentColor  = lipgloss.Color("208")
	metaColor    = lipgloss.Color("242")
	errorColor   = lipgloss.Color("203")

	nameStyle   = lipgloss.NewStyle().Bold(true)
	metaStyle   = lipgloss.NewStyle().Foreground(metaColor)
	badgeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(accentColor).Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)
	adminStyle  = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	userStyle   = lipgloss.NewStyle().Bold(true)
	systemStyle = lipgloss.NewStyle().Foreground(metaColor).Italic(true)
)

const previewWidth = 48

func statusBadge(s supportchat.Status) string {
	color := offlineColor
	switch s {
	case supportchat.StatusConnected:
		color = liveColor
	case supportchat.StatusConnecting:
		color = pendingColor
	}
	return lipgloss.NewStyle().Foreground(color).Render("● " + s.Label())
}

// relativeTime renders t the way the inbox list does.
func relativeTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "—"
	}
	diff := now.Sub(*t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < 7*24*time.Hour:
		return humanize.RelTime(*t, now, "ago", "from now")
	default:
		return t.Local().Format("Jan 2, 2006")
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	local := t.Local()
	return local.Format("Jan 2, 2006") + " · " + local.Format("15:04")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderThreads(threads []supportchat.ThreadSummary, now time.Time) string {
	if len(threads) == 0 {
		return metaStyle.Render("No conversations yet.")
	}

	var b strings.Builder
	for i := range threads {
		t := &threads[i]
		line := nameStyle.Render(t.DisplayName())
		if badge := t.UnreadBadge(); badge != "" {
			line += " " + badgeStyle.Render(badge)
		}
		line += "  " + metaStyle.Render(relativeTime(t.LastMessageAt, now))
		b.WriteString(line + "\n")

		preview := t.LastMessage
		if preview == "" {
			preview = "No messages yet"
		} else if t.LastSender == supportchat.SenderAdmin {
			preview = "You: " + preview
		}
		b.WriteString("  " + truncate(preview, previewWidth) + "\n")
		b.WriteString("  " + metaStyle.Render(t.UserID) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func senderLabel(m supportchat.Message, thread *supportchat.ThreadSummary) string {
	switch m.Sender {
	case supportchat.SenderAdmin:
		if m.SenderName != "" {
			return adminStyle.Render(m.SenderName)
		}
		return adminStyle.Render("Admin")
	case supportchat.SenderSystem:
		return systemStyle.Render("System")
	default:
		if m.SenderName != "" {
			return userStyle.Render(m.SenderName)
		}
		if thread != nil {
			return userStyle.Render(thread.DisplayName())
		}
		return userStyle.Render("User")
	}
}

func renderMessages(messages []supportchat.Message, thread *supportchat.ThreadSummary) string {
	if len(messages) == 0 {
		return metaStyle.Render("No messages yet. Say hello!")
	}
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s %s\n", senderLabel(m, thread), metaStyle.Render(formatTimestamp(m.CreatedAt)))
		for _, line := range strings.Split(m.Content, "\n") {
			b.WriteString("  " + line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderThreadHeader(thread *supportchat.ThreadSummary, userID string, status supportchat.Status) string {
	title := "User " + lastN(userID, 4)
	var sub string
	if thread != nil {
		title = thread.DisplayName()
		sub = thread.UserEmail
	}
	header := nameStyle.Render(title) + "  " + statusBadge(status)
	if sub != "" && sub != title {
		header += "\n" + metaStyle.Render(sub)
	}
	return header
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func renderError(err error) string {
	return errorStyle.Render("Error: " + err.Error())
}
