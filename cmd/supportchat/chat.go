package main

import (
	"context"
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dacn-admin/supportchat"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <user-id>",
	Short: "Open an interactive, live conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := signalContext()
		defer cancel()

		feed := newStateFeed()
		thread := supportchat.OpenThread(ctx, client, args[0], supportchat.ThreadOptions{
			OnChange: feed.push,
		})
		defer thread.Close()

		m := newChatModel(ctx, thread, feed)
		_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	},
}

// stateFeed hands the latest thread snapshot to the UI, dropping stale ones.
type stateFeed struct {
	ch chan supportchat.ThreadState
}

func newStateFeed() *stateFeed {
	return &stateFeed{ch: make(chan supportchat.ThreadState, 1)}
}

func (f *stateFeed) push(s supportchat.ThreadState) {
	for {
		select {
		case f.ch <- s:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

type stateMsg supportchat.ThreadState

type sendDoneMsg struct{ err error }

func waitForState(f *stateFeed) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-f.ch)
	}
}

// chatModel is the bubbletea model for the chat command.
type chatModel struct {
	ctx    context.Context
	thread *supportchat.Thread
	feed   *stateFeed
	state  supportchat.ThreadState
	notice string
	width  int
	height int
}

func newChatModel(ctx context.Context, thread *supportchat.Thread, feed *stateFeed) *chatModel {
	return &chatModel{
		ctx:    ctx,
		thread: thread,
		feed:   feed,
		state:  thread.State(),
	}
}

func (m *chatModel) Init() tea.Cmd {
	return waitForState(m.feed)
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case stateMsg:
		m.state = supportchat.ThreadState(msg)
		return m, waitForState(m.feed)
	case sendDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, supportchat.ErrEmptyMessage) {
			m.notice = msg.err.Error()
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.thread.CanSend() {
				return m, nil
			}
			m.notice = ""
			return m, m.sendCmd()
		case tea.KeyCtrlR:
			m.notice = ""
			return m, m.reloadCmd()
		case tea.KeyBackspace:
			r := []rune(m.thread.Input())
			if len(r) > 0 {
				m.thread.SetInput(string(r[:len(r)-1]))
			}
			return m, nil
		case tea.KeySpace:
			m.thread.SetInput(m.thread.Input() + " ")
			return m, nil
		case tea.KeyRunes:
			m.thread.SetInput(m.thread.Input() + string(msg.Runes))
			return m, nil
		}
	}
	return m, nil
}

func (m *chatModel) sendCmd() tea.Cmd {
	return func() tea.Msg {
		return sendDoneMsg{err: m.thread.Send(m.ctx)}
	}
}

func (m *chatModel) reloadCmd() tea.Cmd {
	return func() tea.Msg {
		_ = m.thread.Reload(m.ctx)
		return nil
	}
}

func (m *chatModel) View() string {
	s := m.state
	header := renderThreadHeader(s.Summary, m.thread.UserID(), s.Status)

	var body string
	switch {
	case s.Loading && len(s.Messages) == 0:
		body = metaStyle.Render("Loading conversation…")
	case s.Err != nil && len(s.Messages) == 0:
		body = renderError(s.Err) + "\n" + metaStyle.Render("Press ctrl+r to retry.")
	default:
		body = renderMessages(s.Messages, s.Summary)
	}
	body = tailLines(body, m.height-6)

	input := "› " + s.Input
	if s.Sending {
		input += metaStyle.Render("  sending…")
	}

	footer := metaStyle.Render("enter send · ctrl+r reload · esc quit")
	switch {
	case s.SendErr != nil:
		footer = renderError(s.SendErr)
	case m.notice != "":
		footer = errorStyle.Render(m.notice)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", input, footer)
}

// tailLines keeps the last n lines of s. Non-positive n keeps everything.
func tailLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
