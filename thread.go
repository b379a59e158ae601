package supportchat

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ThreadOptions configures a Thread.
type ThreadOptions struct {
	// Channel overrides the client's realtime configuration.
	Channel *ChannelConfig
	// DisableRealtime keeps the thread REST-only.
	DisableRealtime bool

	// OnChange is called after every state change with a fresh snapshot.
	// Calls are serialized. It must not call Close.
	OnChange func(ThreadState)
}

// ThreadState is a snapshot of the thread detail view.
type ThreadState struct {
	Summary  *ThreadSummary
	Messages []Message
	Input    string
	Loading  bool
	Sending  bool
	Err      error
	SendErr  error
	Status   Status
}

// Thread keeps one user's conversation in sync and sends admin replies.
type Thread struct {
	client   *Client
	userID   string
	opts     ThreadOptions
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	channel  *Channel
	wg       sync.WaitGroup
	notifyMu sync.Mutex

	mu       sync.Mutex
	summary  *ThreadSummary
	messages []Message
	input    string
	loading  bool
	sending  bool
	err      error
	sendErr  error
	status   Status
	seq      uint64
	closed   bool
}

// OpenThread starts the detail view for userID: it loads the thread and
// opens the realtime channel in the background.
func OpenThread(ctx context.Context, client *Client, userID string, opts ThreadOptions) *Thread {
	ctx, cancel := context.WithCancel(ctx)
	t := &Thread{
		client:   client,
		userID:   userID,
		opts:     opts,
		logger:   client.Logger().With(zap.String("view", "thread"), zap.String("user_id", userID)),
		ctx:      ctx,
		cancel:   cancel,
		messages: []Message{},
		status:   StatusDisconnected,
	}

	if !opts.DisableRealtime {
		cfg := client.ChannelConfig()
		if opts.Channel != nil {
			cfg = *opts.Channel
		}
		t.channel = NewChannel(cfg, ChannelHandlers{
			OnStatus:       t.handleStatus,
			OnMessage:      t.handleMessage,
			OnThreadUpdate: t.handleThreadUpdate,
		})
		if err := t.channel.Open(ctx); err != nil {
			t.logger.Warn("realtime_open_failed", zap.Error(err))
		}
	}

	t.startLoad()
	return t
}

// UserID is the end-user whose thread this is.
func (t *Thread) UserID() string { return t.userID }

// State returns a snapshot of the current view state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()

	var summary *ThreadSummary
	if t.summary != nil {
		s := *t.summary
		summary = &s
	}
	messages := make([]Message, len(t.messages))
	copy(messages, t.messages)
	return ThreadState{
		Summary:  summary,
		Messages: messages,
		Input:    t.input,
		Loading:  t.loading,
		Sending:  t.sending,
		Err:      t.err,
		SendErr:  t.sendErr,
		Status:   t.status,
	}
}

func (t *Thread) notify() {
	if t.opts.OnChange == nil {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.opts.OnChange(t.State())
}

// SetInput replaces the reply draft.
func (t *Thread) SetInput(text string) {
	t.mu.Lock()
	t.input = text
	t.mu.Unlock()
	t.notify()
}

// Input returns the reply draft.
func (t *Thread) Input() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input
}

// CanSend reports whether Send would issue a request.
func (t *Thread) CanSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.sending && strings.TrimSpace(t.input) != ""
}

// ============================================================================
// Load
// ============================================================================

func (t *Thread) startLoad() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.seq++
	seq := t.seq
	t.loading = true
	t.wg.Add(1)
	t.mu.Unlock()
	t.notify()

	go func() {
		defer t.wg.Done()
		_ = t.load(t.ctx, seq)
	}()
}

// Reload refetches the thread and waits for it.
func (t *Thread) Reload(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.seq++
	seq := t.seq
	t.loading = true
	t.mu.Unlock()
	t.notify()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()
	return t.load(ctx, seq)
}

func (t *Thread) load(ctx context.Context, seq uint64) error {
	w, err := t.client.GetThread(ctx, t.userID)

	t.mu.Lock()
	if t.closed || seq != t.seq {
		t.mu.Unlock()
		return nil
	}
	t.loading = false
	if err != nil {
		t.err = err
		t.mu.Unlock()
		t.logger.Warn("thread_load_failed", zap.Error(err))
		t.notify()
		return err
	}
	thread := NormalizeThread(*w)
	t.messages = InsertMessages(t.messages, thread.Messages...)
	thread.Messages = nil
	t.summary = &thread
	t.err = nil
	count := len(t.messages)
	t.mu.Unlock()

	t.logger.Debug("thread_loaded", zap.Int("messages", count))
	t.notify()
	t.markReadAsync()
	return nil
}

// ============================================================================
// Send / Read
// ============================================================================

// Send posts the trimmed draft as an admin reply. On success the draft is
// cleared and the thread is marked read; on failure the draft is kept and
// SendErr is set.
func (t *Thread) Send(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.sending {
		t.mu.Unlock()
		return ErrSendInProgress
	}
	content := strings.TrimSpace(t.input)
	if content == "" {
		t.mu.Unlock()
		return ErrEmptyMessage
	}
	t.sending = true
	t.sendErr = nil
	t.mu.Unlock()
	t.notify()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	res, err := t.client.SendMessage(ctx, t.userID, content)

	t.mu.Lock()
	t.sending = false
	if t.closed {
		t.mu.Unlock()
		return err
	}
	if err != nil {
		t.sendErr = err
		t.mu.Unlock()
		t.logger.Warn("send_failed", zap.Error(err))
		t.notify()
		return err
	}
	if s := res.ThreadSummary(); s != nil {
		if merged := MergeSummary(t.summary, NormalizeSummary(*s)); merged != nil {
			t.summary = merged
		}
	}
	if res.Message != nil && res.Message.ID != "" {
		t.messages = InsertMessage(t.messages, NormalizeMessage(*res.Message))
	}
	t.input = ""
	t.mu.Unlock()

	t.logger.Debug("message_sent")
	t.notify()
	t.markReadAsync()
	return nil
}

// MarkRead acknowledges the thread on behalf of the admin. The local unread
// counter is reset only once the backend has accepted it.
func (t *Thread) MarkRead(ctx context.Context) error {
	if err := t.client.MarkRead(ctx, t.userID); err != nil {
		t.logger.Warn("mark_read_failed", zap.Error(err))
		return err
	}

	t.mu.Lock()
	if t.closed || t.summary == nil {
		t.mu.Unlock()
		return nil
	}
	s := *t.summary
	s.UnreadByAdmin = 0
	t.summary = &s
	t.mu.Unlock()
	t.notify()
	return nil
}

func (t *Thread) markReadAsync() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		_ = t.MarkRead(t.ctx)
	}()
}

// ============================================================================
// Realtime
// ============================================================================

func (t *Thread) handleStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
	t.notify()
}

func (t *Thread) handleMessage(ev MessageEvent) {
	if eventUserID(ev) != t.userID {
		return
	}
	msg := NormalizeMessage(*ev.Message)
	p := MessageEventPatch(ev.Summary, msg)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if merged := MergeSummary(t.summary, p); merged != nil {
		t.summary = merged
	}
	t.messages = InsertMessage(t.messages, msg)
	t.mu.Unlock()
	t.notify()

	if msg.Sender == SenderUser {
		t.markReadAsync()
	}
}

func (t *Thread) handleThreadUpdate(w WireThread) {
	if eventUserID(MessageEvent{Summary: &w}) != t.userID {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if merged := MergeSummary(t.summary, NormalizeSummary(w)); merged != nil {
		t.summary = merged
	}
	t.mu.Unlock()
	t.notify()
}

// Close stops the realtime channel and any pending request. It waits for
// background work to finish. It is safe to call more than once.
func (t *Thread) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	if t.channel != nil {
		t.channel.Close()
	}
	t.wg.Wait()
	return nil
}
