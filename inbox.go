package supportchat

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSearchDebounce is how long SetSearch waits for typing to settle.
const DefaultSearchDebounce = 400 * time.Millisecond

// InboxOptions configures an Inbox.
type InboxOptions struct {
	// Search is the initial search text.
	Search string
	Limit  int
	Offset int
	// Debounce defaults to DefaultSearchDebounce.
	Debounce time.Duration

	// Channel overrides the client's realtime configuration.
	Channel *ChannelConfig
	// DisableRealtime keeps the inbox REST-only.
	DisableRealtime bool

	// OnChange is called after every state change with a fresh snapshot.
	// Calls are serialized. It must not call Close.
	OnChange func(InboxState)
}

// InboxState is a snapshot of the inbox view.
type InboxState struct {
	Threads []ThreadSummary
	Loading bool
	Err     error
	Status  Status
	Search  string
}

// Inbox keeps the list of support threads in sync: an initial fetch,
// debounced server-side search, and realtime summary updates.
type Inbox struct {
	client   *Client
	opts     InboxOptions
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	channel  *Channel
	wg       sync.WaitGroup
	notifyMu sync.Mutex

	mu      sync.Mutex
	threads []ThreadSummary
	loading bool
	err     error
	status  Status
	search  string
	query   string
	seq     uint64
	timer   *time.Timer
	closed  bool
}

// OpenInbox starts the inbox: it issues the initial fetch and opens the
// realtime channel. Both run in the background.
func OpenInbox(ctx context.Context, client *Client, opts InboxOptions) *Inbox {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultSearchDebounce
	}
	ctx, cancel := context.WithCancel(ctx)
	in := &Inbox{
		client:  client,
		opts:    opts,
		logger:  client.Logger().With(zap.String("view", "inbox")),
		ctx:     ctx,
		cancel:  cancel,
		threads: []ThreadSummary{},
		status:  StatusDisconnected,
		search:  opts.Search,
		query:   strings.TrimSpace(opts.Search),
	}

	if !opts.DisableRealtime {
		cfg := client.ChannelConfig()
		if opts.Channel != nil {
			cfg = *opts.Channel
		}
		in.channel = NewChannel(cfg, ChannelHandlers{
			OnStatus:       in.handleStatus,
			OnMessage:      in.handleMessage,
			OnThreadUpdate: in.handleThreadUpdate,
		})
		if err := in.channel.Open(ctx); err != nil {
			in.logger.Warn("realtime_open_failed", zap.Error(err))
		}
	}

	in.startFetch()
	return in
}

// State returns a snapshot of the current view state.
func (in *Inbox) State() InboxState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshotLocked()
}

func (in *Inbox) snapshotLocked() InboxState {
	threads := make([]ThreadSummary, len(in.threads))
	copy(threads, in.threads)
	return InboxState{
		Threads: threads,
		Loading: in.loading,
		Err:     in.err,
		Status:  in.status,
		Search:  in.search,
	}
}

func (in *Inbox) notify() {
	if in.opts.OnChange == nil {
		return
	}
	in.notifyMu.Lock()
	defer in.notifyMu.Unlock()
	in.opts.OnChange(in.State())
}

// SetSearch updates the search text. The list is refetched with the trimmed
// text once typing has paused for the debounce interval.
func (in *Inbox) SetSearch(text string) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.search = text
	if in.timer != nil {
		in.timer.Stop()
	}
	query := strings.TrimSpace(text)
	in.timer = time.AfterFunc(in.opts.Debounce, func() {
		in.mu.Lock()
		if in.closed || query == in.query {
			in.mu.Unlock()
			return
		}
		in.query = query
		in.mu.Unlock()
		in.startFetch()
	})
	in.mu.Unlock()
	in.notify()
}

// Refresh refetches the list with the current search and waits for it.
// A result superseded by a newer fetch is discarded and nil is returned.
func (in *Inbox) Refresh(ctx context.Context) error {
	seq, query, ok := in.beginFetch()
	if !ok {
		return ErrClosed
	}
	in.notify()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(in.ctx, cancel)
	defer stop()
	return in.fetch(ctx, seq, query)
}

func (in *Inbox) beginFetch() (uint64, string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return 0, "", false
	}
	in.seq++
	in.loading = true
	return in.seq, in.query, true
}

func (in *Inbox) startFetch() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.seq++
	seq, query := in.seq, in.query
	in.loading = true
	in.wg.Add(1)
	in.mu.Unlock()
	in.notify()

	go func() {
		defer in.wg.Done()
		_ = in.fetch(in.ctx, seq, query)
	}()
}

func (in *Inbox) fetch(ctx context.Context, seq uint64, query string) error {
	list, err := in.client.ListThreads(ctx, &ListThreadsOptions{
		Search: query,
		Limit:  in.opts.Limit,
		Offset: in.opts.Offset,
	})

	in.mu.Lock()
	if in.closed || seq != in.seq {
		in.mu.Unlock()
		in.logger.Debug("threads_fetch_superseded", zap.Uint64("seq", seq))
		return nil
	}
	in.loading = false
	if err != nil {
		in.err = err
		in.mu.Unlock()
		in.logger.Warn("threads_fetch_failed", zap.String("search", query), zap.Error(err))
		in.notify()
		return err
	}
	threads := make([]ThreadSummary, 0, len(list))
	for _, w := range list {
		threads = append(threads, NormalizeThread(w))
	}
	in.threads = SortThreads(threads)
	in.err = nil
	in.mu.Unlock()

	in.logger.Debug("threads_fetched", zap.String("search", query), zap.Int("count", len(threads)))
	in.notify()
	return nil
}

func (in *Inbox) handleStatus(s Status) {
	in.mu.Lock()
	in.status = s
	in.mu.Unlock()
	in.notify()
}

func (in *Inbox) handleMessage(ev MessageEvent) {
	msg := NormalizeMessage(*ev.Message)
	in.apply(MessageEventPatch(ev.Summary, msg))
}

func (in *Inbox) handleThreadUpdate(w WireThread) {
	in.apply(NormalizeSummary(w))
}

func (in *Inbox) apply(p SummaryPatch) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.threads = UpsertSummary(in.threads, p)
	in.mu.Unlock()
	in.notify()
}

// Close stops the realtime channel and any pending fetch. It waits for
// background work to finish. It is safe to call more than once.
func (in *Inbox) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	if in.timer != nil {
		in.timer.Stop()
	}
	in.mu.Unlock()

	in.cancel()
	if in.channel != nil {
		in.channel.Close()
	}
	in.wg.Wait()
	return nil
}
