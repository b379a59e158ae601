package supportchat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInboxInitialFetch(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setThreads(
		WireThread{UserID: "u1", UserName: strPtr("Ana"), LastMessageAt: TimeString("2024-01-01T10:00:00Z")},
		WireThread{UserID: "u2", UserName: strPtr("Bob"), LastMessageAt: TimeString("2024-01-02T10:00:00Z")},
		WireThread{UserID: "u3", UserName: strPtr("Cy")},
	)

	var changes atomic.Int32
	in := OpenInbox(context.Background(), fb.client(), InboxOptions{
		DisableRealtime: true,
		OnChange:        func(InboxState) { changes.Add(1) },
	})
	defer in.Close()

	require.Eventually(t, func() bool {
		s := in.State()
		return !s.Loading && len(s.Threads) == 3
	}, waitFor, tick)

	s := in.State()
	require.NoError(t, s.Err)
	require.Equal(t, []string{"u2", "u1", "u3"}, userIDs(s.Threads))
	require.Equal(t, StatusDisconnected, s.Status)
	require.GreaterOrEqual(t, changes.Load(), int32(2))
}

func TestInboxFetchError(t *testing.T) {
	fb := newFakeBackend(t)
	c := NewClient(StaticSession("wrong"), WithBaseURL(fb.srv.URL+"/api"), WithRateLimit(0, 0))

	in := OpenInbox(context.Background(), c, InboxOptions{DisableRealtime: true})
	defer in.Close()

	require.Eventually(t, func() bool {
		s := in.State()
		return !s.Loading && s.Err != nil
	}, waitFor, tick)
	require.True(t, errors.Is(in.State().Err, ErrUnauthorized))
	require.Empty(t, in.State().Threads)
}

func TestInboxRefresh(t *testing.T) {
	fb := newFakeBackend(t)
	in := OpenInbox(context.Background(), fb.client(), InboxOptions{DisableRealtime: true})
	defer in.Close()

	require.Eventually(t, func() bool { return !in.State().Loading }, waitFor, tick)
	require.Empty(t, in.State().Threads)

	fb.setThreads(WireThread{UserID: "u1"})
	require.NoError(t, in.Refresh(context.Background()))
	require.Len(t, in.State().Threads, 1)
	require.Equal(t, "u1", in.State().Threads[0].ThreadID)
}

func TestInboxSearchDebounce(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setThreads(
		WireThread{UserID: "u1", UserName: strPtr("Ana")},
		WireThread{UserID: "u2", UserName: strPtr("Bob")},
	)
	in := OpenInbox(context.Background(), fb.client(), InboxOptions{
		DisableRealtime: true,
		Debounce:        50 * time.Millisecond,
	})
	defer in.Close()
	require.Eventually(t, func() bool { return len(in.State().Threads) == 2 }, waitFor, tick)

	in.SetSearch("a")
	in.SetSearch("an")
	in.SetSearch("  ana ")
	require.Equal(t, "  ana ", in.State().Search)

	require.Eventually(t, func() bool {
		s := in.State()
		return !s.Loading && len(s.Threads) == 1
	}, waitFor, tick)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, []string{"", "ana"}, fb.queries())
	require.Equal(t, "u1", in.State().Threads[0].UserID)
}

func TestInboxStaleFetchIgnored(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setThreads(
		WireThread{UserID: "u1", UserName: strPtr("Ana")},
		WireThread{UserID: "u2", UserName: strPtr("Bob")},
	)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	fb.mu.Lock()
	fb.listHook = func(search string) {
		if search == "ana" {
			started <- struct{}{}
			<-release
		}
	}
	fb.mu.Unlock()

	in := OpenInbox(context.Background(), fb.client(), InboxOptions{
		DisableRealtime: true,
		Debounce:        10 * time.Millisecond,
	})
	defer in.Close()
	require.Eventually(t, func() bool { return len(in.State().Threads) == 2 }, waitFor, tick)

	in.SetSearch("ana")
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("slow search never reached the backend")
	}

	in.SetSearch("bob")
	require.Eventually(t, func() bool {
		s := in.State()
		return !s.Loading && len(s.Threads) == 1 && s.Threads[0].UserID == "u2"
	}, waitFor, tick)

	close(release)
	time.Sleep(100 * time.Millisecond)
	s := in.State()
	require.Len(t, s.Threads, 1)
	require.Equal(t, "u2", s.Threads[0].UserID)
}

func TestInboxRealtime(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setThreads(WireThread{
		ThreadID:      "t2",
		UserID:        "u2",
		UnreadByAdmin: intPtr(3),
		LastMessageAt: TimeString("2024-01-01T00:00:00Z"),
	})
	c := fb.client()
	in := OpenInbox(context.Background(), c, InboxOptions{Channel: fb.channelConfig(c)})
	defer in.Close()

	fb.waitJoin(t)
	require.Eventually(t, func() bool {
		s := in.State()
		return s.Status == StatusConnected && len(s.Threads) == 1
	}, waitFor, tick)

	t.Run("first contact", func(t *testing.T) {
		fb.emit(t, EventNewMessage, map[string]any{
			"summary": map[string]any{"userId": "u1", "lastMessage": "hello"},
			"message": map[string]any{"id": "m1", "sender": "user", "content": "hello", "createdAt": "2024-01-02T00:00:00Z"},
		})
		require.Eventually(t, func() bool { return len(in.State().Threads) == 2 }, waitFor, tick)

		top := in.State().Threads[0]
		require.Equal(t, "u1", top.UserID)
		require.Equal(t, "u1", top.ThreadID)
		require.Equal(t, "hello", top.LastMessage)
		require.Equal(t, SenderUser, top.LastSender)
	})

	t.Run("thread update keeps absent fields", func(t *testing.T) {
		fb.emit(t, EventThreadUpdate, map[string]any{"userId": "u2", "userName": "Bob"})
		require.Eventually(t, func() bool {
			for _, th := range in.State().Threads {
				if th.UserID == "u2" && th.UserName == "Bob" {
					return th.UnreadByAdmin == 3
				}
			}
			return false
		}, waitFor, tick)
	})

	t.Run("thread update with zero unread", func(t *testing.T) {
		fb.emit(t, EventThreadUpdate, map[string]any{"userId": "u2", "unreadByAdmin": 0})
		require.Eventually(t, func() bool {
			for _, th := range in.State().Threads {
				if th.UserID == "u2" {
					return th.UnreadByAdmin == 0
				}
			}
			return false
		}, waitFor, tick)
	})

	t.Run("event without identity is ignored", func(t *testing.T) {
		fb.emit(t, EventNewMessage, map[string]any{
			"message": map[string]any{"id": "m9", "sender": "user", "content": "orphan"},
		})
		fb.emit(t, EventThreadUpdate, map[string]any{"userId": "u2", "lastMessage": "marker"})
		require.Eventually(t, func() bool {
			for _, th := range in.State().Threads {
				if th.UserID == "u2" {
					return th.LastMessage == "marker"
				}
			}
			return false
		}, waitFor, tick)
		require.Len(t, in.State().Threads, 2)
	})
}

func TestInboxClose(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.client()
	in := OpenInbox(context.Background(), c, InboxOptions{Channel: fb.channelConfig(c)})
	fb.waitJoin(t)

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	require.Equal(t, StatusDisconnected, in.State().Status)
	require.ErrorIs(t, in.Refresh(context.Background()), ErrClosed)

	lists, _, _ := fb.counts()
	in.SetSearch("late")
	time.Sleep(DefaultSearchDebounce + 100*time.Millisecond)
	after, _, _ := fb.counts()
	require.Equal(t, lists, after)
}
