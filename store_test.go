package supportchat

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func msgAt(id string, minute int) Message {
	return Message{
		ID:        id,
		Sender:    SenderUser,
		Content:   "msg " + id,
		CreatedAt: time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
	}
}

func timeAt(minute int) *time.Time {
	t := time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)
	return &t
}

func requireSortedByLastMessage(t *testing.T, list []ThreadSummary) {
	t.Helper()
	seenNil := false
	for i, th := range list {
		if th.LastMessageAt == nil {
			seenNil = true
			continue
		}
		require.False(t, seenNil, "timestamped thread %q after a nil one", th.UserID)
		if i > 0 && list[i-1].LastMessageAt != nil {
			require.False(t, th.LastMessageAt.After(*list[i-1].LastMessageAt), "threads out of order at %d", i)
		}
	}
}

// ============================================================================
// Message Store
// ============================================================================

func TestInsertMessage(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		s := InsertMessages(nil, msgAt("a", 1), msgAt("b", 2))
		once := InsertMessage(s, msgAt("c", 3))
		twice := InsertMessage(once, msgAt("c", 3))
		require.Equal(t, once, twice)
		require.Len(t, twice, 3)
	})

	t.Run("first copy wins", func(t *testing.T) {
		s := InsertMessage(nil, msgAt("a", 1))
		dup := msgAt("a", 5)
		dup.Content = "edited"
		s = InsertMessage(s, dup)
		require.Len(t, s, 1)
		require.Equal(t, "msg a", s[0].Content)
	})

	t.Run("does not modify input", func(t *testing.T) {
		s := InsertMessages(nil, msgAt("a", 1), msgAt("c", 3))
		before := append([]Message(nil), s...)
		_ = InsertMessage(s, msgAt("b", 2))
		require.Equal(t, before, s)
	})

	t.Run("chronological for any order", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		base := make([]Message, 0, 30)
		for i := 0; i < 30; i++ {
			base = append(base, msgAt(fmt.Sprintf("m%02d", i), rng.Intn(10)))
		}
		for round := 0; round < 20; round++ {
			perm := rng.Perm(len(base))
			var s []Message
			for _, i := range perm {
				s = InsertMessage(s, base[i])
			}
			require.Len(t, s, len(base))
			for i := 1; i < len(s); i++ {
				require.False(t, s[i].CreatedAt.Before(s[i-1].CreatedAt), "round %d: out of order at %d", round, i)
			}
		}
	})
}

// ============================================================================
// Thread Summary Store
// ============================================================================

func TestMergeSummary(t *testing.T) {
	cur := &ThreadSummary{
		ThreadID:      "t1",
		UserID:        "u1",
		UserName:      "Ana",
		LastMessage:   "hi",
		LastMessageAt: timeAt(1),
		UnreadByAdmin: 3,
		Messages:      []Message{msgAt("a", 1)},
	}

	t.Run("absent keeps stored value", func(t *testing.T) {
		got := MergeSummary(cur, SummaryPatch{UserID: "u1", LastMessage: strPtr("new")})
		require.Equal(t, 3, got.UnreadByAdmin)
		require.Equal(t, "Ana", got.UserName)
		require.Equal(t, "new", got.LastMessage)
		require.True(t, got.LastMessageAt.Equal(*timeAt(1)))
		require.Len(t, got.Messages, 1)
	})

	t.Run("present zero overrides", func(t *testing.T) {
		got := MergeSummary(cur, SummaryPatch{UserID: "u1", UnreadByAdmin: intPtr(0)})
		require.Equal(t, 0, got.UnreadByAdmin)
		require.Equal(t, 3, cur.UnreadByAdmin, "stored summary is not modified")
	})

	t.Run("materializes with thread id", func(t *testing.T) {
		got := MergeSummary(nil, SummaryPatch{ThreadID: "t2", LastMessageAt: timeAt(4)})
		require.NotNil(t, got)
		require.Equal(t, "t2", got.UserID)
		require.NotNil(t, got.UpdatedAt)
		require.True(t, got.UpdatedAt.Equal(*timeAt(4)))
		require.NotNil(t, got.Messages)
		require.Empty(t, got.Messages)
	})

	t.Run("no identity yields nil", func(t *testing.T) {
		require.Nil(t, MergeSummary(nil, SummaryPatch{LastMessage: strPtr("x")}))
	})
}

func TestUpsertSummary(t *testing.T) {
	list := SortThreads([]ThreadSummary{
		{ThreadID: "t1", UserID: "u1", LastMessageAt: timeAt(5), UnreadByAdmin: 3},
		{ThreadID: "t2", UserID: "u2", LastMessageAt: timeAt(3)},
		{ThreadID: "t3", UserID: "u3"},
	})

	t.Run("merge keeps unread when absent", func(t *testing.T) {
		got := UpsertSummary(list, SummaryPatch{ThreadID: "t1", UserID: "u1", LastMessage: strPtr("x")})
		require.Len(t, got, 3)
		require.Equal(t, "u1", got[0].UserID)
		require.Equal(t, 3, got[0].UnreadByAdmin)
	})

	t.Run("merge applies zero", func(t *testing.T) {
		got := UpsertSummary(list, SummaryPatch{ThreadID: "t1", UserID: "u1", UnreadByAdmin: intPtr(0)})
		require.Equal(t, 0, got[0].UnreadByAdmin)
	})

	t.Run("moves updated thread to top", func(t *testing.T) {
		got := UpsertSummary(list, SummaryPatch{ThreadID: "t2", UserID: "u2", LastMessageAt: timeAt(9)})
		require.Equal(t, []string{"u2", "u1", "u3"}, userIDs(got))
		requireSortedByLastMessage(t, got)
	})

	t.Run("new user materializes once", func(t *testing.T) {
		got := UpsertSummary(list, SummaryPatch{ThreadID: "t4", UserID: "u4", LastMessageAt: timeAt(4)})
		require.Len(t, got, 4)
		require.Equal(t, []string{"u1", "u4", "u2", "u3"}, userIDs(got))

		again := UpsertSummary(got, SummaryPatch{ThreadID: "t4", UserID: "u4", LastMessage: strPtr("more")})
		require.Len(t, again, 4)
	})

	t.Run("new user without timestamp sorts last", func(t *testing.T) {
		got := UpsertSummary(list, SummaryPatch{ThreadID: "t5", UserID: "u5"})
		require.Len(t, got, 4)
		requireSortedByLastMessage(t, got)
		require.Nil(t, got[3].LastMessageAt)
	})

	t.Run("no identity is a no-op", func(t *testing.T) {
		got := UpsertSummary(list, SummaryPatch{LastMessage: strPtr("orphan")})
		require.Equal(t, list, got)
	})

	t.Run("always sorted", func(t *testing.T) {
		rng := rand.New(rand.NewSource(11))
		var s []ThreadSummary
		for i := 0; i < 200; i++ {
			p := SummaryPatch{ThreadID: fmt.Sprintf("t%d", rng.Intn(15))}
			p.UserID = "u" + p.ThreadID[1:]
			if rng.Intn(4) > 0 {
				p.LastMessageAt = timeAt(rng.Intn(60))
			}
			s = UpsertSummary(s, p)
			requireSortedByLastMessage(t, s)
		}
	})
}

func TestSortThreads(t *testing.T) {
	in := []ThreadSummary{
		{UserID: "a"},
		{UserID: "b", LastMessageAt: timeAt(1)},
		{UserID: "c"},
		{UserID: "d", LastMessageAt: timeAt(2)},
	}
	got := SortThreads(in)
	require.Equal(t, []string{"d", "b", "a", "c"}, userIDs(got))
	require.Equal(t, "a", in[0].UserID, "input is not reordered")
}

func userIDs(list []ThreadSummary) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.UserID)
	}
	return out
}
