package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatrelay/internal/model"
	"github.com/johndosdos/chatrelay/internal/testutil"
)

func seed(t *testing.T, s *Store, room string, contents ...string) []model.Message {
	t.Helper()
	out := make([]model.Message, 0, len(contents))
	for _, c := range contents {
		msg, err := s.Create(c, "u-"+room, "user-"+room, room)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func ids(msgs []model.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestCreate(t *testing.T) {
	s := New()

	t.Run("assigns_increasing_ids", func(t *testing.T) {
		a, err := s.Create("first", "u1", "alice", "general")
		require.NoError(t, err)
		b, err := s.Create("second", "u1", "alice", "general")
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.ID)
		assert.Equal(t, int64(2), b.ID)
		assert.False(t, b.Timestamp.Before(a.Timestamp))
	})

	t.Run("sanitizes_content", func(t *testing.T) {
		msg, err := s.Create("hello<script>alert(1)</script>world", "u1", "alice", "general")
		require.NoError(t, err)
		assert.Equal(t, "helloworld", msg.Content)
	})

	t.Run("rejects_invalid_without_consuming_id", func(t *testing.T) {
		before := s.Len()
		_, err := s.Create("   ", "u1", "alice", "general")
		require.ErrorIs(t, err, model.ErrValidation)
		assert.Equal(t, before, s.Len())

		msg, err := s.Create("next", "u1", "alice", "general")
		require.NoError(t, err)
		assert.Equal(t, int64(before+1), msg.ID)
	})

	t.Run("clock_going_backwards", func(t *testing.T) {
		base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		calls := []time.Time{base, base.Add(-time.Minute)}
		i := 0
		s := New(WithClock(func() time.Time {
			at := calls[i]
			i++
			return at
		}))

		a, err := s.Create("a", "u1", "alice", "general")
		require.NoError(t, err)
		b, err := s.Create("b", "u1", "alice", "general")
		require.NoError(t, err)
		assert.Equal(t, a.Timestamp, b.Timestamp)
	})
}

func TestGetByRoom(t *testing.T) {
	s := New(WithClock(testutil.StepClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Second)))
	general := seed(t, s, "general", "m1", "m2", "m3", "m4", "m5")
	seed(t, s, "other", "x1", "x2")

	tests := []struct {
		name   string
		room   string
		limit  int
		offset int
		want   []int64
	}{
		{"latest_two", "general", 2, 0, ids(general[3:])},
		{"all", "general", 50, 0, ids(general)},
		{"offset_skips_most_recent", "general", 2, 1, ids(general[2:4])},
		{"offset_near_start", "general", 10, 3, ids(general[:2])},
		{"offset_past_end", "general", 10, 5, []int64{}},
		{"negative_offset", "general", 1, -3, ids(general[4:])},
		{"zero_limit", "general", 0, 0, []int64{}},
		{"unknown_room", "nope", 10, 0, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.GetByRoom(tt.room, tt.limit, tt.offset)
			assert.Equal(t, tt.want, ids(got))
			assert.LessOrEqual(t, len(got), max(tt.limit, 0))
			for i := 1; i < len(got); i++ {
				prev, cur := got[i-1], got[i]
				assert.False(t, cur.Timestamp.Before(prev.Timestamp))
				if cur.Timestamp.Equal(prev.Timestamp) {
					assert.Less(t, prev.ID, cur.ID)
				}
			}
		})
	}

	t.Run("equal_timestamps_ordered_by_id", func(t *testing.T) {
		fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		s := New(WithClock(func() time.Time { return fixed }))
		msgs := seed(t, s, "general", "a", "b", "c")
		assert.Equal(t, ids(msgs), ids(s.GetByRoom("general", 10, 0)))
	})
}

func TestFindAndDelete(t *testing.T) {
	s := New()
	msg, err := s.Create("delete me", "author", "alice", "general")
	require.NoError(t, err)

	t.Run("find_existing", func(t *testing.T) {
		got, ok := s.FindByID(msg.ID)
		require.True(t, ok)
		assert.Equal(t, msg, got)
	})

	t.Run("find_missing", func(t *testing.T) {
		_, ok := s.FindByID(9999)
		assert.False(t, ok)
	})

	t.Run("non_author_cannot_delete", func(t *testing.T) {
		_, err := s.Delete(msg.ID, "someone-else")
		require.ErrorIs(t, err, ErrNotFound)
		_, ok := s.FindByID(msg.ID)
		assert.True(t, ok)
		assert.Len(t, s.GetByRoom("general", 10, 0), 1)
	})

	t.Run("unknown_id_looks_the_same", func(t *testing.T) {
		_, err := s.Delete(4242, "author")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("author_deletes", func(t *testing.T) {
		removed, err := s.Delete(msg.ID, "author")
		require.NoError(t, err)
		assert.Equal(t, msg, removed)

		_, ok := s.FindByID(msg.ID)
		assert.False(t, ok)
		assert.Empty(t, s.GetByRoom("general", 10, 0))
		assert.Empty(t, s.GetByUser("author", 10))
	})

	t.Run("second_delete_fails", func(t *testing.T) {
		_, err := s.Delete(msg.ID, "author")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetByUser(t *testing.T) {
	s := New()
	var mine []int64
	for i := range 5 {
		m, err := s.Create(fmt.Sprintf("mine %d", i), "me", "me", fmt.Sprintf("room-%d", i%2))
		require.NoError(t, err)
		mine = append(mine, m.ID)
		_, err = s.Create("theirs", "them", "them", "room-0")
		require.NoError(t, err)
	}

	got := s.GetByUser("me", 3)
	assert.Equal(t, []int64{mine[4], mine[3], mine[2]}, ids(got))
	assert.Empty(t, s.GetByUser("nobody", 3))
	assert.Empty(t, s.GetByUser("me", 0))
}

func TestSearch(t *testing.T) {
	s := New()
	msgs := seed(t, s, "general", "Hello world", "nothing here", "HELLO again", "say hello")
	seed(t, s, "other", "hello from elsewhere")

	got, err := s.Search("hello", "general", 20)
	require.NoError(t, err)
	assert.Equal(t, []int64{msgs[3].ID, msgs[2].ID, msgs[0].ID}, ids(got))

	got, err = s.Search("HeLLo", "general", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{msgs[3].ID, msgs[2].ID}, ids(got))

	got, err = s.Search("absent", "general", 20)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Search("   ", "general", 20)
	require.ErrorIs(t, err, ErrEmptyQuery)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestStats(t *testing.T) {
	s := New(WithClock(testutil.StepClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Minute)))

	empty := s.Stats("general")
	assert.Zero(t, empty.TotalMessages)
	assert.Zero(t, empty.ActiveUsers)
	assert.Empty(t, empty.UserMessageCounts)
	assert.Nil(t, empty.LastMessage)

	_, err := s.Create("a", "u1", "alice", "general")
	require.NoError(t, err)
	_, err = s.Create("b", "u2", "bob", "general")
	require.NoError(t, err)
	last, err := s.Create("c", "u1", "alice", "general")
	require.NoError(t, err)
	_, err = s.Create("d", "u3", "carol", "other")
	require.NoError(t, err)

	stats := s.Stats("general")
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 2, stats.ActiveUsers)
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, stats.UserMessageCounts)
	require.NotNil(t, stats.LastMessage)
	assert.Equal(t, last.Timestamp, *stats.LastMessage)
}

func TestHistoryLimit(t *testing.T) {
	s := New(WithHistoryLimit(3))
	msgs := seed(t, s, "general", "1", "2", "3", "4", "5")
	seed(t, s, "other", "a")

	assert.Equal(t, ids(msgs[2:]), ids(s.GetByRoom("general", 10, 0)))
	_, ok := s.FindByID(msgs[0].ID)
	assert.False(t, ok)
	assert.Len(t, s.GetByUser("u-general", 10), 3)
	assert.Equal(t, 4, s.Len())
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_, err := s.Create(fmt.Sprintf("w%d-%d", w, i), fmt.Sprintf("u%d", w), "user", "general")
				assert.NoError(t, err)
				s.GetByRoom("general", 10, 0)
				_, _ = s.Search("w", "general", 5)
				s.Stats("general")
			}
		}()
	}
	wg.Wait()

	all := s.GetByRoom("general", 1000, 0)
	require.Len(t, all, 400)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}
