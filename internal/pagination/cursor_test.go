package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Gopher0727/PortalChat/internal/model"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// history serves a fixed conversation the way the remote does.
type history struct {
	mu    sync.Mutex
	msgs  []model.Message
	calls int
	err   error
}

func newHistory(groupID string, n int) *history {
	h := &history{}
	for i := 1; i <= n; i++ {
		h.msgs = append(h.msgs, model.Message{
			ID:        fmt.Sprintf("m%02d", i),
			GroupID:   groupID,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Status:    model.StatusSent,
		})
	}
	return h
}

func (h *history) FetchMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]model.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	var window []model.Message
	for _, m := range h.msgs {
		if before.IsZero() || m.CreatedAt.Before(before) {
			window = append(window, m)
		}
	}
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return model.CloneMessages(window), nil
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadOlderTwentyFiveMessages(t *testing.T) {
	ctx := context.Background()
	h := newHistory("g1", 25)
	c := NewCursor(h, 10, nil)

	latest, err := h.FetchMessages(ctx, "g1", 10, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "m16", latest[0].ID)

	page, err := c.LoadOlder(ctx, "g1", &latest[0])
	require.NoError(t, err)
	assert.Len(t, page.Messages, 10)
	assert.True(t, page.HasMore)
	assert.Equal(t, "m06", page.Messages[0].ID)
	assert.Equal(t, "m15", page.Messages[9].ID)

	loaded, n := MergeOlder(latest, page.Messages)
	assert.Equal(t, 10, n)

	page, err = c.LoadOlder(ctx, "g1", &loaded[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"m01", "m02", "m03", "m04", "m05"}, ids(page.Messages))
	assert.False(t, page.HasMore)
	assert.False(t, c.HasMore("g1"))

	loaded, _ = MergeOlder(loaded, page.Messages)
	assert.Len(t, loaded, 25)

	calls := h.calls
	page, err = c.LoadOlder(ctx, "g1", &loaded[0])
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
	assert.Equal(t, calls, h.calls, "exhausted cursor must not query the remote")
}

func TestLoadOlderExactMultipleEndsOnEmptyPage(t *testing.T) {
	ctx := context.Background()
	h := newHistory("g1", 20)
	c := NewCursor(h, 10, nil)

	latest, _ := h.FetchMessages(ctx, "g1", 10, time.Time{})
	page, err := c.LoadOlder(ctx, "g1", &latest[0])
	require.NoError(t, err)
	assert.True(t, page.HasMore)

	page, err = c.LoadOlder(ctx, "g1", &page.Messages[0])
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
}

func TestLoadOlderWithoutUsableCursor(t *testing.T) {
	h := newHistory("g1", 5)
	c := NewCursor(h, 10, nil)

	t.Run("nothing loaded yet", func(t *testing.T) {
		page, err := c.LoadOlder(context.Background(), "g1", nil)
		require.NoError(t, err)
		assert.Empty(t, page.Messages)
		assert.True(t, page.HasMore)
		assert.True(t, c.HasMore("g1"), "an empty view is not the start of the conversation")
		assert.Zero(t, h.calls)
	})

	t.Run("no timestamp", func(t *testing.T) {
		page, err := c.LoadOlder(context.Background(), "g1", &model.Message{ID: "m1"})
		require.NoError(t, err)
		assert.False(t, page.HasMore)
		assert.False(t, c.HasMore("g1"))
		assert.Zero(t, h.calls)
	})
}

func TestLoadOlderErrorKeepsHasMore(t *testing.T) {
	h := newHistory("g1", 30)
	h.err = errors.New("offline")
	c := NewCursor(h, 10, nil)

	oldest := model.Message{ID: "m21", CreatedAt: base.Add(21 * time.Second)}
	page, err := c.LoadOlder(context.Background(), "g1", &oldest)
	assert.Error(t, err)
	assert.True(t, page.HasMore)
	assert.True(t, c.HasMore("g1"))
}

func TestGroupsAreIndependent(t *testing.T) {
	h := newHistory("g1", 3)
	c := NewCursor(h, 10, nil)
	oldest := model.Message{ID: "m03", CreatedAt: base.Add(3 * time.Second)}

	_, err := c.LoadOlder(context.Background(), "g1", &oldest)
	require.NoError(t, err)
	assert.False(t, c.HasMore("g1"))
	assert.True(t, c.HasMore("g2"))
}

func TestMergeOlderDeduplicates(t *testing.T) {
	loaded := []model.Message{
		{ID: "m3", CreatedAt: base.Add(3 * time.Second)},
		{ID: "m4", CreatedAt: base.Add(4 * time.Second)},
	}
	older := []model.Message{
		{ID: "m2", CreatedAt: base.Add(2 * time.Second)},
		{ID: "m3", CreatedAt: base.Add(3 * time.Second)},
		{ID: "m1", CreatedAt: base.Add(1 * time.Second)},
		{ID: "m2", CreatedAt: base.Add(2 * time.Second)},
	}
	merged, n := MergeOlder(loaded, older)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(merged))
}

func TestScrollAnchorRestore(t *testing.T) {
	a := ScrollAnchor{Offset: 40, Height: 1000}
	assert.Equal(t, 640, a.Restore(1600))
	assert.Equal(t, 40, a.Restore(1000))
}

// TestProperty_PaginationMonotonicity checks that paging any finite
// conversation never reintroduces a loaded id, terminates, and ends with
// the whole conversation loaded.
func TestProperty_PaginationMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 60).Draw(t, "total")
		pageSize := rapid.IntRange(1, 12).Draw(t, "pageSize")
		ctx := context.Background()
		h := newHistory("g1", total)
		c := NewCursor(h, pageSize, nil)

		loaded, err := h.FetchMessages(ctx, "g1", pageSize, time.Time{})
		if err != nil {
			t.Fatal(err)
		}

		maxCalls := total/pageSize + 2
		for i := 0; c.HasMore("g1"); i++ {
			if i > maxCalls {
				t.Fatalf("pagination did not terminate after %d calls", i)
			}
			page, err := c.LoadOlder(ctx, "g1", &loaded[0])
			if err != nil {
				t.Fatal(err)
			}
			seen := make(map[string]bool, len(loaded))
			for _, m := range loaded {
				seen[m.ID] = true
			}
			for _, m := range page.Messages {
				if seen[m.ID] {
					t.Fatalf("page reintroduced %s", m.ID)
				}
			}
			loaded, _ = MergeOlder(loaded, page.Messages)
		}
		if len(loaded) != total {
			t.Fatalf("loaded %d of %d messages", len(loaded), total)
		}
	})
}
