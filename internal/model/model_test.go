package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusAdvance(t *testing.T) {
	assert.Equal(t, StatusDelivered, StatusSent.Advance(StatusDelivered))
	assert.Equal(t, StatusRead, StatusRead.Advance(StatusSent))
	assert.Equal(t, StatusSending, StatusSending.Advance(StatusSending))
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusDelivered)
	require.NoError(t, err)
	assert.JSONEq(t, `"delivered"`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"READ"`), &s))
	assert.Equal(t, StatusRead, s)

	require.NoError(t, json.Unmarshal([]byte(`1`), &s))
	assert.Equal(t, StatusSent, s)

	assert.Error(t, json.Unmarshal([]byte(`"lost"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`9`), &s))
}

func TestParseGroupType(t *testing.T) {
	for in, want := range map[string]GroupType{
		"public":       GroupPublic,
		"private":      GroupPrivate,
		"manager_only": GroupManagerOnly,
		"manager-only": GroupManagerOnly,
		"":             GroupPublic,
	} {
		got, err := ParseGroupType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseGroupType("secret")
	assert.Error(t, err)
}

func TestVisibility(t *testing.T) {
	groups := []Group{
		{ID: "1", Type: GroupPublic},
		{ID: "2", Type: GroupPrivate, Members: []string{"alice"}},
		{ID: "3", Type: GroupManagerOnly},
	}

	ids := func(gs []Group) []string {
		var out []string
		for _, g := range gs {
			out = append(out, g.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1"}, ids(FilterVisible(groups, Viewer{UserID: "bob"})))
	assert.Equal(t, []string{"1", "2"}, ids(FilterVisible(groups, Viewer{UserID: "alice"})))
	assert.Equal(t, []string{"1", "2", "3"}, ids(FilterVisible(groups, Viewer{UserID: "carol", Manager: true})))
}

func TestTombstone(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := Message{
		ID:          "m1",
		Content:     "hello",
		Attachments: []AttachmentRef{{ID: "a1", Filename: "x.png"}},
		CreatedAt:   created,
	}
	m.Tombstone()

	assert.True(t, m.Deleted)
	assert.Empty(t, m.Content)
	assert.Empty(t, m.Attachments)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, created, m.CreatedAt)
}

func TestSortMessages(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "c", CreatedAt: base.Add(time.Second)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}
	SortMessages(msgs)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
	assert.Equal(t, "c", msgs[2].ID)
}

func TestCloneDoesNotShare(t *testing.T) {
	m := Message{ID: "m", ReadBy: []string{"a"}, Attachments: []AttachmentRef{{ID: "x"}}}
	c := m.Clone()
	c.ReadBy[0] = "z"
	c.Attachments[0].ID = "y"
	assert.Equal(t, "a", m.ReadBy[0])
	assert.Equal(t, "x", m.Attachments[0].ID)
}

func TestUnionStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, UnionStrings([]string{"c", "a"}, []string{"b", "a"}))
	assert.Nil(t, UnionStrings(nil, nil))
}

func TestPendingFileRef(t *testing.T) {
	ref := PendingFile{Filename: "doc.pdf", ContentType: "application/pdf", Payload: make([]byte, 42)}.Ref()
	assert.Equal(t, AttachmentRef{Filename: "doc.pdf", ContentType: "application/pdf", Size: 42}, ref)
}

func TestMerge(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	held := Message{ID: "m1", Content: "hi", Status: StatusDelivered, ReadBy: []string{"u2"}, CreatedAt: created}

	t.Run("status never regresses", func(t *testing.T) {
		fetched := Message{ID: "m1", Content: "hi", Status: StatusSent, ReadBy: []string{"u3"}, CreatedAt: created}
		got := Merge(held, fetched)
		assert.Equal(t, StatusDelivered, got.Status)
		assert.Equal(t, []string{"u2", "u3"}, got.ReadBy)
	})

	t.Run("status advances", func(t *testing.T) {
		got := Merge(held, Message{ID: "m1", Content: "hi", Status: StatusRead, CreatedAt: created})
		assert.Equal(t, StatusRead, got.Status)
	})

	t.Run("tombstone is sticky", func(t *testing.T) {
		dead := held.Clone()
		dead.Tombstone()
		got := Merge(dead, Message{ID: "m1", Content: "hi", Status: StatusSent, CreatedAt: created})
		assert.True(t, got.Deleted)
		assert.Empty(t, got.Content)
	})

	t.Run("fetched tombstone clears payload", func(t *testing.T) {
		got := Merge(held, Message{ID: "m1", Content: "hi", Deleted: true, Attachments: []AttachmentRef{{ID: "a1"}}, CreatedAt: created})
		assert.True(t, got.Deleted)
		assert.Empty(t, got.Content)
		assert.Empty(t, got.Attachments)
		assert.True(t, got.CreatedAt.Equal(created))
	})
}

func TestIsTemporaryID(t *testing.T) {
	assert.True(t, IsTemporaryID("local-123"))
	assert.False(t, IsTemporaryID("123"))
	assert.False(t, IsTemporaryID("xlocal-1"))
}
