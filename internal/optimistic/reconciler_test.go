package optimistic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/PortalChat/internal/model"
)

func newReconciler(t *testing.T) *Reconciler {
	t.Helper()
	now := time.Date(2024, 4, 1, 15, 0, 0, 0, time.UTC)
	r, err := NewReconciler("u1", WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return r
}

func TestBeginBuildsOptimisticMessage(t *testing.T) {
	r := newReconciler(t)
	draft := Draft{
		GroupID: "g1",
		Content: "look at this",
		Files:   []model.PendingFile{{Filename: "cat.jpg", ContentType: "image/jpeg", Payload: []byte("jpegdata")}},
	}

	msg, p := r.Begin(draft)
	assert.True(t, model.IsTemporaryID(msg.ID))
	assert.Equal(t, p.TempID, msg.ID)
	assert.Equal(t, model.StatusSending, msg.Status)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "g1", msg.GroupID)
	assert.Equal(t, "look at this", msg.Content)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, model.AttachmentRef{Filename: "cat.jpg", ContentType: "image/jpeg", Size: 8}, msg.Attachments[0])
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, 1, r.InFlight())
	assert.True(t, r.IsPending(msg.ID))
}

func TestSendsAreIndependent(t *testing.T) {
	r := newReconciler(t)
	a, pa := r.Begin(Draft{GroupID: "g1", Content: "same"})
	b, pb := r.Begin(Draft{GroupID: "g1", Content: "same"})

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, r.InFlight())

	r.Confirm(pa)
	assert.False(t, r.IsPending(a.ID))
	assert.True(t, r.IsPending(b.ID))

	r.Rollback(pb)
	assert.Zero(t, r.InFlight())
}

func TestRollbackReturnsOriginalDraft(t *testing.T) {
	r := newReconciler(t)
	payload := []byte("original")
	draft := Draft{GroupID: "g1", Content: "hello", Files: []model.PendingFile{{Filename: "a.txt", Payload: payload}}}

	_, p := r.Begin(draft)
	payload[0] = 'X' // caller reuses its buffer

	back := r.Rollback(p)
	assert.Equal(t, "hello", back.Content)
	assert.Equal(t, "g1", back.GroupID)
	require.Len(t, back.Files, 1)
	assert.Equal(t, []byte("original"), back.Files[0].Payload)
	assert.Zero(t, r.InFlight())
}

func TestFinishTwiceIsHarmless(t *testing.T) {
	r := newReconciler(t)
	_, p := r.Begin(Draft{GroupID: "g1", Content: "x"})
	r.Confirm(p)
	r.Confirm(p)
	back := r.Rollback(p)
	assert.Equal(t, "x", back.Content)
	assert.Zero(t, r.InFlight())
}
