package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/PortalChat/internal/model"
)

func TestMemoryAPIFailureAndCalls(t *testing.T) {
	api := NewMemoryAPI()
	ctx := context.Background()

	api.SetFailure(OpFetchGroups, errors.New("down"))
	_, err := api.FetchGroups(ctx)
	assert.ErrorIs(t, err, ErrNetwork)

	api.SetFailure(OpFetchGroups, nil)
	_, err = api.FetchGroups(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, api.Calls(OpFetchGroups))
}

func TestMemoryAPIBlock(t *testing.T) {
	api := NewMemoryAPI()
	release := api.Block(OpFetchMessages)

	done := make(chan error, 1)
	go func() {
		_, err := api.FetchMessages(context.Background(), "g1", 10, time.Time{})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("blocked call returned early")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)

	ctx, cancel := context.WithCancel(context.Background())
	release = api.Block(OpFetchMessages)
	defer release()
	cancel()
	_, err := api.FetchMessages(ctx, "g1", 10, time.Time{})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestMemoryAPIStatusAndTombstone(t *testing.T) {
	api := NewMemoryAPI()
	ctx := context.Background()
	m := api.AddMessage(model.Message{GroupID: "g1", Content: "hi"})
	assert.Equal(t, model.StatusSent, m.Status)

	require.True(t, api.MarkRead(m.ID, "u2"))
	require.True(t, api.RemoteDelete(m.ID))

	msgs, err := api.FetchMessages(ctx, "g1", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusRead, msgs[0].Status)
	assert.Equal(t, []string{"u2"}, msgs[0].ReadBy)
	assert.True(t, msgs[0].Deleted)
	assert.Empty(t, msgs[0].Content)

	_, err = api.SendMessage(ctx, "missing", "x", nil)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
}
