package remote_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/PortalChat/config"
	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/internal/remote"
	"github.com/Gopher0727/PortalChat/internal/remote/mockserver"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*remote.HTTPClient, *remote.MemoryAPI) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	api := remote.NewMemoryAPI(remote.WithMemoryClock(func() time.Time { return now }), remote.WithSender("u1"))
	srv := httptest.NewServer(mockserver.New(api, nil).Handler())
	t.Cleanup(srv.Close)

	client := remote.NewHTTPClient(
		&config.RemoteConfig{BaseURL: srv.URL + "/api/v1/", Timeout: 5 * time.Second},
		remote.WithHTTPClient(srv.Client()),
	)
	return client, api
}

func TestHTTPClientGroups(t *testing.T) {
	client, api := setup(t)
	api.AddGroup(model.Group{ID: "g1", Name: "General", Type: model.GroupPublic, Members: []string{"u1", "u2"}})
	api.AddGroup(model.Group{ID: "g2", Name: "Staff", Type: model.GroupManagerOnly})

	groups, err := client.FetchGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "General", groups[0].Name)
	assert.Equal(t, []string{"u1", "u2"}, groups[0].Members)
	assert.Equal(t, 2, groups[0].MemberCount)
	assert.Equal(t, model.GroupManagerOnly, groups[1].Type)
}

func TestHTTPClientMessagesPaging(t *testing.T) {
	client, api := setup(t)
	api.AddGroup(model.Group{ID: "g1", Name: "General"})
	for i := 1; i <= 15; i++ {
		api.AddMessage(model.Message{GroupID: "g1", SenderID: "u2", Content: "m", CreatedAt: now.Add(time.Duration(i) * time.Second)})
	}
	ctx := context.Background()

	latest, err := client.FetchMessages(ctx, "g1", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, latest, 10)
	assert.True(t, latest[0].CreatedAt.Equal(now.Add(6*time.Second)))
	assert.Equal(t, "g1", latest[0].GroupID)
	assert.Equal(t, model.StatusSent, latest[0].Status)

	older, err := client.FetchMessages(ctx, "g1", 10, latest[0].CreatedAt)
	require.NoError(t, err)
	assert.Len(t, older, 5)

	none, err := client.FetchMessages(ctx, "g1", 10, older[0].CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHTTPClientSendAndDelete(t *testing.T) {
	client, api := setup(t)
	api.AddGroup(model.Group{ID: "g1", Name: "General"})
	ctx := context.Background()

	msg, err := client.SendMessage(ctx, "g1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "u1", msg.SenderID)
	assert.False(t, model.IsTemporaryID(msg.ID))

	require.NoError(t, client.DeleteMessage(ctx, msg.ID))
	msgs, err := client.FetchMessages(ctx, "g1", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
	assert.Empty(t, msgs[0].Content)

	err = client.DeleteMessage(ctx, "nope")
	var se *remote.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.Code)
	assert.ErrorIs(t, err, remote.ErrNetwork)
}

func TestHTTPClientSendWithFilesAndFetchAttachment(t *testing.T) {
	client, api := setup(t)
	api.AddGroup(model.Group{ID: "g1", Name: "General"})
	ctx := context.Background()

	msg, err := client.SendMessageWithFiles(ctx, "g1", "see attached", []model.PendingFile{
		{Filename: "notes.txt", ContentType: "text/plain", Payload: []byte("line one\nline two")},
	})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	ref := msg.Attachments[0]
	assert.Equal(t, "notes.txt", ref.Filename)
	assert.Equal(t, int64(17), ref.Size)

	att, err := client.FetchAttachment(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("line one\nline two"), att.Payload)
	assert.Equal(t, "text/plain", att.ContentType)
}

func TestHTTPClientInjectedFailure(t *testing.T) {
	client, api := setup(t)
	api.SetFailure(remote.OpFetchGroups, errors.New("maintenance"))

	_, err := client.FetchGroups(context.Background())
	var se *remote.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.Code)
	assert.ErrorIs(t, err, remote.ErrNetwork)
}

func TestHTTPClientUnreachable(t *testing.T) {
	client := remote.NewHTTPClient(&config.RemoteConfig{BaseURL: "http://127.0.0.1:1/api/v1", Timeout: time.Second})
	_, err := client.FetchGroups(context.Background())
	assert.ErrorIs(t, err, remote.ErrNetwork)
}
