package mockserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Gopher0727/PortalChat/internal/remote"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func seeded(t *testing.T) *remote.MemoryAPI {
	t.Helper()
	api := remote.NewMemoryAPI(remote.WithSender("me"))
	Seed(api, "me", 12, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	return api
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestEnvelope(t *testing.T) {
	s := New(seeded(t), nil)

	w := serve(s, http.MethodGet, "/api/v1/groups", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := gjson.Parse(w.Body.String())
	assert.Equal(t, int64(0), res.Get("code").Int())
	assert.Equal(t, "success", res.Get("message").String())
	assert.Len(t, res.Get("data").Array(), 3)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = serve(s, http.MethodGet, "/api/v1/groups/1/messages?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, gjson.Get(w.Body.String(), "data").Array(), 5)

	w = serve(s, http.MethodGet, "/api/v1/groups/1/messages?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, http.MethodPost, "/api/v1/groups/404/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(http.StatusNotFound), gjson.Get(w.Body.String(), "code").Int())

	w = serve(s, http.MethodGet, "/api/v1/attachments/att-agenda", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agenda.txt", gjson.Get(w.Body.String(), "data.filename").String())
}

func TestSeed(t *testing.T) {
	api := seeded(t)
	assert.Len(t, mustGroups(t, api), 3)

	msgs, err := api.FetchMessages(t.Context(), "1", 100, time.Time{})
	require.NoError(t, err)
	assert.Len(t, msgs, 13)
	assert.Equal(t, "the agenda", msgs[len(msgs)-1].Content)
}

func mustGroups(t *testing.T, api *remote.MemoryAPI) []string {
	t.Helper()
	groups, err := api.FetchGroups(t.Context())
	require.NoError(t, err)
	var ids []string
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids
}

func TestSendRateLimit(t *testing.T) {
	s := New(seeded(t), nil, WithSendRateLimit(0.001, 1))

	w := serve(s, http.MethodPost, "/api/v1/groups/1/messages", `{"content":"first"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, http.MethodPost, "/api/v1/groups/1/messages", `{"content":"second"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads are not throttled
	w = serve(s, http.MethodGet, "/api/v1/groups", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMaxConcurrent(t *testing.T) {
	api := seeded(t)
	s := New(api, nil, WithMaxConcurrent(1))

	release := api.Block(remote.OpFetchGroups)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := serve(s, http.MethodGet, "/api/v1/groups", "")
		assert.Equal(t, http.StatusOK, w.Code)
	}()
	require.Eventually(t, func() bool { return api.Calls(remote.OpFetchGroups) == 1 }, time.Second, 5*time.Millisecond)

	w := serve(s, http.MethodGet, "/api/v1/groups/1/messages", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	release()
	wg.Wait()
	w = serve(s, http.MethodGet, "/api/v1/groups/1/messages", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
