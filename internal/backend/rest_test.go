package backend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ramory-l/matchsocket/internal/devtoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, b *Backend, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	b := New(nil)
	defer b.Close()

	rec := serve(t, b, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":0,"peak":0}`, rec.Body.String())
}

func TestPostAndListMessages(t *testing.T) {
	b := New(nil)
	defer b.Close()

	header := http.Header{"X-User-Id": {"alice"}}
	rec := serve(t, b, http.MethodPost, "/api/chat/m1/messages", `{"content":"hi"}`, header)
	require.Equal(t, http.StatusCreated, rec.Code)

	var posted Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	assert.NotEmpty(t, posted.ID)
	assert.Equal(t, "m1", posted.MatchID)
	assert.Equal(t, "alice", posted.SenderID)
	assert.Equal(t, "text", posted.MessageType)

	rec = serve(t, b, http.MethodGet, "/api/chat/m1/messages", "", header)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Messages []Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Messages, 1)
	assert.Equal(t, posted.ID, list.Messages[0].ID)

	rec = serve(t, b, http.MethodGet, "/api/chat/other/messages", "", header)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestPostMessageValidation(t *testing.T) {
	b := New(nil)
	defer b.Close()

	rec := serve(t, b, http.MethodPost, "/api/chat/m1/messages", `{"messageType":"text"}`, http.Header{"X-User-Id": {"alice"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, b, http.MethodPost, "/api/chat/m1/messages", `{"content":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, b, http.MethodPost, "/api/chat/m1/messages", `{"content":"hi","senderId":"bob"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bob", b.Store().List("m1")[0].SenderID)
}

func TestRequireAuthWithSecret(t *testing.T) {
	b := New(&Config{Secret: "s3cret"})
	defer b.Close()

	rec := serve(t, b, http.MethodGet, "/api/chat/m1/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, b, http.MethodGet, "/api/chat/m1/messages", "", http.Header{"Authorization": {"Bearer forged"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the header fallback is ignored once a secret is set
	rec = serve(t, b, http.MethodGet, "/api/chat/m1/messages", "", http.Header{"X-User-Id": {"alice"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := devtoken.Mint("s3cret", "alice", time.Minute)
	require.NoError(t, err)

	rec = serve(t, b, http.MethodPost, "/api/chat/m1/messages", `{"content":"hi","senderId":"mallory"}`,
		http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", b.Store().List("m1")[0].SenderID)
}

func TestSocketPathOutsidePrefix(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
