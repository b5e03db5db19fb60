package restapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ramory-l/matchsocket"
	"github.com/ramory-l/matchsocket/internal/backend"
	"github.com/ramory-l/matchsocket/internal/devtoken"
	"github.com/ramory-l/matchsocket/internal/restapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, tokens matchsocket.TokenProvider) (*backend.Backend, *restapi.Client) {
	t.Helper()

	b := backend.New(&backend.Config{Secret: "s3cret"})
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})

	c, err := restapi.New(srv.URL, tokens, srv.Client(), nil)
	require.NoError(t, err)
	return b, c
}

func TestSendAndListMessages(t *testing.T) {
	token, err := devtoken.Mint("s3cret", "alice", time.Minute)
	require.NoError(t, err)
	b, c := setup(t, matchsocket.StaticToken(token))

	ctx := context.Background()
	m, err := c.SendMessage(ctx, "m1", "hi over http", matchsocket.MessageImage)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.False(t, matchsocket.IsOptimistic(*m))
	assert.Equal(t, "alice", m.SenderID)
	assert.Equal(t, matchsocket.MessageImage, m.MessageType)
	assert.Equal(t, b.Store().List("m1")[0].ID, m.ID)

	msgs, err := c.Messages(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi over http", msgs[0].Content)

	msgs, err = c.Messages(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestUnauthorized(t *testing.T) {
	_, c := setup(t, matchsocket.StaticToken("forged"))

	_, err := c.SendMessage(context.Background(), "m1", "hi", matchsocket.MessageText)
	var serr *restapi.StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusUnauthorized, serr.StatusCode)
	assert.Equal(t, "invalid token", serr.Message)

	_, c = setup(t, nil)
	_, err = c.Messages(context.Background(), "m1")
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "authorization header is required", serr.Message)
}

func TestTokenProviderError(t *testing.T) {
	boom := errors.New("token store offline")
	_, c := setup(t, matchsocket.TokenFunc(func(context.Context) (string, error) {
		return "", boom
	}))

	_, err := c.Messages(context.Background(), "m1")
	assert.ErrorIs(t, err, boom)
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := restapi.New("://nope", nil, nil, nil)
	assert.Error(t, err)
}
