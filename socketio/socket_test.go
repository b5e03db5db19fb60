package socketio_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ramory-l/matchsocket/engineio"
	"github.com/ramory-l/matchsocket/internal/backend"
	"github.com/ramory-l/matchsocket/internal/devtoken"
	"github.com/ramory-l/matchsocket/socketio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func startBackend(t *testing.T, cfg *backend.Config) (*backend.Backend, string) {
	t.Helper()

	b := backend.New(cfg)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return b, srv.URL
}

func fastReconnect() *socketio.ReconnectConfig {
	return &socketio.ReconnectConfig{
		Enabled:     true,
		MaxAttempts: 3,
		Delay:       10 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	}
}

func connect(t *testing.T, url string, cfg *socketio.Config) *socketio.Socket {
	t.Helper()

	s := socketio.NewSocket(url, cfg)
	connected := make(chan struct{}, 1)
	s.OnConnect(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	s.Connect()
	t.Cleanup(s.Close)

	select {
	case <-connected:
	case <-time.After(waitFor):
		t.Fatal("socket did not connect")
	}
	return s
}

func TestSocketEmitWithAck(t *testing.T) {
	b, url := startBackend(t, nil)
	b.Handle("echo", func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) {
		ack(args[0])
	})

	s := connect(t, url, nil)
	assert.True(t, s.Connected())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, engineio.TransportWebsocket, s.Transport())

	got := make(chan json.RawMessage, 1)
	cancel, err := s.EmitWithAck("echo", func(args ...json.RawMessage) {
		got <- args[0]
	}, map[string]any{"a": 1})
	require.NoError(t, err)
	defer cancel()

	select {
	case raw := <-got:
		assert.JSONEq(t, `{"a":1}`, string(raw))
	case <-time.After(waitFor):
		t.Fatal("no ack")
	}
}

func TestSocketListeners(t *testing.T) {
	b, url := startBackend(t, nil)
	b.Handle("trigger", func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) {
		c.Emit("news", "hello")
	})

	s := connect(t, url, nil)

	onCalls := make(chan string, 4)
	onceCalls := make(chan string, 4)
	anyCalls := make(chan string, 4)

	s.On("news", func(args ...json.RawMessage) { onCalls <- string(args[0]) })
	s.Once("news", func(args ...json.RawMessage) { onceCalls <- string(args[0]) })
	off := s.OnAny(func(event string, args ...json.RawMessage) { anyCalls <- event })

	require.NoError(t, s.Emit("trigger"))
	require.NoError(t, s.Emit("trigger"))

	assert.Eventually(t, func() bool { return len(onCalls) == 2 }, waitFor, 10*time.Millisecond)
	assert.Len(t, onceCalls, 1)
	assert.Equal(t, `"hello"`, <-onCalls)
	assert.Eventually(t, func() bool { return len(anyCalls) == 2 }, waitFor, 10*time.Millisecond)

	off()
	s.Off("news")
	require.NoError(t, s.Emit("trigger"))
	// a round trip through an ack proves the third news frame was processed
	b.Handle("sync", func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) { ack() })
	done := make(chan struct{})
	_, err := s.EmitWithAck("sync", func(...json.RawMessage) { close(done) })
	require.NoError(t, err)
	<-done

	assert.Len(t, onCalls, 1)
	assert.Len(t, anyCalls, 2)
}

func TestSocketConnectError(t *testing.T) {
	_, url := startBackend(t, &backend.Config{Secret: "s3cret"})

	errs := make(chan error, 8)
	s := socketio.NewSocket(url, &socketio.Config{
		Auth: func(context.Context) (map[string]any, error) {
			return map[string]any{"token": "forged"}, nil
		},
		Reconnect: &socketio.ReconnectConfig{},
	})
	s.OnConnectError(func(err error) { errs <- err })
	s.Connect()
	defer s.Close()

	select {
	case err := <-errs:
		var cerr *socketio.ConnectError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, backend.AuthErrorMessage, cerr.Message)
	case <-time.After(waitFor):
		t.Fatal("no connect error")
	}

	assert.Eventually(t, func() bool { return !s.Active() }, waitFor, 10*time.Millisecond)
	assert.False(t, s.Connected())
}

func TestSocketValidToken(t *testing.T) {
	b, url := startBackend(t, &backend.Config{Secret: "s3cret"})
	token, err := devtoken.Mint("s3cret", "u1", time.Minute)
	require.NoError(t, err)

	connect(t, url, &socketio.Config{
		Auth: func(context.Context) (map[string]any, error) {
			return map[string]any{"token": token}, nil
		},
	})

	require.Len(t, b.Conns(), 1)
	assert.Equal(t, "u1", b.Conns()[0].TokenUser())
}

func TestSocketServerDisconnectIsFinal(t *testing.T) {
	b, url := startBackend(t, nil)
	b.Handle("kick", func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) {
		c.Disconnect()
	})

	s := connect(t, url, &socketio.Config{Reconnect: fastReconnect()})

	reasons := make(chan string, 4)
	s.OnDisconnect(func(reason string) { reasons <- reason })
	require.NoError(t, s.Emit("kick"))

	select {
	case reason := <-reasons:
		assert.Equal(t, socketio.ReasonServerDisconnect, reason)
	case <-time.After(waitFor):
		t.Fatal("no disconnect")
	}

	assert.Eventually(t, func() bool { return !s.Active() }, waitFor, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.Handshakes())
}

func TestSocketReconnectsAfterDrop(t *testing.T) {
	b, url := startBackend(t, nil)
	b.Handle("drop", func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) {
		go c.Drop()
	})

	s := socketio.NewSocket(url, &socketio.Config{Reconnect: fastReconnect()})
	connects := make(chan struct{}, 4)
	s.OnConnect(func() { connects <- struct{}{} })
	s.Connect()
	defer s.Close()

	select {
	case <-connects:
	case <-time.After(waitFor):
		t.Fatal("socket did not connect")
	}
	require.NoError(t, s.Emit("drop"))

	select {
	case <-connects:
	case <-time.After(waitFor):
		t.Fatal("socket did not reconnect")
	}
	assert.Equal(t, 2, b.Handshakes())
	assert.True(t, s.Active())
}

func TestSocketReconnectDisabled(t *testing.T) {
	b, url := startBackend(t, nil)
	b.Handle("drop", func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) {
		go c.Drop()
	})

	s := connect(t, url, &socketio.Config{Reconnect: &socketio.ReconnectConfig{}})

	reasons := make(chan string, 4)
	s.OnDisconnect(func(reason string) { reasons <- reason })
	require.NoError(t, s.Emit("drop"))

	select {
	case <-reasons:
	case <-time.After(waitFor):
		t.Fatal("no disconnect")
	}

	assert.Eventually(t, func() bool { return !s.Active() }, waitFor, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.Handshakes())
}

func TestSocketPolling(t *testing.T) {
	b, url := startBackend(t, &backend.Config{
		Transports: []string{engineio.TransportPolling},
	})
	b.Handle("echo", func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) {
		ack(args[0])
	})

	s := connect(t, url, nil)
	assert.Equal(t, engineio.TransportPolling, s.Transport())

	got := make(chan json.RawMessage, 1)
	_, err := s.EmitWithAck("echo", func(args ...json.RawMessage) { got <- args[0] }, "over polling")
	require.NoError(t, err)

	select {
	case raw := <-got:
		assert.Equal(t, `"over polling"`, string(raw))
	case <-time.After(waitFor):
		t.Fatal("no ack")
	}
	require.Len(t, b.Conns(), 1)
	assert.Equal(t, engineio.TransportPolling, b.Conns()[0].Transport())
}
