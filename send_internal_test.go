package matchsocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ramory-l/matchsocket/internal/backend"
	"github.com/ramory-l/matchsocket/socketio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendIgnoresLateErrorFrame(t *testing.T) {
	b := backend.New(nil)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})

	// ack first, then an error frame that belongs to nothing
	b.Handle(backend.EventSendMessage, func(c *backend.Conn, args []json.RawMessage, ack backend.AckFunc) {
		ack(map[string]any{"success": true, "messageId": "x1"})
		c.Emit(backend.EventError, map[string]any{"message": "unrelated"})
	})

	m := New(Config{URL: StaticURL(srv.URL)})
	t.Cleanup(m.Close)

	errs := make(chan string, 4)
	m.OnError(func(text string) { errs <- text })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx, "alice"))
	require.True(t, m.IsConnected())

	for i := 0; i < 2; i++ {
		res, err := m.SendMessage(ctx, "m1", "hi", MessageText)
		require.NoError(t, err)
		assert.Equal(t, ResolvedByAck, res.Resolution)
		assert.Equal(t, "x1", res.MessageID)

		select {
		case text := <-errs:
			assert.Equal(t, "unrelated", text)
		case <-time.After(3 * time.Second):
			t.Fatal("error frame not delivered")
		}
	}

	m.mu.Lock()
	socket := m.socket
	pending := len(m.pending)
	m.mu.Unlock()

	assert.Zero(t, pending)
	assert.Zero(t, socket.ListenerCount(EventError))
	assert.Zero(t, socket.ListenerCount(EventMessageSent))
}

func TestConfigReconnectDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.NotNil(t, cfg.Reconnect)
	assert.Equal(t, socketio.DefaultReconnectConfig(), *cfg.Reconnect)

	cfg = Config{Reconnect: &socketio.ReconnectConfig{}}.withDefaults()
	assert.False(t, cfg.Reconnect.Enabled)
}
