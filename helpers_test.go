package matchsocket_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ramory-l/matchsocket"
	"github.com/ramory-l/matchsocket/internal/backend"
	"github.com/ramory-l/matchsocket/socketio"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

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

func newManager(t *testing.T, url string, mutate ...func(*matchsocket.Config)) *matchsocket.Manager {
	t.Helper()

	cfg := matchsocket.Config{
		URL: matchsocket.StaticURL(url),
		Reconnect: &socketio.ReconnectConfig{
			Enabled:     true,
			MaxAttempts: 3,
			Delay:       10 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	m := matchsocket.New(cfg)
	t.Cleanup(m.Close)
	return m
}

func connectAs(t *testing.T, m *matchsocket.Manager, b *backend.Backend, userID string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	require.NoError(t, m.Connect(ctx, userID))
	require.True(t, m.IsConnected())
	require.Eventually(t, func() bool { return b.IsOnline(userID) }, waitFor, tick)
}

// joinRoom joins every manager to room and waits until the backend saw it
func joinRoom(t *testing.T, b *backend.Backend, room string, managers ...*matchsocket.Manager) {
	t.Helper()

	before := len(b.Received(backend.EventJoinChat))
	for _, m := range managers {
		m.JoinRoom(room)
	}
	require.Eventually(t, func() bool {
		return len(b.Received(backend.EventJoinChat)) == before+len(managers)
	}, waitFor, tick)
}

// recorder collects subscriber callbacks for later assertions
type recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
