package matchsocket

import (
	"context"
	"net/http"
	"time"

	"github.com/ramory-l/matchsocket/engineio"
	"github.com/ramory-l/matchsocket/socketio"
	"github.com/rs/zerolog"
)

const (
	DefaultSendTimeout = 2000 * time.Millisecond
	DefaultEchoWindow  = 5 * time.Second

	defaultQueueSize = 256
)

// TokenProvider supplies the bearer credential attached to the handshake.
// An empty token means unauthenticated; the backend may reject the connection.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same credential
func StaticToken(token string) TokenProvider {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

// URLResolver supplies the base URL of the real-time backend
type URLResolver interface {
	SocketURL() string
}

// StaticURL is a fixed URLResolver
type StaticURL string

func (u StaticURL) SocketURL() string { return string(u) }

// Config holds the Manager's collaborators and tunables. Zero values fall back to defaults.
type Config struct {
	Tokens TokenProvider
	URL    URLResolver
	Logger *zerolog.Logger

	// Transports in preference order, websocket then polling by default
	Transports []string
	Path       string
	HTTPClient *http.Client

	// Reconnect nil means socketio.DefaultReconnectConfig
	Reconnect      *socketio.ReconnectConfig
	ConnectTimeout time.Duration

	SendTimeout   time.Duration
	OnSendTimeout TimeoutPolicy

	// QueueSize bounds inbound frames waiting for dispatch
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Tokens == nil {
		c.Tokens = StaticToken("")
	}
	if len(c.Transports) == 0 {
		c.Transports = []string{engineio.TransportWebsocket, engineio.TransportPolling}
	}
	if c.Reconnect == nil {
		reconnect := socketio.DefaultReconnectConfig()
		c.Reconnect = &reconnect
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.OnSendTimeout == nil {
		c.OnSendTimeout = OptimisticTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

func (c Config) socketConfig(logger *zerolog.Logger, auth socketio.AuthFunc) *socketio.Config {
	dial := engineio.DefaultDialOptions()
	dial.Transports = c.Transports
	if c.Path != "" {
		dial.Path = c.Path
	}
	dial.HTTPClient = c.HTTPClient
	dial.Logger = logger

	return &socketio.Config{
		Dial:           dial,
		Auth:           auth,
		Reconnect:      c.Reconnect,
		ConnectTimeout: c.ConnectTimeout,
		Logger:         logger,
	}
}
