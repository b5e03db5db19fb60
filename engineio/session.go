package engineio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CloseReasonClient is the reason recorded when the local side closes the session
const CloseReasonClient = "client close"

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNoTransport   = errors.New("no transport could be opened")
)

// DialOptions holds Engine.IO client configuration
type DialOptions struct {
	// Transports in preference order
	Transports       []string
	Path             string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxPayload       int // bytes
	HTTPClient       *http.Client
	Logger           *zerolog.Logger
}

// DefaultDialOptions returns default Engine.IO client configuration
func DefaultDialOptions() *DialOptions {
	return &DialOptions{
		Transports:       []string{TransportWebsocket, TransportPolling},
		Path:             "/socket.io/",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxPayload:       1e6, // 1MB
	}
}

func (o *DialOptions) withDefaults() *DialOptions {
	def := DefaultDialOptions()
	if o == nil {
		return def
	}
	opts := *o
	if len(opts.Transports) == 0 {
		opts.Transports = def.Transports
	}
	if opts.Path == "" {
		opts.Path = def.Path
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = def.MaxPayload
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &opts
}

// Session represents a client-side Engine.IO session
type Session struct {
	id        string
	transport Transport
	handshake HandshakeData
	logger    zerolog.Logger

	heartbeat *time.Timer
	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.RWMutex
	onMessage func([]byte)
	onClose   func(string)
}

// Dial opens a session to the server at rawURL, trying each configured
// transport in order until one completes the handshake.
func Dial(ctx context.Context, rawURL string, opts *DialOptions) (*Session, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = opts.Path
	} else if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "engineio").Logger()
	}

	var errs []error
	for _, name := range opts.Transports {
		dial, ok := dialers[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown transport %q", name))
			continue
		}

		t, hs, err := dial(ctx, *u, opts)
		if err != nil {
			logger.Debug().Err(err).Str("transport", name).Msg("transport failed, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		logger.Debug().
			Str("transport", name).
			Str("sid", hs.SID).
			Msg("session opened")

		return &Session{
			id:        hs.SID,
			transport: t,
			handshake: *hs,
			logger:    logger.With().Str("sid", hs.SID).Logger(),
			closed:    make(chan struct{}),
		}, nil
	}

	return nil, errors.Join(append([]error{ErrNoTransport}, errs...)...)
}

// ID returns the session ID assigned by the server
func (s *Session) ID() string {
	return s.id
}

// Transport returns the name of the transport in use
func (s *Session) Transport() string {
	return s.transport.Name()
}

// Handshake returns the parameters negotiated in the open packet
func (s *Session) Handshake() HandshakeData {
	return s.handshake
}

// Start starts the read loop and the heartbeat watchdog.
// Handlers must be set before calling Start.
func (s *Session) Start() {
	if window := s.heartbeatWindow(); window > 0 {
		s.mu.Lock()
		s.heartbeat = time.AfterFunc(window, func() {
			s.Close("ping timeout")
		})
		s.mu.Unlock()
	}

	go s.readLoop()
}

// Send sends a message packet carrying data
func (s *Session) Send(data []byte) error {
	return s.send(&Packet{Type: PacketTypeMessage, Data: data})
}

func (s *Session) send(packet *Packet) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	if err := s.transport.Write(packet); err != nil {
		s.Close("write error")
		return err
	}
	return nil
}

// Done is closed once the session is closed
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Close closes the session
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.RLock()
		if s.heartbeat != nil {
			s.heartbeat.Stop()
		}
		handler := s.onClose
		s.mu.RUnlock()

		if reason == CloseReasonClient {
			if err := s.transport.Write(&Packet{Type: PacketTypeClose}); err != nil {
				s.logger.Trace().Err(err).Msg("failed to send close packet")
			}
		}
		if err := s.transport.Close(); err != nil {
			s.logger.Trace().Err(err).Msg("failed to close transport")
		}

		s.logger.Debug().Str("reason", reason).Msg("session closed")

		if handler != nil {
			handler(reason)
		}
	})
}

// OnMessage sets the message handler
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose sets the close handler
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	for {
		packet, err := s.transport.Read()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Debug().Err(err).Msg("transport read failed")
			}
			s.Close("transport error")
			return
		}

		s.resetHeartbeat()

		switch packet.Type {
		case PacketTypePing:
			if err := s.send(&Packet{Type: PacketTypePong, Data: packet.Data}); err != nil {
				return
			}
		case PacketTypeMessage:
			s.handleMessage(packet.Data)
		case PacketTypeClose:
			s.Close("transport close")
			return
		case PacketTypeNoop, PacketTypePong:
		default:
			s.logger.Trace().Str("type", packet.Type.String()).Msg("ignoring packet")
		}
	}
}

func (s *Session) handleMessage(data []byte) {
	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(data)
	}
}

func (s *Session) resetHeartbeat() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.heartbeat != nil {
		s.heartbeat.Reset(s.heartbeatWindow())
	}
}

func (s *Session) heartbeatWindow() time.Duration {
	return time.Duration(s.handshake.PingInterval+s.handshake.PingTimeout) * time.Millisecond
}
