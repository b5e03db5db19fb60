package matchsocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ramory-l/matchsocket/socketio"
	"github.com/rs/zerolog"
)

// Manager owns the single real-time session of the application. It performs
// the authenticated handshake, demultiplexes inbound frames into a Registry and
// exposes the outbound signals. Create one per process and pass it by reference.
type Manager struct {
	cfg      Config
	logger   zerolog.Logger
	registry *Registry

	mu      sync.Mutex
	socket  *socketio.Socket
	userID  string
	pending map[*pendingSend]struct{}
	closed  bool
	// settle releases the Connect call waiting on the current socket
	settle func()

	attempts    atomic.Int32
	dispatching atomic.Bool

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Manager and starts its dispatch loop. Call Close on shutdown.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "connection-manager").Logger(),
		registry: NewRegistry(&logger),
		pending:  make(map[*pendingSend]struct{}),
		queue:    make(chan func(), cfg.QueueSize),
		done:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.loop()

	return m
}

// Registry returns the subscriber registry inbound frames are dispatched to
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect opens the session for userID. It returns once the first handshake
// attempt has finished, whatever its outcome; failures surface as a
// disconnected status and are retried by the reconnection policy.
// Connecting again with the same identity is a no-op; a different identity
// tears the current session down first.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if m.cfg.URL == nil {
		return errors.New("no socket url configured")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.socket != nil && m.userID == userID && m.socket.Active() {
		m.mu.Unlock()
		return nil
	}
	var previous *teardown
	if m.socket != nil {
		m.logger.Debug().
			Str("from", m.userID).
			Str("to", userID).
			Msg("tearing down previous session")
		previous = m.detachLocked()
	}

	settled := make(chan struct{})
	var settleOnce sync.Once
	settle := func() { settleOnce.Do(func() { close(settled) }) }

	socket := socketio.NewSocket(m.cfg.URL.SocketURL(), m.cfg.socketConfig(m.cfg.Logger, m.auth))
	m.bind(socket, settle)

	m.socket = socket
	m.userID = userID
	m.settle = settle
	m.attempts.Store(0)
	m.mu.Unlock()

	if previous != nil {
		previous.finish(m)
	}

	m.logger.Debug().Str("userID", userID).Msg("connecting")
	socket.Connect()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the session and forgets the identity. Subscribers stay
// registered for the next Connect. Pending sends are rejected with ErrDisconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.socket == nil {
		m.mu.Unlock()
		return
	}
	t := m.detachLocked()
	m.mu.Unlock()

	t.finish(m)
}

// Close disconnects and stops the dispatch loop. It waits for a running
// listener to return, except when called from a listener.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var t *teardown
	if m.socket != nil {
		t = m.detachLocked()
	}
	m.mu.Unlock()

	if t != nil {
		t.socket.Close()
		t.reject()
	}

	m.closeOnce.Do(func() { close(m.done) })
	if !m.dispatching.Load() {
		m.wg.Wait()
	}
}

// IsConnected reports whether a session exists and has completed its handshake
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	socket := m.socket
	m.mu.Unlock()

	return socket != nil && socket.Connected()
}

// UserID returns the identity of the current session, empty when disconnected
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// ReconnectAttempts returns failed attempts since the last successful connect
func (m *Manager) ReconnectAttempts() int {
	return int(m.attempts.Load())
}

// teardown is a socket detached from the Manager, waiting to be closed
// outside m.mu
type teardown struct {
	socket       *socketio.Socket
	wasConnected bool
	pending      map[*pendingSend]struct{}
}

// detachLocked forgets the current socket and identity and releases a
// Connect still waiting on it. The caller holds m.mu.
func (m *Manager) detachLocked() *teardown {
	t := &teardown{
		socket:       m.socket,
		wasConnected: m.socket.Connected(),
		pending:      m.pending,
	}

	m.socket = nil
	m.userID = ""
	m.pending = make(map[*pendingSend]struct{})
	if m.settle != nil {
		m.settle()
		m.settle = nil
	}
	return t
}

// finish closes the detached socket, rejects its pending sends and
// announces the disconnect
func (t *teardown) finish(m *Manager) {
	t.socket.Close()
	t.reject()
	if t.wasConnected {
		m.postStatus(StatusDisconnected)
	}
}

func (t *teardown) reject() {
	for p := range t.pending {
		p.resolve(nil, ErrDisconnected)
	}
}

func (m *Manager) auth(ctx context.Context) (map[string]any, error) {
	token, err := m.cfg.Tokens.Token(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to fetch token, connecting without credential")
		return map[string]any{}, nil
	}
	if token == "" {
		return map[string]any{}, nil
	}
	return map[string]any{"token": token}, nil
}

// bind installs the full dispatch table on socket before it starts connecting
func (m *Manager) bind(socket *socketio.Socket, settle func()) {
	socket.OnAny(func(event string, args ...json.RawMessage) {
		m.inbound(socket, event, args)
	})

	socket.OnConnect(func() {
		defer settle()

		userID := m.identityFor(socket)
		if !m.isCurrent(socket) {
			return
		}
		m.attempts.Store(0)
		if userID != "" {
			if err := socket.Emit(EventAuthenticate, userID); err != nil {
				m.logger.Warn().Err(err).Msg("failed to send authenticate")
			}
		}
		m.postStatus(StatusConnected)
	})

	socket.OnDisconnect(func(reason string) {
		if !m.isCurrent(socket) {
			return
		}
		m.logger.Debug().Str("reason", reason).Msg("transport disconnected")
		m.postStatus(StatusDisconnected)
	})

	socket.OnConnectError(func(err error) {
		defer settle()
		if !m.isCurrent(socket) {
			return
		}
		n := m.attempts.Add(1)
		m.logger.Debug().Err(err).Int32("attempts", n).Msg("connect error")
	})

	socket.OnReconnectFailed(func() {
		m.logger.Warn().Int("maxAttempts", m.cfg.Reconnect.MaxAttempts).Msg("gave up reconnecting")
	})
}

func (m *Manager) inbound(socket *socketio.Socket, event string, args []json.RawMessage) {
	if !m.isCurrent(socket) {
		return
	}

	var data json.RawMessage
	if len(args) > 0 {
		data = args[0]
	}

	switch event {
	case EventAuthenticated:
		m.logger.Debug().RawJSON("payload", nonEmpty(data)).Msg("authenticated")
		return
	case EventError:
		if text := errorText(data); strings.Contains(text, "Authentication") {
			m.logger.Warn().Str("error", text).Msg("backend reported authentication error")
		} else {
			m.logger.Debug().Str("error", text).Msg("backend error frame")
		}
	case EventEventReminder:
		data = repackageReminder(data)
	}

	ev := Event{
		Kind:       KindOf(event),
		Name:       event,
		Data:       data,
		ReceivedAt: time.Now(),
	}
	m.post(func() { m.registry.Dispatch(ev.Kind, ev) })
}

// post queues fn on the dispatch loop, preserving arrival order
func (m *Manager) post(fn func()) {
	select {
	case m.queue <- fn:
	case <-m.done:
	}
}

func (m *Manager) postStatus(s Status) {
	ev := statusEvent(s)
	m.post(func() { m.registry.Dispatch(KindConnectionStatus, ev) })
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.queue:
			m.dispatching.Store(true)
			fn()
			m.dispatching.Store(false)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) isCurrent(socket *socketio.Socket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socket == socket
}

func (m *Manager) identityFor(socket *socketio.Socket) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socket != socket {
		return ""
	}
	return m.userID
}

// emit sends a fire-and-forget signal, dropping it when not connected
func (m *Manager) emit(event string, needIdentity bool, args ...any) {
	m.mu.Lock()
	socket, userID := m.socket, m.userID
	m.mu.Unlock()

	if socket == nil || !socket.Connected() {
		m.logger.Trace().Str("event", event).Msg("not connected, signal dropped")
		return
	}
	if needIdentity && userID == "" {
		m.logger.Trace().Str("event", event).Msg("no identity, signal dropped")
		return
	}
	if err := socket.Emit(event, args...); err != nil {
		m.logger.Debug().Err(err).Str("event", event).Msg("signal dropped")
	}
}

// JoinRoom subscribes the session to a chat room's broadcasts
func (m *Manager) JoinRoom(roomID string) {
	m.emit(EventJoinChat, false, roomID)
}

// LeaveRoom is advisory; the backend may have no handler for it
func (m *Manager) LeaveRoom(roomID string) {
	m.emit(EventLeaveChat, false, roomID)
}

// SendTyping signals that the user started typing. Callers debounce.
func (m *Manager) SendTyping(roomID string) {
	m.emit(EventTypingStart, true, roomID)
}

// SendStoppedTyping signals that the user stopped typing
func (m *Manager) SendStoppedTyping(roomID string) {
	m.emit(EventTypingStop, true, roomID)
}

// GetUserStatus asks for the presence of userID. The answer arrives as KindUserStatus.
func (m *Manager) GetUserStatus(userID string) {
	m.emit(EventGetUserStatus, false, userID)
}

// Emit sends an arbitrary event, dropping it when not connected
func (m *Manager) Emit(event string, args ...any) {
	m.emit(event, false, args...)
}

// JoinEventSession enters the live event eventID
func (m *Manager) JoinEventSession(eventID string) {
	m.emit(EventJoinEventSession, false, eventID)
}

// LeaveEventSession leaves the live event eventID
func (m *Manager) LeaveEventSession(eventID string) {
	m.emit(EventLeaveEventSession, false, eventID)
}

// StartEventRound asks the backend to open the next round of eventID
func (m *Manager) StartEventRound(eventID string) {
	m.emit(EventStartEventRound, false, eventID)
}

// ReadyForMatchmaking queues the user for a partner in the current round
func (m *Manager) ReadyForMatchmaking(eventID string) {
	m.emit(EventReadyForMatchmaking, false, eventID)
}

// AdvancePhase moves eventID to its next phase
func (m *Manager) AdvancePhase(eventID string) {
	m.emit(EventAdvancePhase, false, eventID)
}

func nonEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
