package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ramory-l/matchsocket/engineio"
	"github.com/rs/zerolog"
)

// Disconnect reasons reported to OnDisconnect handlers
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
)

var (
	ErrNotConnected = errors.New("socket not connected")
	ErrClosed       = errors.New("socket closed")
)

// ConnectError is the reason carried by a CONNECT_ERROR packet
type ConnectError struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ConnectError) Error() string {
	return "connect error: " + e.Message
}

// AuthFunc produces the auth payload sent with every namespace CONNECT
type AuthFunc func(ctx context.Context) (map[string]any, error)

// EventHandler handles Socket.IO events
type EventHandler func(args ...json.RawMessage)

// AnyHandler handles every Socket.IO event regardless of name
type AnyHandler func(event string, args ...json.RawMessage)

// AckHandler handles acknowledgment responses
type AckHandler func(args ...json.RawMessage)

// Config represents Socket.IO client configuration
type Config struct {
	Dial           *engineio.DialOptions
	Auth           AuthFunc
	// Reconnect nil means DefaultReconnectConfig; Enabled false turns reconnection off
	Reconnect      *ReconnectConfig
	ConnectTimeout time.Duration
	Logger         *zerolog.Logger
}

// DefaultConfig returns default Socket.IO client configuration
func DefaultConfig() *Config {
	reconnect := DefaultReconnectConfig()
	return &Config{
		Dial:           engineio.DefaultDialOptions(),
		Reconnect:      &reconnect,
		ConnectTimeout: 20 * time.Second,
	}
}

type listener struct {
	event string
	fn    EventHandler
	any   AnyHandler
	once  bool
	fired atomic.Bool
}

// Socket is a client connection to the default namespace of a Socket.IO server.
// Listeners run on the session read goroutine in arrival order and must not block.
type Socket struct {
	url    string
	cfg    Config
	logger zerolog.Logger

	mu        sync.RWMutex
	session   *engineio.Session
	sid       string
	connected bool
	started   bool
	closed    bool
	running   atomic.Bool

	handlersMu  sync.RWMutex
	handlers    map[string][]*listener
	anyHandlers []*listener

	ackID       atomic.Int64
	ackHandlers sync.Map

	lifecycleMu       sync.RWMutex
	onConnect         []func()
	onDisconnect      []func(string)
	onConnectError    []func(error)
	onReconnectFailed []func()

	done chan struct{}
}

// NewSocket creates a socket for the server at url. Nothing is dialled until Connect.
func NewSocket(url string, config *Config) *Socket {
	cfg := *DefaultConfig()
	if config != nil {
		if config.Dial != nil {
			cfg.Dial = config.Dial
		}
		if config.Reconnect != nil {
			reconnect := *config.Reconnect
			cfg.Reconnect = &reconnect
		}
		if config.ConnectTimeout > 0 {
			cfg.ConnectTimeout = config.ConnectTimeout
		}
		cfg.Auth = config.Auth
		cfg.Logger = config.Logger
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "socketio").Logger()
		if cfg.Dial.Logger == nil {
			dial := *cfg.Dial
			dial.Logger = cfg.Logger
			cfg.Dial = &dial
		}
	}

	return &Socket{
		url:      url,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string][]*listener),
		done:     make(chan struct{}),
	}
}

// ID returns the namespace session id assigned by the server, empty while disconnected
func (s *Socket) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

// Connected reports whether the namespace handshake has completed on a live session
func (s *Socket) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Transport returns the name of the Engine.IO transport in use, empty while disconnected
func (s *Socket) Transport() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Transport()
}

// Connect starts the connection loop in the background. Calling it again is a no-op.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.running.Store(true)
	s.mu.Unlock()

	go s.run()
}

// Active reports whether the connection loop is still connected or retrying
func (s *Socket) Active() bool {
	return s.running.Load()
}

// Close disconnects from the server and stops reconnection
func (s *Socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	session := s.session
	connected := s.connected
	s.mu.Unlock()

	close(s.done)

	if session != nil {
		if connected {
			s.sendPacket(session, &Packet{Type: PacketTypeDisconnect, Namespace: DefaultNamespace})
		}
		session.Close(engineio.CloseReasonClient)
	}
}

// Emit sends an event to the server
func (s *Socket) Emit(event string, args ...any) error {
	session, err := s.liveSession()
	if err != nil {
		return err
	}
	return s.sendPacket(session, NewEvent(event, args...))
}

// EmitWithAck sends an event and registers ack for the server's acknowledgment.
// ack is dropped without being called if the session ends first. The returned
// func unregisters ack when the caller stops waiting for it.
func (s *Socket) EmitWithAck(event string, ack AckHandler, args ...any) (func(), error) {
	session, err := s.liveSession()
	if err != nil {
		return func() {}, err
	}

	id := int(s.ackID.Add(1))
	packet := NewEvent(event, args...)
	packet.ID = &id

	s.ackHandlers.Store(id, ack)
	cancel := func() { s.ackHandlers.Delete(id) }

	if err := s.sendPacket(session, packet); err != nil {
		cancel()
		return func() {}, err
	}
	return cancel, nil
}

// On registers an event handler. The returned func removes exactly this registration.
func (s *Socket) On(event string, handler EventHandler) func() {
	return s.addListener(&listener{event: event, fn: handler})
}

// Once registers an event handler that is removed after its first call
func (s *Socket) Once(event string, handler EventHandler) func() {
	return s.addListener(&listener{event: event, fn: handler, once: true})
}

// OnAny registers a handler for every inbound event
func (s *Socket) OnAny(handler AnyHandler) func() {
	l := &listener{any: handler}

	s.handlersMu.Lock()
	s.anyHandlers = append(s.anyHandlers, l)
	s.handlersMu.Unlock()

	return func() {
		s.handlersMu.Lock()
		s.anyHandlers = without(s.anyHandlers, l)
		s.handlersMu.Unlock()
	}
}

// Off removes every handler registered for event
func (s *Socket) Off(event string) {
	s.handlersMu.Lock()
	delete(s.handlers, event)
	s.handlersMu.Unlock()
}

// ListenerCount returns the number of handlers registered for event
func (s *Socket) ListenerCount(event string) int {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers[event])
}

// OnConnect registers a handler fired after each successful namespace handshake
func (s *Socket) OnConnect(handler func()) {
	s.lifecycleMu.Lock()
	s.onConnect = append(s.onConnect, handler)
	s.lifecycleMu.Unlock()
}

// OnDisconnect registers a handler fired when a connected session ends
func (s *Socket) OnDisconnect(handler func(reason string)) {
	s.lifecycleMu.Lock()
	s.onDisconnect = append(s.onDisconnect, handler)
	s.lifecycleMu.Unlock()
}

// OnConnectError registers a handler fired for every failed connection attempt
func (s *Socket) OnConnectError(handler func(error)) {
	s.lifecycleMu.Lock()
	s.onConnectError = append(s.onConnectError, handler)
	s.lifecycleMu.Unlock()
}

// OnReconnectFailed registers a handler fired once the attempt budget is exhausted
func (s *Socket) OnReconnectFailed(handler func()) {
	s.lifecycleMu.Lock()
	s.onReconnectFailed = append(s.onReconnectFailed, handler)
	s.lifecycleMu.Unlock()
}

func (s *Socket) addListener(l *listener) func() {
	s.handlersMu.Lock()
	s.handlers[l.event] = append(s.handlers[l.event], l)
	s.handlersMu.Unlock()

	return func() { s.removeListener(l) }
}

func (s *Socket) removeListener(l *listener) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	remaining := without(s.handlers[l.event], l)
	if len(remaining) == 0 {
		delete(s.handlers, l.event)
		return
	}
	s.handlers[l.event] = remaining
}

func without(ls []*listener, l *listener) []*listener {
	out := make([]*listener, 0, len(ls))
	for _, x := range ls {
		if x != l {
			out = append(out, x)
		}
	}
	return out
}

func (s *Socket) liveSession() (*engineio.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if !s.connected || s.session == nil {
		return nil, ErrNotConnected
	}
	return s.session, nil
}

func (s *Socket) sendPacket(session *engineio.Session, packet *Packet) error {
	encoded, err := packet.Encode()
	if err != nil {
		return err
	}

	s.logger.Trace().Str("packet", encoded).Msg("send")
	return session.Send([]byte(encoded))
}

func (s *Socket) run() {
	defer s.running.Store(false)

	failures := 0
	for {
		session, closedCh, err := s.attempt()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.logger.Debug().Err(err).Int("failures", failures+1).Msg("connect attempt failed")
			s.fireConnectError(err)
		} else {
			failures = 0
			reason := s.serve(session, closedCh)
			if reason == ReasonClientDisconnect || reason == ReasonServerDisconnect {
				return
			}
		}

		failures++
		if !s.cfg.Reconnect.allows(failures) {
			if s.cfg.Reconnect.Enabled {
				s.logger.Warn().Int("attempts", failures-1).Msg("reconnection attempts exhausted")
				s.fireReconnectFailed()
			}
			return
		}

		delay := s.cfg.Reconnect.Backoff(failures)
		s.logger.Debug().Dur("delay", delay).Int("attempt", failures).Msg("reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.done:
			timer.Stop()
			return
		}
	}
}

// attempt dials a session and completes the namespace handshake
func (s *Socket) attempt() (*engineio.Session, <-chan string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var auth map[string]any
	if s.cfg.Auth != nil {
		a, err := s.cfg.Auth(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build auth payload: %w", err)
		}
		auth = a
	}

	session, err := engineio.Dial(ctx, s.url, s.cfg.Dial)
	if err != nil {
		return nil, nil, err
	}

	handshake := make(chan error, 1)
	closedCh := make(chan string, 1)
	session.OnMessage(func(data []byte) { s.handleMessage(session, data, handshake) })
	session.OnClose(func(reason string) { closedCh <- reason })

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		session.Close(engineio.CloseReasonClient)
		return nil, nil, ErrClosed
	}
	s.session = session
	s.mu.Unlock()

	session.Start()

	connect := &Packet{Type: PacketTypeConnect, Namespace: DefaultNamespace}
	if auth != nil {
		connect.Data = auth
	}
	if err := s.sendPacket(session, connect); err != nil {
		s.dropSession(session)
		return nil, nil, err
	}

	select {
	case err = <-handshake:
	case reason := <-closedCh:
		err = fmt.Errorf("session closed during handshake: %s", reason)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		session.Close(engineio.CloseReasonClient)
		s.dropSession(session)
		return nil, nil, err
	}

	s.lifecycleMu.RLock()
	handlers := s.onConnect
	s.lifecycleMu.RUnlock()

	s.logger.Debug().
		Str("sid", s.ID()).
		Str("transport", session.Transport()).
		Msg("connected")

	for _, handler := range handlers {
		handler()
	}

	return session, closedCh, nil
}

// serve blocks until the session ends and reports the disconnect reason
func (s *Socket) serve(session *engineio.Session, closedCh <-chan string) string {
	var reason string
	select {
	case reason = <-closedCh:
	case <-s.done:
		session.Close(engineio.CloseReasonClient)
		reason = ReasonClientDisconnect
	}

	if s.isClosed() {
		reason = ReasonClientDisconnect
	}

	s.dropSession(session)

	s.ackHandlers.Range(func(key, _ any) bool {
		s.ackHandlers.Delete(key)
		return true
	})

	s.lifecycleMu.RLock()
	handlers := s.onDisconnect
	s.lifecycleMu.RUnlock()

	s.logger.Debug().Str("reason", reason).Msg("disconnected")

	for _, handler := range handlers {
		handler(reason)
	}
	return reason
}

func (s *Socket) dropSession(session *engineio.Session) {
	s.mu.Lock()
	if s.session == session {
		s.session = nil
		s.sid = ""
		s.connected = false
	}
	s.mu.Unlock()
}

func (s *Socket) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Socket) handleMessage(session *engineio.Session, data []byte, handshake chan<- error) {
	packet, err := DecodePacket(string(data))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to decode packet")
		return
	}
	if packet.Namespace != DefaultNamespace {
		s.logger.Trace().Str("namespace", packet.Namespace).Msg("ignoring packet for other namespace")
		return
	}

	switch packet.Type {
	case PacketTypeConnect:
		s.handleConnect(session, packet, handshake)
	case PacketTypeConnectError:
		cerr := &ConnectError{}
		if raw, _ := packet.Raw(); len(raw) > 0 {
			if err := json.Unmarshal(raw, cerr); err != nil {
				cerr.Message = string(raw)
			}
		}
		select {
		case handshake <- cerr:
		default:
		}
	case PacketTypeEvent:
		s.handleEvent(packet)
	case PacketTypeAck:
		s.handleAck(packet)
	case PacketTypeDisconnect:
		session.Close(ReasonServerDisconnect)
	case PacketTypeBinaryEvent, PacketTypeBinaryAck:
		s.logger.Warn().Str("type", packet.Type.String()).Msg("binary packets are not supported")
	}
}

func (s *Socket) handleConnect(session *engineio.Session, packet *Packet, handshake chan<- error) {
	var payload struct {
		SID string `json:"sid"`
	}
	if raw, _ := packet.Raw(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			s.logger.Error().Err(err).Msg("failed to decode connect payload")
		}
	}

	s.mu.Lock()
	if s.session == session {
		s.sid = payload.SID
		s.connected = true
	}
	s.mu.Unlock()

	select {
	case handshake <- nil:
	default:
	}
}

func (s *Socket) handleEvent(packet *Packet) {
	event, args, err := packet.Event()
	if err != nil {
		s.logger.Error().Err(err).Msg("malformed event packet")
		return
	}
	if packet.ID != nil {
		s.logger.Trace().Str("event", event).Int("id", *packet.ID).Msg("server requested ack, not supported")
	}

	s.logger.Trace().Str("event", event).Int("args", len(args)).Msg("recv")

	s.handlersMu.RLock()
	handlers := append([]*listener(nil), s.handlers[event]...)
	anyHandlers := append([]*listener(nil), s.anyHandlers...)
	s.handlersMu.RUnlock()

	for _, l := range handlers {
		if l.once {
			if !l.fired.CompareAndSwap(false, true) {
				continue
			}
			s.removeListener(l)
		}
		s.invoke(event, func() { l.fn(args...) })
	}
	for _, l := range anyHandlers {
		s.invoke(event, func() { l.any(event, args...) })
	}
}

func (s *Socket) handleAck(packet *Packet) {
	if packet.ID == nil {
		return
	}

	val, ok := s.ackHandlers.LoadAndDelete(*packet.ID)
	if !ok {
		return
	}

	args, err := packet.Args()
	if err != nil {
		s.logger.Error().Err(err).Int("id", *packet.ID).Msg("malformed ack packet")
		return
	}

	handler := val.(AckHandler)
	s.invoke("ack", func() { handler(args...) })
}

func (s *Socket) invoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("event", event).Interface("panic", r).Msg("listener panicked")
		}
	}()
	fn()
}

func (s *Socket) fireConnectError(err error) {
	s.lifecycleMu.RLock()
	handlers := s.onConnectError
	s.lifecycleMu.RUnlock()

	for _, handler := range handlers {
		handler(err)
	}
}

func (s *Socket) fireReconnectFailed() {
	s.lifecycleMu.RLock()
	handlers := s.onReconnectFailed
	s.lifecycleMu.RUnlock()

	for _, handler := range handlers {
		handler()
	}
}
