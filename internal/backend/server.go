package backend

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ramory-l/matchsocket/engineio"
	"github.com/ramory-l/matchsocket/internal/devtoken"
	"github.com/ramory-l/matchsocket/socketio"
	"github.com/rs/zerolog"
)

// AuthErrorMessage is the CONNECT_ERROR message sent for a rejected token
const AuthErrorMessage = "Authentication error"

// EventHandler handles one inbound event. ack is never nil; it does nothing
// when the client did not ask for an acknowledgement.
type EventHandler func(c *Conn, args []json.RawMessage, ack AckFunc)

// AckFunc answers the event being handled
type AckFunc func(args ...any)

// Received is an inbound event as recorded for inspection
type Received struct {
	ConnID string
	UserID string
	Event  string
	Args   []json.RawMessage
	At     time.Time
}

// Server is a Socket.IO server for the default namespace
type Server struct {
	cfg     *Config
	engine  *engine
	adapter Adapter
	logger  zerolog.Logger

	mu           sync.RWMutex
	conns        map[string]*Conn
	handlers     map[string]EventHandler
	onConnect    []func(*Conn)
	onDisconnect []func(*Conn, string)

	statsMu    sync.Mutex
	handshakes int
	peak       int
	received   []Received
}

// NewServer creates a new Socket.IO server
func NewServer(config *Config) *Server {
	cfg := config.withDefaults()

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "backend").Logger()
	}

	s := &Server{
		cfg:      cfg,
		engine:   newEngine(cfg, logger),
		logger:   logger,
		conns:    make(map[string]*Conn),
		handlers: make(map[string]EventHandler),
	}
	s.adapter = NewMemoryAdapter(s)
	s.engine.onOpen = s.handleOpen

	return s
}

// Handle sets the handler for event, replacing any previous one
func (s *Server) Handle(event string, handler EventHandler) {
	s.mu.Lock()
	s.handlers[event] = handler
	s.mu.Unlock()
}

// OnConnect registers a handler run after a client completes the handshake
func (s *Server) OnConnect(handler func(*Conn)) {
	s.mu.Lock()
	s.onConnect = append(s.onConnect, handler)
	s.mu.Unlock()
}

// OnDisconnect registers a handler run when a connected client goes away
func (s *Server) OnDisconnect(handler func(*Conn, string)) {
	s.mu.Lock()
	s.onDisconnect = append(s.onDisconnect, handler)
	s.mu.Unlock()
}

// Emit broadcasts to every connected client
func (s *Server) Emit(event string, args ...any) error {
	return s.To().Emit(event, args...)
}

// To returns a BroadcastOperator for the given rooms
func (s *Server) To(rooms ...string) *BroadcastOperator {
	return &BroadcastOperator{server: s, rooms: rooms}
}

// Conns returns the connected clients
func (s *Server) Conns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Conn retrieves a connected client by id
func (s *Server) Conn(id string) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conns[id]
	return c, ok
}

// Handshakes returns how many Socket.IO handshakes succeeded
func (s *Server) Handshakes() int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.handshakes
}

// PeakConnections returns the highest number of clients connected at once
func (s *Server) PeakConnections() int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.peak
}

// Sessions returns the number of open Engine.IO sessions
func (s *Server) Sessions() int {
	return int(s.engine.count.Load())
}

// Received returns the recorded inbound events named event, or all of them
// when event is empty
func (s *Server) Received(event string) []Received {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	var out []Received
	for _, r := range s.received {
		if event == "" || r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/socket.io/") {
		http.NotFound(w, r)
		return
	}
	s.engine.ServeHTTP(w, r)
}

// Close closes all sessions
func (s *Server) Close() error {
	s.engine.close()
	return s.adapter.Close()
}

func (s *Server) handleOpen(sess *session) {
	c := newConn(sess, s)
	sess.OnMessage(c.handleMessage)
	sess.OnClose(c.handleClose)
}

// authorize checks the CONNECT auth payload and returns the token's user
func (s *Server) authorize(auth json.RawMessage) (string, bool) {
	if s.cfg.Secret == "" {
		return "", true
	}

	var payload struct {
		Token string `json:"token"`
	}
	if len(auth) > 0 {
		if err := json.Unmarshal(auth, &payload); err != nil {
			return "", false
		}
	}
	if payload.Token == "" {
		return "", false
	}

	userID, err := devtoken.Verify(s.cfg.Secret, payload.Token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("rejected handshake token")
		return "", false
	}
	return userID, true
}

func (s *Server) addConn(c *Conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	n := len(s.conns)
	handlers := append([]func(*Conn){}, s.onConnect...)
	s.mu.Unlock()

	s.statsMu.Lock()
	s.handshakes++
	if n > s.peak {
		s.peak = n
	}
	s.statsMu.Unlock()

	c.Join(c.id)

	for _, handler := range handlers {
		handler(c)
	}
}

func (s *Server) removeConn(c *Conn, reason string) {
	s.mu.Lock()
	delete(s.conns, c.id)
	handlers := append([]func(*Conn, string){}, s.onDisconnect...)
	s.mu.Unlock()

	s.adapter.RemoveAll(c.id)

	for _, handler := range handlers {
		handler(c, reason)
	}
}

func (s *Server) record(c *Conn, event string, args []json.RawMessage) {
	s.statsMu.Lock()
	s.received = append(s.received, Received{
		ConnID: c.id,
		UserID: c.UserID(),
		Event:  event,
		Args:   args,
		At:     time.Now(),
	})
	s.statsMu.Unlock()
}

func (s *Server) handler(event string) (EventHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handlers[event]
	return h, ok
}

// send writes a Socket.IO packet to one session
func (s *Server) send(sess *session, packet *socketio.Packet) error {
	encoded, err := packet.Encode()
	if err != nil {
		return err
	}
	return sess.Send(&engineio.Packet{
		Type: engineio.PacketTypeMessage,
		Data: []byte(encoded),
	})
}
