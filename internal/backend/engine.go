package backend

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ramory-l/matchsocket/engineio"
	"github.com/rs/zerolog"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// engine is the Engine.IO side of the server: it owns the sessions and
// serves both transports.
type engine struct {
	cfg      *Config
	upgrader websocket.Upgrader
	sessions sync.Map
	count    atomic.Int64
	onOpen   func(*session)
	logger   zerolog.Logger
}

func newEngine(cfg *Config, logger zerolog.Logger) *engine {
	return &engine{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func (e *engine) allows(transport string) bool {
	for _, t := range e.cfg.Transports {
		if t == transport {
			return true
		}
	}
	return false
}

func (e *engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != engineio.Protocol {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return
	}

	transport := q.Get("transport")
	if !e.allows(transport) {
		http.Error(w, "transport unknown", http.StatusBadRequest)
		return
	}

	switch transport {
	case engineio.TransportWebsocket:
		e.serveWebsocket(w, r)
	case engineio.TransportPolling:
		sid := q.Get("sid")
		if sid == "" {
			e.openPolling(w, r)
			return
		}
		s, ok := e.session(sid)
		if !ok || s.transport != engineio.TransportPolling {
			http.Error(w, "session id unknown", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.poll(w, r)
		case http.MethodPost:
			s.push(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (e *engine) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := e.newSession(engineio.TransportWebsocket)
	s.conn = conn
	s.writerDone = make(chan struct{})

	open, err := e.handshake(s.id)
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, open.Encode()); err != nil {
		conn.Close()
		return
	}

	go s.writeLoop()
	e.register(s)
	go s.readLoop()
}

func (e *engine) openPolling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := e.newSession(engineio.TransportPolling)
	open, err := e.handshake(s.id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	e.register(s)

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.Write(engineio.EncodePayload(open))
}

func (e *engine) handshake(sid string) (*engineio.Packet, error) {
	return engineio.EncodeHandshake(engineio.HandshakeData{
		SID:          sid,
		PingInterval: int(e.cfg.PingInterval / time.Millisecond),
		PingTimeout:  int(e.cfg.PingTimeout / time.Millisecond),
		MaxPayload:   e.cfg.MaxPayload,
	})
}

func (e *engine) newSession(transport string) *session {
	return &session{
		id:        uuid.NewString(),
		transport: transport,
		engine:    e,
		outgoing:  make(chan *engineio.Packet, 256),
		closed:    make(chan struct{}),
	}
}

// register makes s reachable and hands it to onOpen before any of its
// packets are read
func (e *engine) register(s *session) {
	e.sessions.Store(s.id, s)
	e.count.Add(1)

	if e.onOpen != nil {
		e.onOpen(s)
	}
	s.schedulePing()

	e.logger.Debug().Str("sid", s.id).Str("transport", s.transport).Msg("session opened")
}

func (e *engine) session(sid string) (*session, bool) {
	val, ok := e.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*session), true
}

func (e *engine) forget(sid string) {
	if _, ok := e.sessions.LoadAndDelete(sid); ok {
		e.count.Add(-1)
	}
}

func (e *engine) close() {
	e.sessions.Range(func(_, value any) bool {
		value.(*session).Close("server shutdown")
		return true
	})
}

// session is one Engine.IO connection seen from the server
type session struct {
	id         string
	transport  string
	engine     *engine
	conn       *websocket.Conn
	writeMu    sync.Mutex
	outgoing   chan *engineio.Packet
	// closed when writeLoop returns, websocket only
	writerDone chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}

	timerMu     sync.Mutex
	pingTimer   *time.Timer
	pingTimeout *time.Timer

	mu        sync.RWMutex
	onMessage func([]byte)
	onClose   func(string)

	// serializes packets of concurrent POST bodies
	inMu   sync.Mutex
	pollMu sync.Mutex
}

// Send queues a packet for the client
func (s *session) Send(packet *engineio.Packet) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- packet:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		return ErrSlowClient
	}
}

func (s *session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.timerMu.Lock()
		if s.pingTimer != nil {
			s.pingTimer.Stop()
		}
		if s.pingTimeout != nil {
			s.pingTimeout.Stop()
		}
		s.timerMu.Unlock()

		if s.conn != nil {
			// a packet writeLoop already dequeued must reach the wire before close
			<-s.writerDone
			s.writeMu.Lock()
			s.flush()
			packet := &engineio.Packet{Type: engineio.PacketTypeClose}
			s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			s.conn.WriteMessage(websocket.TextMessage, packet.Encode())
			s.writeMu.Unlock()
			s.conn.Close()
		}

		s.engine.forget(s.id)
		s.engine.logger.Debug().Str("sid", s.id).Str("reason", reason).Msg("session closed")

		s.mu.RLock()
		handler := s.onClose
		s.mu.RUnlock()
		if handler != nil {
			handler(reason)
		}
	})
}

// flush writes whatever is still queued, caller holds writeMu
func (s *session) flush() {
	for {
		select {
		case packet := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, packet.Encode()); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

func (s *session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *session) readLoop() {
	defer s.Close("transport error")

	s.conn.SetReadLimit(int64(s.engine.cfg.MaxPayload))
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		packet, err := engineio.DecodePacket(data)
		if err != nil {
			continue
		}
		if !s.handlePacket(packet) {
			return
		}
	}
}

func (s *session) writeLoop() {
	var err error
	defer func() {
		close(s.writerDone)
		if err != nil {
			s.Close("write error")
		}
	}()

	for {
		select {
		case packet := <-s.outgoing:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.engine.cfg.WriteTimeout))
			err = s.conn.WriteMessage(websocket.TextMessage, packet.Encode())
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// poll answers a long-polling GET with everything queued, waiting for at
// least one packet
func (s *session) poll(w http.ResponseWriter, r *http.Request) {
	if !s.pollMu.TryLock() {
		http.Error(w, "overlapping poll", http.StatusBadRequest)
		s.Close("transport error")
		return
	}
	defer s.pollMu.Unlock()

	var packets []*engineio.Packet
	select {
	case packet := <-s.outgoing:
		packets = s.drain(append(packets, packet))
	case <-s.closed:
		packets = append(s.drain(packets), &engineio.Packet{Type: engineio.PacketTypeClose})
	case <-r.Context().Done():
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.Write(engineio.EncodePayload(packets...))
}

func (s *session) drain(packets []*engineio.Packet) []*engineio.Packet {
	for {
		select {
		case packet := <-s.outgoing:
			packets = append(packets, packet)
		default:
			return packets
		}
	}
}

// push handles a long-polling POST carrying client packets
func (s *session) push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.engine.cfg.MaxPayload)+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > s.engine.cfg.MaxPayload {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		s.Close("transport error")
		return
	}

	packets, err := engineio.DecodePayload(body)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("ok"))

	for _, packet := range packets {
		if !s.handlePacket(packet) {
			return
		}
	}
}

// handlePacket reports false once the session is closed
func (s *session) handlePacket(packet *engineio.Packet) bool {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	switch packet.Type {
	case engineio.PacketTypePing:
		s.Send(&engineio.Packet{Type: engineio.PacketTypePong, Data: packet.Data})
	case engineio.PacketTypePong:
		s.handlePong()
	case engineio.PacketTypeMessage:
		s.mu.RLock()
		handler := s.onMessage
		s.mu.RUnlock()
		if handler != nil {
			handler(packet.Data)
		}
	case engineio.PacketTypeClose:
		s.Close("transport close")
		return false
	}
	return true
}

func (s *session) handlePong() {
	s.timerMu.Lock()
	if s.pingTimeout != nil {
		s.pingTimeout.Stop()
	}
	s.timerMu.Unlock()
	s.schedulePing()
}

func (s *session) schedulePing() {
	if s.engine.cfg.PingInterval <= 0 {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	s.pingTimer = time.AfterFunc(s.engine.cfg.PingInterval, func() {
		if s.Send(&engineio.Packet{Type: engineio.PacketTypePing}) != nil {
			return
		}
		s.schedulePingTimeout()
	})
}

func (s *session) schedulePingTimeout() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}
	s.pingTimeout = time.AfterFunc(s.engine.cfg.PingTimeout, func() {
		s.Close("ping timeout")
	})
}
