package backend

import (
	"sync"

	"github.com/ramory-l/matchsocket/socketio"
)

// Conn represents a client connection
type Conn struct {
	id      string
	session *session
	server  *Server

	mu        sync.RWMutex
	connected bool
	tokenUser string
	userID    string
	rooms     map[string]bool

	data sync.Map
}

func newConn(sess *session, server *Server) *Conn {
	return &Conn{
		id:      sess.id,
		session: sess,
		server:  server,
		rooms:   make(map[string]bool),
	}
}

// ID returns the connection id, which is also its Engine.IO sid
func (c *Conn) ID() string {
	return c.id
}

// Transport returns the Engine.IO transport name
func (c *Conn) Transport() string {
	return c.session.transport
}

// TokenUser returns the user the handshake token was issued to, if any
func (c *Conn) TokenUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenUser
}

// UserID returns the identity bound by authenticate
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetUserID binds the connection to userID
func (c *Conn) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Emit sends an event to the client
func (c *Conn) Emit(event string, args ...any) error {
	return c.server.send(c.session, socketio.NewEvent(event, args...))
}

// Join adds the connection to a room
func (c *Conn) Join(room string) {
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()

	c.server.adapter.Add(c.id, room)
}

// Leave removes the connection from a room
func (c *Conn) Leave(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()

	c.server.adapter.Remove(c.id, room)
}

// Rooms returns all rooms the connection is in
func (c *Conn) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Set stores arbitrary data on the connection
func (c *Conn) Set(key string, value any) {
	c.data.Store(key, value)
}

// Get retrieves data from the connection
func (c *Conn) Get(key string) (any, bool) {
	return c.data.Load(key)
}

// Disconnect sends DISCONNECT and closes the session
func (c *Conn) Disconnect() {
	c.server.send(c.session, &socketio.Packet{
		Type:      socketio.PacketTypeDisconnect,
		Namespace: socketio.DefaultNamespace,
	})
	c.session.Close("server disconnect")
}

// Drop closes the transport without DISCONNECT, the way a lost network
// would, so the client is expected to reconnect
func (c *Conn) Drop() {
	c.session.Close("forced close")
}

func (c *Conn) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Conn) handleMessage(data []byte) {
	packet, err := socketio.DecodePacket(string(data))
	if err != nil {
		c.server.logger.Debug().Err(err).Str("sid", c.id).Msg("dropping malformed packet")
		return
	}

	if packet.Namespace != socketio.DefaultNamespace {
		c.server.send(c.session, &socketio.Packet{
			Type:      socketio.PacketTypeConnectError,
			Namespace: packet.Namespace,
			Data:      map[string]any{"message": "Invalid namespace"},
		})
		return
	}

	switch packet.Type {
	case socketio.PacketTypeConnect:
		c.handleConnect(packet)
	case socketio.PacketTypeEvent:
		if c.isConnected() {
			c.handleEvent(packet)
		}
	case socketio.PacketTypeAck:
		c.server.logger.Trace().Str("sid", c.id).Msg("ignoring client ack")
	case socketio.PacketTypeDisconnect:
		c.session.Close("client namespace disconnect")
	}
}

func (c *Conn) handleConnect(packet *socketio.Packet) {
	if c.isConnected() {
		return
	}

	auth, _ := packet.Raw()
	userID, ok := c.server.authorize(auth)
	if !ok {
		c.server.send(c.session, &socketio.Packet{
			Type:      socketio.PacketTypeConnectError,
			Namespace: socketio.DefaultNamespace,
			Data:      map[string]any{"message": AuthErrorMessage},
		})
		return
	}

	c.mu.Lock()
	c.connected = true
	c.tokenUser = userID
	c.mu.Unlock()

	c.server.send(c.session, &socketio.Packet{
		Type:      socketio.PacketTypeConnect,
		Namespace: socketio.DefaultNamespace,
		Data:      map[string]any{"sid": c.id},
	})
	c.server.addConn(c)
}

func (c *Conn) handleEvent(packet *socketio.Packet) {
	event, args, err := packet.Event()
	if err != nil {
		c.server.logger.Debug().Err(err).Str("sid", c.id).Msg("dropping malformed event")
		return
	}

	c.server.record(c, event, args)

	ack := AckFunc(func(...any) {})
	if packet.ID != nil {
		id := *packet.ID
		var once sync.Once
		ack = func(ackArgs ...any) {
			once.Do(func() {
				if ackArgs == nil {
					ackArgs = []any{}
				}
				c.server.send(c.session, &socketio.Packet{
					Type:      socketio.PacketTypeAck,
					Namespace: socketio.DefaultNamespace,
					Data:      ackArgs,
					ID:        &id,
				})
			})
		}
	}

	handler, ok := c.server.handler(event)
	if !ok {
		c.server.logger.Trace().Str("event", event).Msg("no handler")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			c.server.logger.Error().Str("event", event).Interface("panic", rec).Msg("handler panicked")
		}
	}()
	handler(c, args, ack)
}

func (c *Conn) handleClose(reason string) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.rooms = make(map[string]bool)
	c.mu.Unlock()

	if wasConnected {
		c.server.removeConn(c, reason)
	}
}
