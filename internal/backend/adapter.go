package backend

import "github.com/ramory-l/matchsocket/socketio"

// Adapter keeps room membership and fans packets out to members
type Adapter interface {
	Add(connID, room string)
	Remove(connID, room string)
	RemoveAll(connID string)

	// Members returns the ids of the connections in room
	Members(room string) []string
	// RoomsOf returns the rooms connID is in
	RoomsOf(connID string) []string

	// Broadcast sends packet to the members of rooms, or to everyone when
	// rooms is empty, skipping the ids in except
	Broadcast(packet *socketio.Packet, rooms []string, except []string) error

	Close() error
}

// BroadcastOperator selects the recipients of a broadcast
type BroadcastOperator struct {
	server *Server
	rooms  []string
	except []string
}

// To adds rooms to broadcast to
func (b *BroadcastOperator) To(rooms ...string) *BroadcastOperator {
	b.rooms = append(b.rooms, rooms...)
	return b
}

// Except excludes connections from the broadcast
func (b *BroadcastOperator) Except(connIDs ...string) *BroadcastOperator {
	b.except = append(b.except, connIDs...)
	return b
}

// Emit broadcasts an event
func (b *BroadcastOperator) Emit(event string, args ...any) error {
	return b.server.adapter.Broadcast(socketio.NewEvent(event, args...), b.rooms, b.except)
}
