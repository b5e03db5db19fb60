package backend

import (
	"sync"

	"github.com/ramory-l/matchsocket/engineio"
	"github.com/ramory-l/matchsocket/socketio"
)

// MemoryAdapter is the in-process Adapter
type MemoryAdapter struct {
	mu      sync.RWMutex
	members map[string]map[string]bool // room -> conn ids
	joined  map[string]map[string]bool // conn id -> rooms
	server  *Server
}

func NewMemoryAdapter(server *Server) *MemoryAdapter {
	return &MemoryAdapter{
		members: make(map[string]map[string]bool),
		joined:  make(map[string]map[string]bool),
		server:  server,
	}
}

func (a *MemoryAdapter) Add(connID, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	link(a.members, room, connID)
	link(a.joined, connID, room)
}

func (a *MemoryAdapter) Remove(connID, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	unlink(a.members, room, connID)
	unlink(a.joined, connID, room)
}

func (a *MemoryAdapter) RemoveAll(connID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for room := range a.joined[connID] {
		unlink(a.members, room, connID)
	}
	delete(a.joined, connID)
}

func (a *MemoryAdapter) Members(room string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return keys(a.members[room])
}

func (a *MemoryAdapter) RoomsOf(connID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return keys(a.joined[connID])
}

func (a *MemoryAdapter) Broadcast(packet *socketio.Packet, rooms []string, except []string) error {
	encoded, err := packet.Encode()
	if err != nil {
		return err
	}

	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}

	targets := make(map[string]bool)
	if len(rooms) == 0 {
		for _, c := range a.server.Conns() {
			if !skip[c.id] {
				targets[c.id] = true
			}
		}
	} else {
		a.mu.RLock()
		for _, room := range rooms {
			for id := range a.members[room] {
				if !skip[id] {
					targets[id] = true
				}
			}
		}
		a.mu.RUnlock()
	}

	for id := range targets {
		c, ok := a.server.Conn(id)
		if !ok {
			continue
		}
		if err := c.session.Send(&engineio.Packet{
			Type: engineio.PacketTypeMessage,
			Data: []byte(encoded),
		}); err != nil {
			a.server.logger.Debug().Err(err).Str("sid", id).Msg("broadcast dropped")
		}
	}
	return nil
}

func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.members = make(map[string]map[string]bool)
	a.joined = make(map[string]map[string]bool)
	return nil
}

func link(m map[string]map[string]bool, key, value string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][value] = true
}

func unlink(m map[string]map[string]bool, key, value string) {
	if m[key] == nil {
		return
	}
	delete(m[key], value)
	if len(m[key]) == 0 {
		delete(m, key)
	}
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
