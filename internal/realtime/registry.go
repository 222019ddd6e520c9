package realtime

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownConnection is returned for ids the registry does not hold.
	// Disconnects race with in-flight room operations, so callers log it and
	// move on.
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrTransportGone marks a frame dropped because its target left or
	// stopped draining. It is logged, never returned to publishers.
	ErrTransportGone = errors.New("transport gone")
)

type member struct {
	conn  *Connection
	rooms map[RoomKey]struct{}
}

// Registry is the single owner of room membership: a bidirectional index
// connection -> rooms and room -> connections, mutated only under mu.
type Registry struct {
	mu     sync.RWMutex
	buffer int
	conns  map[string]*member
	rooms  map[RoomKey]map[string]*Connection
}

// NewRegistry creates an empty registry whose connections queue up to
// buffer outbound frames each.
func NewRegistry(buffer int) *Registry {
	return &Registry{
		buffer: buffer,
		conns:  make(map[string]*member),
		rooms:  make(map[RoomKey]map[string]*Connection),
	}
}

func (r *Registry) Register(connectionID string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[connectionID]; exists {
		return nil, ErrDuplicateConnection
	}
	conn := newConnection(connectionID, r.buffer)
	r.conns[connectionID] = &member{conn: conn, rooms: make(map[RoomKey]struct{})}
	return conn, nil
}

func (r *Registry) Identify(connectionID, principalID, role string) error {
	r.mu.RLock()
	m, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	m.conn.setPrincipal(principalID, role)
	return nil
}

// Join is address-only: it does not check who may listen on the room.
// Joining a room twice is a no-op.
func (r *Registry) Join(connectionID string, room RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	m.rooms[room] = struct{}{}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[connectionID] = m.conn
	return nil
}

func (r *Registry) Leave(connectionID string, room RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	delete(m.rooms, room)
	r.removeFromRoomLocked(room, connectionID)
	return nil
}

// Deregister drops the connection from every room it joined, garbage
// collects rooms left empty and closes the connection.
func (r *Registry) Deregister(connectionID string) error {
	r.mu.Lock()
	m, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	for room := range m.rooms {
		r.removeFromRoomLocked(room, connectionID)
	}
	delete(r.conns, connectionID)
	r.mu.Unlock()

	m.conn.Close()
	return nil
}

func (r *Registry) removeFromRoomLocked(room RoomKey, connectionID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns a snapshot of the room's connections. It is the only way
// outside code observes membership.
func (r *Registry) Members(room RoomKey) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]*Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// Rooms lists the rooms a connection currently occupies.
func (r *Registry) Rooms(connectionID string) ([]RoomKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.conns[connectionID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	out := make([]RoomKey, 0, len(m.rooms))
	for room := range m.rooms {
		out = append(out, room)
	}
	return out, nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
