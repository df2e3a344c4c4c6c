// Package registry tracks live connections keyed by (role, client id) and
// the room each connection belongs to. It holds no business logic: sessions
// register and unregister themselves, the router reads recipient sets.
package registry

import (
	"log/slog"
	"sync"

	"lookout/pkg/types"
)

// Handle is the outbound sink for one connection: it accepts a
// JSON-serializable message and reports failure. A handle is owned by the
// session that created it and becomes invalid once the transport closes.
type Handle interface {
	WriteJSON(v any) error
	Close() error
}

type entry struct {
	handle Handle
	room   string
}

// Registry is the process-wide connection table. Role-scoped maps keyed by
// room keep recipient-set reads O(size of room) for broadcast fan-out.
type Registry struct {
	mu     sync.RWMutex
	byRole map[string]map[string]*entry            // role -> clientID -> entry
	byRoom map[string]map[string]map[string]*entry // role -> room -> clientID -> entry
	logger *slog.Logger
}

// NewRegistry creates an empty registry. All maps are initialized up front
// so concurrent lookups never see a nil map.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byRole: map[string]map[string]*entry{
			types.RoleTeacher: {},
			types.RoleStudent: {},
		},
		byRoom: map[string]map[string]map[string]*entry{
			types.RoleTeacher: {},
			types.RoleStudent: {},
		},
		logger: logger,
	}
}

// Register inserts a connection, replacing any prior entry for the same
// (role, clientID). The replaced handle is closed asynchronously rather
// than leaked: closing it wakes its session, which then runs its own
// teardown and finds the registry already pointing at the newcomer.
func (r *Registry) Register(role, clientID string, h Handle, room string) error {
	if h == nil {
		return ErrNilHandle
	}
	roleMap, ok := r.byRole[role]
	if !ok {
		return ErrUnknownRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, exists := roleMap[clientID]; exists {
		stale := prior.handle
		r.logger.Warn("replacing existing connection",
			"role", role, "client_id", clientID, "room", prior.room)
		go func() {
			_ = stale.Close()
		}()
		r.removeFromRoomLocked(role, prior.room, clientID)
	}

	e := &entry{handle: h, room: room}
	roleMap[clientID] = e
	rooms := r.byRoom[role]
	if rooms[room] == nil {
		rooms[room] = make(map[string]*entry)
	}
	rooms[room][clientID] = e
	return nil
}

// Unregister removes the entry for (role, clientID) if, and only if, it
// still refers to the given handle. The instance check keeps a slow
// teardown of a replaced connection from evicting its successor. Absent
// entries are a no-op. The return value reports whether this call removed
// the entry; teardown paths skip room cleanup on false because the state
// now belongs to the replacement connection.
func (r *Registry) Unregister(role, clientID string, h Handle) bool {
	roleMap, ok := r.byRole[role]
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := roleMap[clientID]
	if !exists || e.handle != h {
		return false
	}
	delete(roleMap, clientID)
	r.removeFromRoomLocked(role, e.room, clientID)
	return true
}

// removeFromRoomLocked prunes the room index entry, dropping empty room
// maps so idle rooms do not accumulate. Caller holds r.mu.
func (r *Registry) removeFromRoomLocked(role, room, clientID string) {
	rooms := r.byRoom[role]
	if members, ok := rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(rooms, room)
		}
	}
}

// Lookup returns the live handle for (role, clientID).
func (r *Registry) Lookup(role, clientID string) (Handle, bool) {
	roleMap, ok := r.byRole[role]
	if !ok {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := roleMap[clientID]
	if !exists {
		return nil, false
	}
	return e.handle, true
}

// RoomOf resolves the room a connection registered with, or "" when the
// connection is unknown. Rooms are fixed at accept time and never
// re-validated per message.
func (r *Registry) RoomOf(role, clientID string) string {
	roleMap, ok := r.byRole[role]
	if !ok {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, exists := roleMap[clientID]; exists {
		return e.room
	}
	return ""
}

// HandleInRoom returns the handle for (role, clientID) only when that
// connection is registered in the given room.
func (r *Registry) HandleInRoom(role, room, clientID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if members, ok := r.byRoom[role][room]; ok {
		if e, exists := members[clientID]; exists {
			return e.handle, true
		}
	}
	return nil, false
}

// HandlesInRoom snapshots the recipient set for one role in one room.
// The caller sends outside the registry lock.
func (r *Registry) HandlesInRoom(role, room string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byRoom[role][room]
	if len(members) == 0 {
		return nil
	}
	handles := make([]Handle, 0, len(members))
	for _, e := range members {
		handles = append(handles, e.handle)
	}
	return handles
}

// CountInRoom reports how many connections of a role are in a room.
func (r *Registry) CountInRoom(role, room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom[role][room])
}

// Stats returns registry-wide counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]bool)
	for _, roleRooms := range r.byRoom {
		for room := range roleRooms {
			rooms[room] = true
		}
	}
	return map[string]int{
		"teachers": len(r.byRole[types.RoleTeacher]),
		"students": len(r.byRole[types.RoleStudent]),
		"rooms":    len(rooms),
	}
}
