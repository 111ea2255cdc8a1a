// Package server keeps the process-wide room and session registry. Every
// structural mutation (register, unregister, create, move, delete) happens
// under one exclusive lock that never covers transport I/O or logging.
package server

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is the sole owner of live sessions and rooms. The lobby room is
// created with the registry and is never deleted.
type Registry struct {
	mu       sync.RWMutex
	lobby    RoomID
	rooms    map[RoomID]*Room
	order    []RoomID
	sessions map[SessionID]*Session
	joined   []SessionID
}

// roomChange describes a room deleted or created by a mutation so it can be
// logged once the lock is released.
type roomChange struct {
	id   RoomID
	name string
}

// NewRegistry creates a registry holding only the lobby room.
func NewRegistry(lobbyName string) *Registry {
	if lobbyName == "" {
		lobbyName = defaultLobbyName
	}

	lobby := newRoom(lobbyName)
	return &Registry{
		lobby:    lobby.id,
		rooms:    map[RoomID]*Room{lobby.id: lobby},
		order:    []RoomID{lobby.id},
		sessions: make(map[SessionID]*Session),
	}
}

// Lobby returns the handle of the permanent lobby room.
func (r *Registry) Lobby() RoomID {
	return r.lobby
}

// Register records the session's nickname and places it in the lobby.
func (r *Registry) Register(s *Session, nickname string) error {
	r.mu.Lock()
	if _, exists := r.sessions[s.id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("register %s: already registered", s.id)
	}
	s.nickname = nickname
	s.room = r.lobby
	r.sessions[s.id] = s
	r.joined = append(r.joined, s.id)
	r.rooms[r.lobby].add(s.id)
	count := len(r.sessions)
	r.mu.Unlock()

	log.Info().Str("session", string(s.id)).Str("nick", nickname).Int("sessions", count).Msg("session registered")
	return nil
}

// Unregister removes the session from the live set and from its room, deleting
// the room when it becomes empty and is not the lobby. It reports whether the
// session was registered.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	if _, exists := r.sessions[s.id]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.id)
	for i, id := range r.joined {
		if id == s.id {
			r.joined = append(r.joined[:i], r.joined[i+1:]...)
			break
		}
	}
	deleted := r.leaveLocked(s)
	count := len(r.sessions)
	r.mu.Unlock()

	logDeleted(deleted)
	log.Info().Str("session", string(s.id)).Str("nick", s.nickname).Int("sessions", count).Msg("session unregistered")
	return true
}

// CreateRoom appends a new room named name with founder as its sole member,
// moving the founder out of its current room. Names are not checked for
// uniqueness.
func (r *Registry) CreateRoom(name string, founder *Session) (RoomID, error) {
	r.mu.Lock()
	if _, exists := r.sessions[founder.id]; !exists {
		r.mu.Unlock()
		return "", fmt.Errorf("create room %q: %w", name, ErrSessionNotFound)
	}
	room := newRoom(name)
	r.rooms[room.id] = room
	r.order = append(r.order, room.id)
	deleted := r.leaveLocked(founder)
	room.add(founder.id)
	founder.room = room.id
	r.mu.Unlock()

	log.Info().Str("room", name).Str("nick", founder.nickname).Msg("room created")
	logDeleted(deleted)
	return room.id, nil
}

// FindRoomByName returns the first room, in creation order, named name.
func (r *Registry) FindRoomByName(name string) (RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.findRoomLocked(name)
	if room == nil {
		return "", false
	}
	return room.id, true
}

// MoveSession transfers s from one room to another as a single step. It fails
// without mutating anything if s is not currently in from or to does not exist.
func (r *Registry) MoveSession(s *Session, from, to RoomID) error {
	r.mu.Lock()
	deleted, err := r.moveLocked(s, from, to)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	logDeleted(deleted)
	return nil
}

// EnterRoom looks up the room by name and moves s there from the lobby.
func (r *Registry) EnterRoom(s *Session, name string) (RoomID, error) {
	r.mu.Lock()
	room := r.findRoomLocked(name)
	if room == nil {
		r.mu.Unlock()
		return "", fmt.Errorf("enter %q: %w", name, ErrRoomNotFound)
	}
	deleted, err := r.moveLocked(s, r.lobby, room.id)
	r.mu.Unlock()

	if err != nil {
		return "", err
	}
	logDeleted(deleted)
	return room.id, nil
}

// ExitToLobby moves s from its current, non-lobby room back to the lobby.
func (r *Registry) ExitToLobby(s *Session) error {
	r.mu.Lock()
	current := s.room
	if current == r.lobby {
		r.mu.Unlock()
		return fmt.Errorf("exit: %w", ErrStaleRoom)
	}
	deleted, err := r.moveLocked(s, current, r.lobby)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	logDeleted(deleted)
	return nil
}

// ListRooms returns the lobby followed by every other room in creation order.
func (r *Registry) ListRooms() []RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]RoomSummary, 0, len(r.order))
	for _, id := range r.order {
		room := r.rooms[id]
		summary := RoomSummary{ID: id, Name: room.name, Size: len(room.members)}
		if len(room.members) > 0 {
			if owner, ok := r.sessions[room.members[0]]; ok {
				summary.Owner = owner.nickname
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// FindSessionByNickname scans live sessions in registration order and returns
// the first whose nickname matches exactly.
func (r *Registry) FindSessionByNickname(nickname string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.joined {
		if s := r.sessions[id]; s != nil && s.nickname == nickname {
			return s, true
		}
	}
	return nil, false
}

// RoomOf returns the room s currently occupies.
func (r *Registry) RoomOf(s *Session) (RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.sessions[s.id]; !exists {
		return "", false
	}
	return s.room, true
}

// InLobby reports whether s is registered and currently in the lobby.
func (r *Registry) InLobby(s *Session) bool {
	room, ok := r.RoomOf(s)
	return ok && room == r.lobby
}

// describe returns the nickname of s and the name of its room, both empty
// before registration.
func (r *Registry) describe(s *Session) (nickname, room string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if current, ok := r.rooms[s.room]; ok {
		room = current.name
	}
	return s.nickname, room
}

// RoomName returns the name of a live room.
func (r *Registry) RoomName(id RoomID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return "", false
	}
	return room.name, true
}

// Members returns a snapshot of the live sessions in a room, in join order.
// The snapshot is taken under the lock, so it never observes a half-applied move.
func (r *Registry) Members(id RoomID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil
	}
	members := make([]*Session, 0, len(room.members))
	for _, sid := range room.members {
		if s, live := r.sessions[sid]; live {
			members = append(members, s)
		}
	}
	return members
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomCount returns the number of rooms, lobby included.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) findRoomLocked(name string) *Room {
	for _, id := range r.order {
		if room := r.rooms[id]; room.name == name {
			return room
		}
	}
	return nil
}

func (r *Registry) moveLocked(s *Session, from, to RoomID) (*roomChange, error) {
	if _, exists := r.sessions[s.id]; !exists {
		return nil, fmt.Errorf("move %s: %w", s.id, ErrSessionNotFound)
	}
	if s.room != from {
		return nil, fmt.Errorf("move %s: %w", s.id, ErrStaleRoom)
	}
	target, ok := r.rooms[to]
	if !ok {
		return nil, fmt.Errorf("move %s: %w", s.id, ErrRoomNotFound)
	}
	if from == to {
		return nil, nil
	}

	deleted := r.leaveLocked(s)
	target.add(s.id)
	s.room = to
	return deleted, nil
}

// leaveLocked removes s from its current room and deletes that room if it is
// now empty and not the lobby. s.room is left for the caller to overwrite.
func (r *Registry) leaveLocked(s *Session) *roomChange {
	room, ok := r.rooms[s.room]
	if !ok {
		return nil
	}
	room.remove(s.id)
	if room.id == r.lobby || !room.empty() {
		return nil
	}

	delete(r.rooms, room.id)
	for i, id := range r.order {
		if id == room.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return &roomChange{id: room.id, name: room.name}
}

func logDeleted(change *roomChange) {
	if change == nil {
		return
	}
	log.Info().Str("room", change.name).Msg("empty room deleted")
}

// checkInvariants verifies the joint session/room invariants.
func (r *Registry) checkInvariants() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lobby, ok := r.rooms[r.lobby]
	if !ok {
		return fmt.Errorf("lobby missing")
	}
	if len(r.order) == 0 || r.order[0] != lobby.id {
		return fmt.Errorf("lobby is not the first room")
	}
	if len(r.order) != len(r.rooms) {
		return fmt.Errorf("room order has %d entries for %d rooms", len(r.order), len(r.rooms))
	}

	seen := make(map[SessionID]RoomID, len(r.sessions))
	for _, id := range r.order {
		room := r.rooms[id]
		if id != r.lobby && room.empty() {
			return fmt.Errorf("room %q is empty", room.name)
		}
		for _, sid := range room.members {
			if prev, dup := seen[sid]; dup {
				return fmt.Errorf("session %s is in rooms %s and %s", sid, prev, id)
			}
			seen[sid] = id
			s, live := r.sessions[sid]
			if !live {
				return fmt.Errorf("room %q references unregistered session %s", room.name, sid)
			}
			if s.room != id {
				return fmt.Errorf("session %s points at %s but is listed in %s", sid, s.room, id)
			}
		}
	}

	for sid, s := range r.sessions {
		if _, ok := seen[sid]; !ok {
			return fmt.Errorf("session %s is in no room", sid)
		}
		if room, ok := r.rooms[s.room]; !ok || !room.contains(s.ID()) {
			return fmt.Errorf("session %s points at %s, which does not list it", sid, s.room)
		}
	}
	if len(r.joined) != len(r.sessions) {
		return fmt.Errorf("registration order has %d entries for %d sessions", len(r.joined), len(r.sessions))
	}
	return nil
}
