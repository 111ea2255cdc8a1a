package server

// Room is a named group of session memberships. Members are held as session
// handles in join order and are resolved through the Registry, which owns both
// the room and the sessions. All fields are guarded by the Registry lock.
type Room struct {
	id      RoomID
	name    string
	members []SessionID
}

func newRoom(name string) *Room {
	return &Room{id: newRoomID(), name: name}
}

func (r *Room) add(id SessionID) {
	r.members = append(r.members, id)
}

// remove drops id from the membership list and reports whether it was present.
func (r *Room) remove(id SessionID) bool {
	for i, member := range r.members {
		if member == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) contains(id SessionID) bool {
	for _, member := range r.members {
		if member == id {
			return true
		}
	}
	return false
}

func (r *Room) empty() bool { return len(r.members) == 0 }
