package server

import "github.com/rs/zerolog/log"

// Broadcast queues text for every member of room, the sender included. The
// member list is snapshotted under the registry lock and the writes happen
// after it is released. Each enqueue is non-blocking, so a stalled member
// cannot hold up the others; a member that cannot take the frame is closed
// and tears itself down. It returns the number of members that accepted it.
func (r *Registry) Broadcast(room RoomID, text string) int {
	members := r.Members(room)
	frame := []byte(text)

	delivered := 0
	for _, member := range members {
		if err := member.enqueue(frame); err != nil {
			log.Warn().Err(err).Str("session", string(member.ID())).Msg("broadcast delivery failed; closing member")
			member.abort()
			continue
		}
		delivered++
	}

	log.Debug().Str("room", string(room)).Int("members", len(members)).Int("delivered", delivered).Msg("broadcast")
	return delivered
}

// Whisper queues text for the first live session named nickname. An unknown
// nickname is not an error: the message is dropped and false is returned.
func (r *Registry) Whisper(nickname, text string) bool {
	target, ok := r.FindSessionByNickname(nickname)
	if !ok {
		return false
	}

	if err := target.enqueue([]byte(text)); err != nil {
		log.Warn().Err(err).Str("session", string(target.ID())).Msg("whisper delivery failed; closing target")
		target.abort()
		return false
	}
	return true
}
