package server

import (
	"errors"
	"strconv"
	"strings"
)

// State is a session's position in the protocol dialogue.
type State int

// Protocol states. A session starts in StateAwaitingNickname; there is no
// terminal state because disconnect is an external event.
const (
	StateAwaitingNickname State = iota
	StateIdle
	StateAwaitingRoomNameForCreate
	StateAwaitingRoomNameForEnter
	StateAwaitingWhisperTarget
	StateAwaitingWhisperMessage
)

func (st State) String() string {
	switch st {
	case StateAwaitingNickname:
		return "AwaitingNickname"
	case StateIdle:
		return "Idle"
	case StateAwaitingRoomNameForCreate:
		return "AwaitingRoomNameForCreate"
	case StateAwaitingRoomNameForEnter:
		return "AwaitingRoomNameForEnter"
	case StateAwaitingWhisperTarget:
		return "AwaitingWhisperTarget"
	case StateAwaitingWhisperMessage:
		return "AwaitingWhisperMessage"
	default:
		return "State(" + strconv.Itoa(int(st)) + ")"
	}
}

// stateHandler consumes one frame and returns the next state.
type stateHandler func(s *Session, frame string) State

var stateHandlers = [...]stateHandler{
	StateAwaitingNickname:          (*Session).onNickname,
	StateIdle:                      (*Session).onIdle,
	StateAwaitingRoomNameForCreate: (*Session).onCreateRoomName,
	StateAwaitingRoomNameForEnter:  (*Session).onEnterRoomName,
	StateAwaitingWhisperTarget:     (*Session).onWhisperTarget,
	StateAwaitingWhisperMessage:    (*Session).onWhisperMessage,
}

// command is an Idle-state command. A command whose precondition does not
// hold is treated as ordinary chat text.
type command struct {
	allowed func(inLobby bool) bool
	run     func(s *Session) State
}

func anywhere(bool) bool { return true }

func lobbyOnly(inLobby bool) bool { return inLobby }

func outsideLobby(inLobby bool) bool { return !inLobby }

func prompt(text string, next State) func(s *Session) State {
	return func(s *Session) State {
		s.reply(text)
		return next
	}
}

var commands = map[string]command{
	"/w":      {allowed: anywhere, run: prompt(promptNickname, StateAwaitingWhisperTarget)},
	"/create": {allowed: lobbyOnly, run: prompt(promptRoomName, StateAwaitingRoomNameForCreate)},
	"/enter":  {allowed: lobbyOnly, run: prompt(promptRoomName, StateAwaitingRoomNameForEnter)},
	"/exit":   {allowed: outsideLobby, run: (*Session).exitRoom},
	"/room":   {allowed: anywhere, run: (*Session).listRooms},
}

// handleFrame advances the state machine by one frame.
func (s *Session) handleFrame(frame string) {
	next := stateHandlers[s.state](s, frame)
	if next != s.state {
		s.logger().Debug().Stringer("from", s.state).Stringer("to", next).Msg("state transition")
	}
	s.state = next
}

func (s *Session) onNickname(frame string) State {
	if err := s.registry.Register(s, frame); err != nil {
		s.logger().Error().Err(err).Msg("registering session")
		return StateAwaitingNickname
	}
	s.rebindLogger()
	return StateIdle
}

func (s *Session) onIdle(frame string) State {
	if cmd, ok := commands[firstToken(frame)]; ok && cmd.allowed(s.registry.InLobby(s)) {
		return cmd.run(s)
	}

	room, ok := s.registry.RoomOf(s)
	if !ok {
		return StateIdle
	}
	s.registry.Broadcast(room, formatChat(s.nickname, frame))
	return StateIdle
}

func (s *Session) onCreateRoomName(frame string) State {
	if _, err := s.registry.CreateRoom(frame, s); err != nil {
		s.logger().Debug().Err(err).Str("name", frame).Msg("create room ignored")
		return StateIdle
	}
	s.rebindLogger()
	return StateIdle
}

func (s *Session) onEnterRoomName(frame string) State {
	if _, err := s.registry.EnterRoom(s, frame); err != nil {
		s.logger().Debug().Err(err).Str("name", frame).Msg("enter room ignored")
		return StateIdle
	}
	s.rebindLogger()
	s.logger().Info().Msg("entered room")
	return StateIdle
}

func (s *Session) onWhisperTarget(frame string) State {
	s.whisperTarget = frame
	s.reply(promptMessage)
	return StateAwaitingWhisperMessage
}

func (s *Session) onWhisperMessage(frame string) State {
	target := s.whisperTarget
	s.whisperTarget = ""
	if !s.registry.Whisper(target, formatWhisper(s.nickname, frame)) {
		s.logger().Debug().Str("target", target).Msg("whisper target not online")
	}
	return StateIdle
}

func (s *Session) exitRoom() State {
	if err := s.registry.ExitToLobby(s); err != nil {
		if !errors.Is(err, ErrStaleRoom) {
			s.logger().Debug().Err(err).Msg("exit ignored")
		}
		return StateIdle
	}
	s.rebindLogger()
	return StateIdle
}

func (s *Session) listRooms() State {
	s.reply(formatRoomListing(s.registry.ListRooms()))
	return StateIdle
}

// reply queues a frame for this session's own client.
func (s *Session) reply(text string) {
	if err := s.Send(text); err != nil {
		s.logger().Warn().Err(err).Msg("reply dropped")
		s.abort()
	}
}

// firstToken returns the first whitespace-delimited token of a frame.
func firstToken(frame string) string {
	fields := strings.Fields(frame)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func formatChat(nickname, text string) string {
	return nickname + " : " + text
}

func formatWhisper(nickname, text string) string {
	return "[Whisper]" + nickname + " : " + text
}

func formatRoomListing(rooms []RoomSummary) string {
	var b strings.Builder
	for _, room := range rooms {
		b.WriteString("[")
		b.WriteString(room.Name)
		b.WriteString("] [Size : ")
		b.WriteString(strconv.Itoa(room.Size))
		b.WriteString("] [Owner : ")
		b.WriteString(room.Owner)
		b.WriteString("]\n")
	}
	return b.String()
}
