package action

import (
	"strings"
	"time"
)

// Kind identifies the intent a command carries.
type Kind string

const (
	// KindSendMessage appends a participant chat message.
	KindSendMessage Kind = "SEND_MESSAGE"
	// KindJoinRoom adds the acting participant to the roster.
	KindJoinRoom Kind = "JOIN_ROOM"
	// KindLeaveRoom removes the acting participant from the roster.
	KindLeaveRoom Kind = "LEAVE_ROOM"
	// KindUpdateState upserts global or per-player state entries.
	KindUpdateState Kind = "UPDATE_STATE"
	// KindViewSimulation records that the acting participant viewed the simulation.
	KindViewSimulation Kind = "VIEW_SIMULATION"
)

// Origin distinguishes locally queued commands from remotely fetched ones.
type Origin string

const (
	// OriginLocal marks commands submitted by this process.
	OriginLocal Origin = "local"
	// OriginRemote marks commands fetched from the shared transport.
	OriginRemote Origin = "remote"
)

// Command is a participant-originated or system-originated intent to change
// room state.
type Command struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	ActorID     string     `json:"actor_id"`
	Kind        Kind       `json:"kind"`
	Payload     string     `json:"payload"`
	SentAt      time.Time  `json:"sent_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Origin      Origin     `json:"origin"`
}

// Valid reports whether the kind is one of the supported command kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSendMessage, KindJoinRoom, KindLeaveRoom, KindUpdateState, KindViewSimulation:
		return true
	}
	return false
}

// Normalize trims identifier fields and returns the command.
func (c Command) Normalize() Command {
	c.ID = strings.TrimSpace(c.ID)
	c.RoomID = strings.TrimSpace(c.RoomID)
	c.ActorID = strings.TrimSpace(c.ActorID)
	return c
}
