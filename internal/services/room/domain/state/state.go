package state

import (
	"time"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/track"
)

// TruthLiteral is the stored value that engages the persist-truth latch.
const TruthLiteral = "true"

// SenderKind distinguishes system chat entries from participant ones.
type SenderKind string

const (
	// SenderSystem marks messages emitted by the engine or the model.
	SenderSystem SenderKind = "SYSTEM"
	// SenderPlayer marks messages sent by a participant.
	SenderPlayer SenderKind = "PLAYER"
)

// ChatEntry is one message in the ordered room chat log.
type ChatEntry struct {
	ID         string     `json:"id"`
	Sender     SenderKind `json:"sender"`
	SenderID   string     `json:"sender_id,omitempty"`
	SenderName string     `json:"sender_name,omitempty"`
	Message    string     `json:"message"`
	SentAt     time.Time  `json:"sent_at"`
}

// Participant is a roster member.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Global holds the room-wide portion of state: the dialogue cursor, the
// authoritative participant, named values visible to all, and the free-form
// collected dialogue data blob.
type Global struct {
	CurStageID string            `json:"cur_stage_id"`
	CurStepID  string            `json:"cur_step_id"`
	AuthorID   string            `json:"author_id"`
	Values     map[string]string `json:"values"`
	// Collected is a JSON object accumulating answers and model output,
	// consumed by templating and conditional branching.
	Collected []byte `json:"collected"`

	// Engine cursors. StepEntered records whether the current step's entry
	// side effect already ran; ChatMark is the chat length at step entry so
	// later participant messages can be attributed to the waiting step.
	StepEntered      bool   `json:"step_entered"`
	ChatMark         int    `json:"chat_mark"`
	LastFailedStepID string `json:"last_failed_step_id,omitempty"`
}

// Room is the complete state of one room, handled only as an immutable value.
type Room struct {
	ID          string                       `json:"id"`
	Chat        []ChatEntry                  `json:"chat"`
	Players     []Participant                `json:"players"`
	Global      Global                       `json:"global"`
	PlayerState map[string]map[string]string `json:"player_state"`
	Tracking    map[string]track.Record      `json:"tracking,omitempty"`
}

// Clone returns a deep copy sharing no mutable storage with the receiver.
func (r Room) Clone() Room {
	out := r

	out.Chat = make([]ChatEntry, len(r.Chat))
	copy(out.Chat, r.Chat)

	out.Players = make([]Participant, len(r.Players))
	copy(out.Players, r.Players)

	out.Global.Values = cloneValues(r.Global.Values)
	if r.Global.Collected != nil {
		out.Global.Collected = make([]byte, len(r.Global.Collected))
		copy(out.Global.Collected, r.Global.Collected)
	}

	out.PlayerState = make(map[string]map[string]string, len(r.PlayerState))
	for id, values := range r.PlayerState {
		out.PlayerState[id] = cloneValues(values)
	}

	out.Tracking = track.Clone(r.Tracking)
	return out
}

// Player returns the roster entry for id.
func (r Room) Player(id string) (Participant, bool) {
	for _, p := range r.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// PlayerIDs returns roster ids in roster order.
func (r Room) PlayerIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

func cloneValues(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
