package state

import (
	"time"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
)

// Entry is one key/value pair submitted to an upsert reducer.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// UpsertGlobal inserts or overwrites named global values. Writes to a key on
// the persist-truth list whose stored value is already "true" are dropped.
func UpsertGlobal(room Room, persistTruthKeys []string, entries []Entry) Room {
	out := room.Clone()
	if out.Global.Values == nil {
		out.Global.Values = make(map[string]string, len(entries))
	}
	for _, entry := range entries {
		if latched(out.Global.Values, persistTruthKeys, entry.Key) {
			continue
		}
		out.Global.Values[entry.Key] = entry.Value
	}
	return out
}

// UpsertPlayer inserts or overwrites named values for one participant with the
// same latch rule as UpsertGlobal. It fails when the participant is not on
// the roster.
func UpsertPlayer(room Room, persistTruthKeys []string, playerID string, entries []Entry) (Room, error) {
	if _, ok := room.Player(playerID); !ok {
		return room, errors.WithMetadata(errors.CodeRoomPlayerNotFound,
			"player is not in the room roster",
			map[string]string{"player_id": playerID})
	}
	out := room.Clone()
	values := out.PlayerState[playerID]
	if values == nil {
		values = make(map[string]string, len(entries))
	}
	for _, entry := range entries {
		if latched(values, persistTruthKeys, entry.Key) {
			continue
		}
		values[entry.Key] = entry.Value
	}
	out.PlayerState[playerID] = values
	return out, nil
}

// BroadcastTruth copies the current global value of every persist-truth key
// into each participant that is missing it or differs. The latch only guards
// global writes; broadcast always propagates the current global truth.
func BroadcastTruth(room Room, persistTruthKeys []string) Room {
	out := room.Clone()
	for _, key := range persistTruthKeys {
		value, ok := out.Global.Values[key]
		if !ok {
			continue
		}
		for _, p := range out.Players {
			values := out.PlayerState[p.ID]
			if values == nil {
				values = make(map[string]string, 1)
			}
			if existing, has := values[key]; !has || existing != value {
				values[key] = value
			}
			out.PlayerState[p.ID] = values
		}
	}
	return out
}

// FillMissingGlobalKeys adds every global key to any participant lacking it.
// A participant's existing value for a key is never overwritten.
func FillMissingGlobalKeys(room Room) Room {
	out := room.Clone()
	for key, value := range out.Global.Values {
		for _, p := range out.Players {
			values := out.PlayerState[p.ID]
			if values == nil {
				values = make(map[string]string, 1)
			}
			if _, has := values[key]; !has {
				values[key] = value
			}
			out.PlayerState[p.ID] = values
		}
	}
	return out
}

// AppendSystemMessage appends a system chat entry.
func AppendSystemMessage(room Room, id, text string, at time.Time) Room {
	out := room.Clone()
	out.Chat = append(out.Chat, ChatEntry{
		ID:      id,
		Sender:  SenderSystem,
		Message: text,
		SentAt:  at,
	})
	return out
}

// AppendPlayerMessage appends a participant chat entry, resolving the sender
// name from the roster. It fails when the sender is not on the roster.
func AppendPlayerMessage(room Room, id, playerID, text string, at time.Time) (Room, error) {
	player, ok := room.Player(playerID)
	if !ok {
		return room, errors.WithMetadata(errors.CodeRoomPlayerNotFound,
			"message sender is not in the room roster",
			map[string]string{"player_id": playerID})
	}
	out := room.Clone()
	out.Chat = append(out.Chat, ChatEntry{
		ID:         id,
		Sender:     SenderPlayer,
		SenderID:   player.ID,
		SenderName: player.Name,
		Message:    text,
		SentAt:     at,
	})
	return out, nil
}

// AddPlayer appends a participant to the roster and seeds their state from a
// snapshot of the current global values. Adding a present participant is a
// no-op.
func AddPlayer(room Room, player Participant) Room {
	if _, ok := room.Player(player.ID); ok {
		return room
	}
	out := room.Clone()
	out.Players = append(out.Players, player)
	if out.PlayerState == nil {
		out.PlayerState = make(map[string]map[string]string, 1)
	}
	seed := make(map[string]string, len(out.Global.Values))
	for key, value := range out.Global.Values {
		seed[key] = value
	}
	out.PlayerState[player.ID] = seed
	return out
}

// RemovePlayer drops a participant from the roster and discards their state.
// Removing an absent participant is a no-op. Callers must re-check response
// tracking after a removal that happens mid multi-participant wait.
func RemovePlayer(room Room, playerID string) Room {
	if _, ok := room.Player(playerID); !ok {
		return room
	}
	out := room.Clone()
	players := out.Players[:0:0]
	for _, p := range out.Players {
		if p.ID != playerID {
			players = append(players, p)
		}
	}
	out.Players = players
	delete(out.PlayerState, playerID)
	return out
}

func latched(values map[string]string, persistTruthKeys []string, key string) bool {
	existing, ok := values[key]
	if !ok || existing != TruthLiteral {
		return false
	}
	for _, truthKey := range persistTruthKeys {
		if truthKey == key {
			return true
		}
	}
	return false
}
