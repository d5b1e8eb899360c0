package state

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
)

var testTruthKeys = []string{"understandsSlope", "viewedSimulation"}

func testRoom() Room {
	return Room{
		ID: "room-1",
		Players: []Participant{
			{ID: "p1", Name: "Ada"},
			{ID: "p2", Name: "Blaise"},
		},
		Global: Global{
			AuthorID: "p1",
			Values:   map[string]string{"topic": "slope"},
		},
		PlayerState: map[string]map[string]string{
			"p1": {"topic": "slope"},
			"p2": {"topic": "slope"},
		},
	}
}

func TestUpsertGlobalInsertsAndOverwrites(t *testing.T) {
	room := testRoom()
	next := UpsertGlobal(room, testTruthKeys, []Entry{
		{Key: "topic", Value: "intercept"},
		{Key: "difficulty", Value: "2"},
	})

	if next.Global.Values["topic"] != "intercept" {
		t.Fatalf("topic = %q, want intercept", next.Global.Values["topic"])
	}
	if next.Global.Values["difficulty"] != "2" {
		t.Fatalf("difficulty = %q, want 2", next.Global.Values["difficulty"])
	}
	// Original snapshot must be untouched.
	if room.Global.Values["topic"] != "slope" {
		t.Fatalf("original mutated: topic = %q", room.Global.Values["topic"])
	}
}

func TestUpsertGlobalLatchMonotonicity(t *testing.T) {
	room := testRoom()
	room = UpsertGlobal(room, testTruthKeys, []Entry{{Key: "understandsSlope", Value: "true"}})

	// A contradictory later write is silently dropped.
	room = UpsertGlobal(room, testTruthKeys, []Entry{{Key: "understandsSlope", Value: "false"}})
	if room.Global.Values["understandsSlope"] != "true" {
		t.Fatalf("latched key regressed to %q", room.Global.Values["understandsSlope"])
	}

	// Writing "true" again is a no-op equivalent.
	again := UpsertGlobal(room, testTruthKeys, []Entry{{Key: "understandsSlope", Value: "true"}})
	if again.Global.Values["understandsSlope"] != "true" {
		t.Fatalf("latched key changed on identical write: %q", again.Global.Values["understandsSlope"])
	}
}

func TestUpsertGlobalLatchOnlyGuardsListedKeys(t *testing.T) {
	room := testRoom()
	room = UpsertGlobal(room, testTruthKeys, []Entry{{Key: "freeKey", Value: "true"}})
	room = UpsertGlobal(room, testTruthKeys, []Entry{{Key: "freeKey", Value: "false"}})
	if room.Global.Values["freeKey"] != "false" {
		t.Fatalf("unlisted key latched: %q", room.Global.Values["freeKey"])
	}
}

func TestUpsertPlayerLatchAndMissingPlayer(t *testing.T) {
	room := testRoom()
	next, err := UpsertPlayer(room, testTruthKeys, "p1", []Entry{{Key: "understandsSlope", Value: "true"}})
	if err != nil {
		t.Fatalf("upsert player: %v", err)
	}
	next, err = UpsertPlayer(next, testTruthKeys, "p1", []Entry{{Key: "understandsSlope", Value: "nope"}})
	if err != nil {
		t.Fatalf("upsert player: %v", err)
	}
	if next.PlayerState["p1"]["understandsSlope"] != "true" {
		t.Fatalf("player latch regressed to %q", next.PlayerState["p1"]["understandsSlope"])
	}

	_, err = UpsertPlayer(room, testTruthKeys, "ghost", []Entry{{Key: "k", Value: "v"}})
	if !apperrors.IsCode(err, apperrors.CodeRoomPlayerNotFound) {
		t.Fatalf("expected player-not-found, got %v", err)
	}
}

func TestBroadcastTruthAlwaysPropagates(t *testing.T) {
	room := testRoom()
	room = UpsertGlobal(room, testTruthKeys, []Entry{{Key: "understandsSlope", Value: "true"}})
	// p2 carries a stale contradiction that broadcast must overwrite; the
	// latch guards upserts, not broadcast.
	room.PlayerState["p2"]["understandsSlope"] = "false"

	next := BroadcastTruth(room, testTruthKeys)
	if next.PlayerState["p1"]["understandsSlope"] != "true" {
		t.Fatalf("p1 missing broadcast truth: %q", next.PlayerState["p1"]["understandsSlope"])
	}
	if next.PlayerState["p2"]["understandsSlope"] != "true" {
		t.Fatalf("p2 kept stale value: %q", next.PlayerState["p2"]["understandsSlope"])
	}
}

func TestFillMissingGlobalKeysNeverOverwrites(t *testing.T) {
	room := testRoom()
	room = UpsertGlobal(room, testTruthKeys, []Entry{{Key: "difficulty", Value: "3"}})
	room.PlayerState["p1"]["difficulty"] = "1"

	next := FillMissingGlobalKeys(room)
	if next.PlayerState["p1"]["difficulty"] != "1" {
		t.Fatalf("existing player value overwritten: %q", next.PlayerState["p1"]["difficulty"])
	}
	if next.PlayerState["p2"]["difficulty"] != "3" {
		t.Fatalf("missing key not filled: %q", next.PlayerState["p2"]["difficulty"])
	}
}

func TestAppendMessages(t *testing.T) {
	room := testRoom()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	room = AppendSystemMessage(room, "m1", "Welcome to the room.", at)
	if len(room.Chat) != 1 || room.Chat[0].Sender != SenderSystem {
		t.Fatalf("unexpected chat after system message: %+v", room.Chat)
	}

	room, err := AppendPlayerMessage(room, "m2", "p2", "ready", at.Add(time.Second))
	if err != nil {
		t.Fatalf("append player message: %v", err)
	}
	entry := room.Chat[1]
	if entry.Sender != SenderPlayer || entry.SenderID != "p2" || entry.SenderName != "Blaise" {
		t.Fatalf("unexpected player entry: %+v", entry)
	}

	_, err = AppendPlayerMessage(room, "m3", "ghost", "boo", at)
	if !apperrors.IsCode(err, apperrors.CodeRoomPlayerNotFound) {
		t.Fatalf("expected player-not-found, got %v", err)
	}
}

func TestAddPlayerSeedsFromGlobal(t *testing.T) {
	room := testRoom()
	room = UpsertGlobal(room, testTruthKeys, []Entry{{Key: "difficulty", Value: "2"}})

	next := AddPlayer(room, Participant{ID: "p3", Name: "Carl"})
	if len(next.Players) != 3 {
		t.Fatalf("roster size = %d, want 3", len(next.Players))
	}
	seed := next.PlayerState["p3"]
	if seed["topic"] != "slope" || seed["difficulty"] != "2" {
		t.Fatalf("unexpected seed: %v", seed)
	}

	// Seeding is a snapshot: later global changes must not leak in.
	later := UpsertGlobal(next, testTruthKeys, []Entry{{Key: "difficulty", Value: "9"}})
	if later.PlayerState["p3"]["difficulty"] != "2" {
		t.Fatalf("seed mutated with global: %q", later.PlayerState["p3"]["difficulty"])
	}
}

func TestAddPlayerIsIdempotent(t *testing.T) {
	room := testRoom()
	next := AddPlayer(room, Participant{ID: "p1", Name: "Imposter"})
	if len(next.Players) != 2 {
		t.Fatalf("roster size = %d, want 2", len(next.Players))
	}
	if name := mustPlayer(t, next, "p1").Name; name != "Ada" {
		t.Fatalf("existing player renamed to %q", name)
	}
}

func TestRemovePlayer(t *testing.T) {
	room := testRoom()
	next := RemovePlayer(room, "p2")
	if len(next.Players) != 1 {
		t.Fatalf("roster size = %d, want 1", len(next.Players))
	}
	if _, ok := next.PlayerState["p2"]; ok {
		t.Fatal("player state not dropped on removal")
	}
	if same := RemovePlayer(next, "ghost"); len(same.Players) != 1 {
		t.Fatal("removing absent player must be a no-op")
	}
}

func TestCloneSharesNothing(t *testing.T) {
	room := testRoom()
	room.Global.Collected = []byte(`{"answer":"4"}`)
	clone := room.Clone()

	clone.Global.Values["topic"] = "changed"
	clone.PlayerState["p1"]["topic"] = "changed"
	clone.Global.Collected[2] = 'X'
	clone.Players[0].Name = "changed"

	if room.Global.Values["topic"] != "slope" {
		t.Fatal("clone shares global values")
	}
	if room.PlayerState["p1"]["topic"] != "slope" {
		t.Fatal("clone shares player state")
	}
	if string(room.Global.Collected) != `{"answer":"4"}` {
		t.Fatal("clone shares collected blob")
	}
	if room.Players[0].Name != "Ada" {
		t.Fatal("clone shares roster")
	}
}

func mustPlayer(t *testing.T, room Room, id string) Participant {
	t.Helper()
	player, ok := room.Player(id)
	if !ok {
		t.Fatalf("player %s not found", id)
	}
	return player
}

func TestPlayerNotFoundErrorIsDomainError(t *testing.T) {
	_, err := AppendPlayerMessage(testRoom(), "m1", "ghost", "hi", time.Now())
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected domain error, got %T", err)
	}
}
