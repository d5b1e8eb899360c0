package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/platform/id"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/action"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/step"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/track"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/telemetry"
)

// DefaultInterval is the polling period between reconciliation cycles.
const DefaultInterval = time.Second

// cycleKey is the no-op guard: a cycle whose key matches the previous one
// and brings no commands is skipped without touching the engine.
type cycleKey struct {
	stageID string
	stepID  string
	pending int
}

// LoopConfig wires the loop's collaborators.
type LoopConfig struct {
	RoomID  string
	ActorID string

	// Interval is the polling period; zero means DefaultInterval.
	Interval time.Duration

	Engine    *step.Engine
	Commands  storage.CommandLog
	Rooms     storage.RoomStore
	Directory storage.ParticipantDirectory
	Telemetry *telemetry.Emitter

	// OnStateChanged is invoked after each persisted snapshot.
	OnStateChanged func(state.Room)

	Logger *log.Logger
	NewID  func() string
	Now    func() time.Time
}

// Loop is the authoritative reconciliation loop for one room.
type Loop struct {
	cfg LoopConfig

	mu        sync.Mutex
	inFlight  bool
	latest    state.Room
	local     []action.Command
	processed map[string]struct{}
	lastKey   cycleKey
	hasKey    bool
}

// NewLoop validates the wiring and prepares a loop around the given snapshot.
func NewLoop(cfg LoopConfig, initial state.Room) (*Loop, error) {
	if cfg.RoomID == "" {
		return nil, apperrors.New(apperrors.CodeRoomEmptyID, "room id is required")
	}
	if cfg.ActorID == "" {
		return nil, fmt.Errorf("actor id is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Commands == nil {
		return nil, fmt.Errorf("command log is required")
	}
	if cfg.Rooms == nil {
		return nil, fmt.Errorf("room store is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("participant directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = mintID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if initial.ID == "" {
		initial.ID = cfg.RoomID
	}
	return &Loop{
		cfg:       cfg,
		latest:    initial.Clone(),
		processed: make(map[string]struct{}),
	}, nil
}

// Current returns the latest reconciled room snapshot.
func (l *Loop) Current() state.Room {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest.Clone()
}

// Submit queues a UI-originated intent. The command is appended to the shared
// log for durability and to the local queue so the next cycle picks it up
// without waiting for transport latency.
func (l *Loop) Submit(ctx context.Context, kind action.Kind, payload string) error {
	if !kind.Valid() {
		return apperrors.WithMetadata(apperrors.CodeRoomActionInvalidKind,
			"command kind is not supported",
			map[string]string{"kind": string(kind)})
	}
	cmd := action.Command{
		ID:      l.cfg.NewID(),
		RoomID:  l.cfg.RoomID,
		ActorID: l.cfg.ActorID,
		Kind:    kind,
		Payload: payload,
		SentAt:  l.cfg.Now().UTC(),
		Origin:  action.OriginLocal,
	}
	if err := l.cfg.Commands.Submit(ctx, cmd); err != nil {
		return err
	}
	l.mu.Lock()
	l.local = append(l.local, cmd)
	l.mu.Unlock()
	return nil
}

// Run polls until ctx ends. Overlapping ticks are dropped, not queued.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.cfg.Logger.Printf("room %s cycle: %v", l.cfg.RoomID, err)
			}
		}
	}
}

// Tick runs one reconciliation cycle. It returns nil when the in-flight lock
// drops the trigger or the no-op guard skips the cycle.
func (l *Loop) Tick(ctx context.Context) error {
	l.mu.Lock()
	if l.inFlight {
		l.mu.Unlock()
		l.emit(ctx, telemetry.KindCycleDropped, "")
		return nil
	}
	l.inFlight = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.inFlight = false
		l.mu.Unlock()
	}()

	return l.runCycle(ctx)
}

func (l *Loop) runCycle(ctx context.Context) error {
	remote, err := l.cfg.Commands.FetchPending(ctx, l.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("fetch pending commands: %w", err)
	}

	l.mu.Lock()
	local := make([]action.Command, len(l.local))
	copy(local, l.local)
	processed := l.processed
	before := l.latest.Clone()
	l.mu.Unlock()

	merged := action.Merge(remote, local, processed)

	key := cycleKey{
		stageID: before.Global.CurStageID,
		stepID:  before.Global.CurStepID,
		pending: len(merged),
	}
	if len(merged) == 0 && l.hasKey && key == l.lastKey {
		l.emit(ctx, telemetry.KindCycleSkipped, "")
		return nil
	}
	l.lastKey = key
	l.hasKey = true

	room := before.Clone()
	processedIDs := make([]string, 0, len(merged))
	for _, cmd := range merged {
		next, err := l.applyCommand(ctx, room, cmd)
		if err != nil {
			if !isMissingEntity(err) {
				return fmt.Errorf("apply command %s: %w", cmd.ID, err)
			}
			// Poison-pill avoidance: the command is acknowledged and
			// skipped so it cannot wedge every later cycle.
			l.cfg.Logger.Printf("room %s command %s dropped: %v", l.cfg.RoomID, cmd.ID, err)
			l.emit(ctx, telemetry.KindCommandFailed, cmd.ID)
			processedIDs = append(processedIDs, cmd.ID)
			continue
		}
		room = next
		processedIDs = append(processedIDs, cmd.ID)
	}

	room = state.BroadcastTruth(room, l.cfg.Engine.PersistTruthKeys)
	room = state.FillMissingGlobalKeys(room)

	advanced, err := l.cfg.Engine.Advance(ctx, room)
	if err != nil {
		// Graph-authoring failure: drop the engine's partial work, surface
		// the problem in chat, and leave the cursor at the last good step.
		l.emit(ctx, telemetry.KindGraphError, string(apperrors.GetCode(err)))
		room = state.AppendSystemMessage(room, l.cfg.NewID(),
			"The activity hit a configuration problem and paused. An instructor needs to fix the dialogue before it can continue.",
			l.cfg.Now())
		l.cfg.Logger.Printf("room %s dialogue error: %v", l.cfg.RoomID, err)
	} else {
		room = advanced
		if room.Global.LastFailedStepID != "" && room.Global.LastFailedStepID == room.Global.CurStepID {
			l.emit(ctx, telemetry.KindInvocationFailed, room.Global.CurStepID)
		}
	}

	if !reflect.DeepEqual(room, before) {
		if err := l.cfg.Rooms.SaveRoom(ctx, room); err != nil {
			return fmt.Errorf("persist room: %w", err)
		}
		l.emit(ctx, telemetry.KindStatePersisted, "")
		l.mu.Lock()
		l.latest = room
		l.mu.Unlock()
		if l.cfg.OnStateChanged != nil {
			l.cfg.OnStateChanged(room.Clone())
		}
	}

	if len(processedIDs) > 0 {
		if err := l.cfg.Commands.AcknowledgeProcessed(ctx, processedIDs, l.cfg.Now().UTC()); err != nil {
			return fmt.Errorf("acknowledge commands: %w", err)
		}
		l.mu.Lock()
		for _, commandID := range processedIDs {
			l.processed[commandID] = struct{}{}
		}
		l.local = pruneLocal(l.local, l.processed)
		l.mu.Unlock()
	}
	return nil
}

// applyCommand routes one command through the reducers.
func (l *Loop) applyCommand(ctx context.Context, room state.Room, cmd action.Command) (state.Room, error) {
	switch cmd.Kind {
	case action.KindSendMessage:
		next, err := state.AppendPlayerMessage(room, l.cfg.NewID(), cmd.ActorID, cmd.Payload, cmd.SentAt)
		if err != nil {
			return room, err
		}
		next.Tracking = track.Respond(next.Tracking, next.Global.CurStepID, cmd.ActorID, cmd.Payload)
		return next, nil

	case action.KindJoinRoom:
		participant, err := l.cfg.Directory.FetchParticipant(ctx, cmd.ActorID)
		if err != nil {
			return room, err
		}
		return state.AddPlayer(room, participant), nil

	case action.KindLeaveRoom:
		next := state.RemovePlayer(room, cmd.ActorID)
		next.Tracking = track.DropRequired(next.Tracking, cmd.ActorID)
		return next, nil

	case action.KindUpdateState:
		return l.applyUpdateState(room, cmd)

	case action.KindViewSimulation:
		return state.UpsertPlayer(room, l.cfg.Engine.PersistTruthKeys, cmd.ActorID,
			[]state.Entry{{Key: "viewedSimulation", Value: state.TruthLiteral}})

	default:
		return room, apperrors.WithMetadata(apperrors.CodeRoomActionInvalidKind,
			"command kind is not supported",
			map[string]string{"kind": string(cmd.Kind), "command_id": cmd.ID})
	}
}

// applyUpdateState merges a batch of global and per-player entries.
func (l *Loop) applyUpdateState(room state.Room, cmd action.Command) (state.Room, error) {
	if cmd.Payload == "" {
		return room, apperrors.WithMetadata(apperrors.CodeRoomActionEmptyPayload,
			"update-state command has no payload",
			map[string]string{"command_id": cmd.ID})
	}
	var patch struct {
		Global  map[string]string            `json:"global"`
		Players map[string]map[string]string `json:"players"`
	}
	if err := json.Unmarshal([]byte(cmd.Payload), &patch); err != nil {
		return room, apperrors.Wrap(apperrors.CodeRoomActionEmptyPayload, "decode update-state payload", err)
	}

	keys := l.cfg.Engine.PersistTruthKeys
	if len(patch.Global) > 0 {
		room = state.UpsertGlobal(room, keys, toEntries(patch.Global))
	}
	for _, playerID := range sortedKeys(patch.Players) {
		next, err := state.UpsertPlayer(room, keys, playerID, toEntries(patch.Players[playerID]))
		if err != nil {
			return room, err
		}
		room = next
	}
	return room, nil
}

func (l *Loop) emit(ctx context.Context, kind, payload string) {
	err := l.cfg.Telemetry.Emit(ctx, storage.TelemetryEvent{
		RoomID:  l.cfg.RoomID,
		Kind:    kind,
		Payload: payload,
	})
	if err != nil {
		l.cfg.Logger.Printf("room %s telemetry: %v", l.cfg.RoomID, err)
	}
}

func isMissingEntity(err error) bool {
	if apperrors.IsCode(err, apperrors.CodeRoomPlayerNotFound) {
		return true
	}
	return errors.Is(err, storage.ErrNotFound) || apperrors.IsCode(err, apperrors.CodeNotFound)
}

func toEntries(values map[string]string) []state.Entry {
	entries := make([]state.Entry, 0, len(values))
	for _, key := range sortedKeys(values) {
		entries = append(entries, state.Entry{Key: key, Value: values[key]})
	}
	return entries
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func pruneLocal(local []action.Command, processed map[string]struct{}) []action.Command {
	kept := local[:0:0]
	for _, cmd := range local {
		if _, done := processed[cmd.ID]; !done {
			kept = append(kept, cmd)
		}
	}
	return kept
}

func mintID() string {
	value, err := id.NewID()
	if err != nil {
		return uuid.NewString()
	}
	return value
}
