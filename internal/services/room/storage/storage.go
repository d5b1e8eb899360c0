// Package storage defines persistence contracts for room service state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/action"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// CommandLog transports room commands between participants and the
// authoritative loop. Delivery is at-least-once; consumers must dedupe by
// command id.
type CommandLog interface {
	// FetchPending returns unprocessed commands for a room, oldest first.
	FetchPending(ctx context.Context, roomID string) ([]action.Command, error)
	// Submit appends one command to the log.
	Submit(ctx context.Context, cmd action.Command) error
	// AcknowledgeProcessed marks commands as processed so they are not
	// redelivered.
	AcknowledgeProcessed(ctx context.Context, ids []string, at time.Time) error
}

// RoomStore persists room state snapshots.
type RoomStore interface {
	SaveRoom(ctx context.Context, room state.Room) error
	LoadRoom(ctx context.Context, id string) (state.Room, error)
}

// ParticipantDirectory resolves participant profiles on join.
type ParticipantDirectory interface {
	FetchParticipant(ctx context.Context, id string) (state.Participant, error)
	SaveParticipant(ctx context.Context, participant state.Participant) error
}

// TelemetryEvent is one observability journal entry.
type TelemetryEvent struct {
	ID        string
	RoomID    string
	Kind      string
	Payload   string
	CreatedAt time.Time
}

// TelemetryStore journals loop and invocation events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, event TelemetryEvent) error
	ListTelemetryEvents(ctx context.Context, roomID string, limit int) ([]TelemetryEvent, error)
}
