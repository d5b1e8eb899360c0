// Package telemetry records operational events from the room loop.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/platform/id"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage"
)

// Event kinds journaled by the room loop.
const (
	KindCycleSkipped     = "cycle_skipped"
	KindCycleDropped     = "cycle_dropped"
	KindCommandFailed    = "command_failed"
	KindInvocationFailed = "invocation_failed"
	KindStatePersisted   = "state_persisted"
	KindGraphError       = "graph_error"
)

// Emitter records operational telemetry events.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
	newID func() string
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now, newID: mintID}
}

// Emit records a telemetry event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, evt storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.ID == "" {
		if e.newID == nil {
			evt.ID = mintID()
		} else {
			evt.ID = e.newID()
		}
	}
	if evt.CreatedAt.IsZero() {
		if e.clock == nil {
			evt.CreatedAt = time.Now().UTC()
		} else {
			evt.CreatedAt = e.clock().UTC()
		}
	}
	return e.store.AppendTelemetryEvent(ctx, evt)
}

func mintID() string {
	value, err := id.NewID()
	if err != nil {
		return uuid.NewString()
	}
	return value
}
