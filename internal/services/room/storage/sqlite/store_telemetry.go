package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage"
)

// AppendTelemetryEvent journals one observability event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, event storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(event.Kind) == "" {
		return fmt.Errorf("event kind is required")
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO telemetry_events (id, room_id, kind, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.RoomID, event.Kind, event.Payload, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

// ListTelemetryEvents returns the newest events for a room.
func (s *Store) ListTelemetryEvents(ctx context.Context, roomID string, limit int) ([]storage.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, room_id, kind, payload, created_at
		   FROM telemetry_events
		  WHERE room_id = ?
		  ORDER BY created_at DESC, id DESC
		  LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list telemetry events: %w", err)
	}
	defer rows.Close()

	var events []storage.TelemetryEvent
	for rows.Next() {
		var event storage.TelemetryEvent
		var createdAt int64
		if err := rows.Scan(&event.ID, &event.RoomID, &event.Kind, &event.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("list telemetry events: %w", err)
		}
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list telemetry events: %w", err)
	}
	return events, nil
}
