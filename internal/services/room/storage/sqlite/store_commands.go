package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/action"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage"
)

// FetchPending returns unprocessed commands for a room, oldest first.
func (s *Store) FetchPending(ctx context.Context, roomID string) ([]action.Command, error) {
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

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, room_id, actor_id, kind, payload, sent_at
		   FROM commands
		  WHERE room_id = ? AND processed_at IS NULL
		  ORDER BY sent_at ASC, id ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch pending commands: %w", err)
	}
	defer rows.Close()

	var commands []action.Command
	for rows.Next() {
		var cmd action.Command
		var sentAt int64
		if err := rows.Scan(&cmd.ID, &cmd.RoomID, &cmd.ActorID, &cmd.Kind, &cmd.Payload, &sentAt); err != nil {
			return nil, fmt.Errorf("fetch pending commands: %w", err)
		}
		cmd.SentAt = fromMillis(sentAt)
		cmd.Origin = action.OriginRemote
		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch pending commands: %w", err)
	}
	return commands, nil
}

// Submit appends one command to the log. A duplicate id is tolerated so
// at-least-once producers can retry safely.
func (s *Store) Submit(ctx context.Context, cmd action.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	cmd = cmd.Normalize()
	if cmd.ID == "" {
		return fmt.Errorf("command id is required")
	}
	if cmd.RoomID == "" {
		return fmt.Errorf("room id is required")
	}
	if !cmd.Kind.Valid() {
		return fmt.Errorf("command kind %q is not valid", cmd.Kind)
	}
	sentAt := cmd.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO commands (id, room_id, actor_id, kind, payload, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.RoomID, cmd.ActorID, string(cmd.Kind), cmd.Payload, toMillis(sentAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("submit command: %w", err)
	}
	return nil
}

// AcknowledgeProcessed stamps commands so they are not redelivered.
func (s *Store) AcknowledgeProcessed(ctx context.Context, ids []string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(ids) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, toMillis(at))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE commands SET processed_at = ? WHERE id IN (`+placeholders+`) AND processed_at IS NULL`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("acknowledge processed: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
