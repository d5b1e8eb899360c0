package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage"
)

// SaveRoom upserts the room snapshot.
func (s *Store) SaveRoom(ctx context.Context, room state.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(room.ID) == "" {
		return fmt.Errorf("room id is required")
	}

	snapshot, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room snapshot: %w", err)
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO rooms (id, snapshot, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		room.ID, string(snapshot), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	return nil
}

// LoadRoom returns the stored room snapshot.
func (s *Store) LoadRoom(ctx context.Context, id string) (state.Room, error) {
	if err := ctx.Err(); err != nil {
		return state.Room{}, err
	}
	if s == nil || s.sqlDB == nil {
		return state.Room{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return state.Room{}, fmt.Errorf("room id is required")
	}

	var snapshot string
	row := s.sqlDB.QueryRowContext(ctx, `SELECT snapshot FROM rooms WHERE id = ?`, id)
	if err := row.Scan(&snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Room{}, storage.ErrNotFound
		}
		return state.Room{}, fmt.Errorf("load room: %w", err)
	}

	var room state.Room
	if err := json.Unmarshal([]byte(snapshot), &room); err != nil {
		return state.Room{}, fmt.Errorf("unmarshal room snapshot: %w", err)
	}
	return room, nil
}
