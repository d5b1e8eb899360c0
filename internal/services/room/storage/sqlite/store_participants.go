package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage"
)

// FetchParticipant returns one directory profile by id.
func (s *Store) FetchParticipant(ctx context.Context, id string) (state.Participant, error) {
	if err := ctx.Err(); err != nil {
		return state.Participant{}, err
	}
	if s == nil || s.sqlDB == nil {
		return state.Participant{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return state.Participant{}, fmt.Errorf("participant id is required")
	}

	var participant state.Participant
	row := s.sqlDB.QueryRowContext(ctx, `SELECT id, name, avatar FROM participants WHERE id = ?`, id)
	if err := row.Scan(&participant.ID, &participant.Name, &participant.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Participant{}, storage.ErrNotFound
		}
		return state.Participant{}, fmt.Errorf("fetch participant: %w", err)
	}
	return participant, nil
}

// SaveParticipant upserts one directory profile.
func (s *Store) SaveParticipant(ctx context.Context, participant state.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(participant.ID) == "" {
		return fmt.Errorf("participant id is required")
	}
	if strings.TrimSpace(participant.Name) == "" {
		return fmt.Errorf("participant name is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO participants (id, name, avatar)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, avatar = excluded.avatar`,
		participant.ID, participant.Name, participant.Avatar,
	)
	if err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}
