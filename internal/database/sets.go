// internal/database/sets.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/models"
)

// SaveGameSet upserts a set record. Games are kept as one JSONB document.
func (p *Postgres) SaveGameSet(ctx context.Context, s *models.GameSet) error {
	games, err := json.Marshal(s.Games)
	if err != nil {
		return fmt.Errorf("encode games: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
	INSERT INTO game_sets (
		id, arena_id, format, phase, player_one, player_two,
		games, winner_id, abandoned, created_at, finished_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		format = EXCLUDED.format,
		phase = EXCLUDED.phase,
		games = EXCLUDED.games,
		winner_id = EXCLUDED.winner_id,
		abandoned = EXCLUDED.abandoned,
		finished_at = EXCLUDED.finished_at`,
		s.ID, s.ArenaID, string(s.Format), string(s.Phase), s.Players[0], s.Players[1],
		games, s.WinnerID, s.Abandoned, s.CreatedAt, s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save game set %s: %w", s.ID, err)
	}
	return nil
}

// GetGameSet loads one set record.
func (p *Postgres) GetGameSet(ctx context.Context, id uuid.UUID) (*models.GameSet, error) {
	var (
		s             models.GameSet
		format, phase string
		games         []byte
	)
	err := p.pool.QueryRow(ctx, `
	SELECT id, arena_id, format, phase, player_one, player_two,
	       games, winner_id, abandoned, created_at, finished_at
	FROM game_sets
	WHERE id = $1`, id).Scan(
		&s.ID, &s.ArenaID, &format, &phase, &s.Players[0], &s.Players[1],
		&games, &s.WinnerID, &s.Abandoned, &s.CreatedAt, &s.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errcode.New(errcode.NotFound, "game set %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get game set %s: %w", id, err)
	}
	s.Format = models.SetFormat(format)
	s.Phase = models.SetPhase(phase)
	if err := json.Unmarshal(games, &s.Games); err != nil {
		return nil, fmt.Errorf("game set %s games: %w", id, err)
	}
	return &s, nil
}
