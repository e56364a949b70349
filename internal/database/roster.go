// internal/database/roster.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/models"
)

// LoadTiers reads the whole tier list.
func LoadTiers(ctx context.Context, pool *pgxpool.Pool) ([]models.Tier, error) {
	rows, err := pool.Query(ctx, `SELECT id, name, weight, COALESCE(channel_id, '') FROM tiers ORDER BY weight`)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Tier, error) {
		var t models.Tier
		err := row.Scan(&t.ID, &t.Name, &t.Weight, &t.ChannelID)
		return t, err
	})
}

// SeedTiers inserts tiers that are not present yet. Existing rows keep their values.
func SeedTiers(ctx context.Context, pool *pgxpool.Pool, tiers []models.Tier) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, t := range tiers {
			_, err := tx.Exec(ctx, `
			INSERT INTO tiers (id, name, weight, channel_id)
			VALUES ($1, $2, $3, NULLIF($4, ''))
			ON CONFLICT (id) DO NOTHING`, t.ID, t.Name, t.Weight, t.ChannelID)
			if err != nil {
				return fmt.Errorf("seed tier %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

// Roster resolves player tiers from the players table. Unknown players are
// inserted on first sight with no tier.
type Roster struct {
	pool   *pgxpool.Pool
	ladder *ladder.Ladder
}

func NewRoster(pool *pgxpool.Pool, l *ladder.Ladder) *Roster {
	return &Roster{pool: pool, ladder: l}
}

// PlayerTier returns nil for players without a tier.
func (r *Roster) PlayerTier(ctx context.Context, playerID uuid.UUID) (*models.Tier, error) {
	var tierID *uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT tier_id FROM players WHERE id = $1`, playerID).Scan(&tierID)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = r.pool.Exec(ctx, `INSERT INTO players (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, playerID)
		if err != nil {
			return nil, fmt.Errorf("register player %s: %w", playerID, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", playerID, err)
	}
	if tierID == nil {
		return nil, nil
	}
	t, ok := r.ladder.Get(*tierID)
	if !ok {
		return nil, fmt.Errorf("player %s has unknown tier %s", playerID, *tierID)
	}
	return t, nil
}

// SetPlayerTier assigns (or clears, with nil) a player's tier.
func (r *Roster) SetPlayerTier(ctx context.Context, playerID uuid.UUID, tierID *uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
	INSERT INTO players (id, tier_id) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET tier_id = EXCLUDED.tier_id`, playerID, tierID)
	if err != nil {
		return fmt.Errorf("set tier of %s: %w", playerID, err)
	}
	return nil
}
