// internal/database/history.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sergioBarril/smashbot/internal/events"
)

// InsertEvents writes a batch of arena events in one transaction and keeps
// the per-arena history row in step with them.
func (p *Postgres) InsertEvents(ctx context.Context, batch []events.Event) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range batch {
			if err := insertEventTx(ctx, tx, ev); err != nil {
				return fmt.Errorf("event %s for arena %s: %w", ev.Type, ev.ArenaID, err)
			}
		}
		return nil
	})
}

func insertEventTx(ctx context.Context, tx pgx.Tx, ev events.Event) error {
	players, err := json.Marshal(ev.Players)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO arena_history (arena_id, mode, players, status, opened_at)
		VALUES ($1, $2, $3, 'open', $4)
		ON CONFLICT (arena_id) DO UPDATE SET players = EXCLUDED.players`,
		ev.ArenaID, string(ev.Mode), players, ev.At,
	)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	if ev.Payload == nil {
		payload = []byte("{}")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO arena_events (arena_id, event_type, payload, at)
		VALUES ($1, $2, $3, $4)`,
		ev.ArenaID, string(ev.Type), payload, ev.At,
	)
	if err != nil {
		return err
	}

	var status string
	switch ev.Type {
	case events.ArenaClosed:
		status = "closed"
	case events.BothTimedOut, events.SearchLost:
		status = "dropped"
	default:
		return nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE arena_history
		SET status = $2, closed_at = $3
		WHERE arena_id = $1 AND status = 'open'`,
		ev.ArenaID, status, ev.At,
	)
	return err
}

// MarkStale flags an arena that has gone quiet while still open.
func (p *Postgres) MarkStale(ctx context.Context, arenaID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE arena_history
		SET status = 'stale'
		WHERE arena_id = $1 AND status = 'open'`, arenaID)
	if err != nil {
		return fmt.Errorf("mark arena %s stale: %w", arenaID, err)
	}
	return nil
}
