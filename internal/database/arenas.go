// internal/database/arenas.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/store"
)

const uniqueViolation = "23505"

const arenaColumns = `id, mode, status, min_tier_id, max_tier_id, created_by,
	rejected, players, channel_id, game_set_id, created_at, updated_at`

// Postgres is the durable store.Store. Tier columns hold IDs only; rows are
// rehydrated against the ladder so every arena shares the ladder's tiers.
type Postgres struct {
	pool   *pgxpool.Pool
	ladder *ladder.Ladder
}

var (
	_ store.Store    = (*Postgres)(nil)
	_ store.GameSets = (*Postgres)(nil)
)

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool, l *ladder.Ladder) *Postgres {
	return &Postgres{pool: pool, ladder: l}
}

func (p *Postgres) queries(q querier) *pgQueries {
	return &pgQueries{q: q, ladder: p.ladder}
}

func (p *Postgres) GetArena(ctx context.Context, id uuid.UUID) (*models.Arena, error) {
	return p.queries(p.pool).GetArena(ctx, id)
}

func (p *Postgres) ListArenas(ctx context.Context, f store.Filter) ([]*models.Arena, error) {
	return p.queries(p.pool).ListArenas(ctx, f)
}

func (p *Postgres) CreateArena(ctx context.Context, a *models.Arena) error {
	return p.queries(p.pool).CreateArena(ctx, a)
}

func (p *Postgres) UpdateArena(ctx context.Context, a *models.Arena) error {
	return p.queries(p.pool).UpdateArena(ctx, a)
}

func (p *Postgres) DeleteArena(ctx context.Context, id uuid.UUID) error {
	return p.queries(p.pool).DeleteArena(ctx, id)
}

// InTx runs fn inside a single database transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(p.queries(tx))
	})
}

type pgQueries struct {
	q      querier
	ladder *ladder.Ladder
}

func (q *pgQueries) GetArena(ctx context.Context, id uuid.UUID) (*models.Arena, error) {
	row := q.q.QueryRow(ctx, `SELECT `+arenaColumns+` FROM arenas WHERE id = $1`, id)
	a, err := q.scanArena(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errcode.New(errcode.NotFound, "arena %s", id)
	}
	return a, err
}

func (q *pgQueries) ListArenas(ctx context.Context, f store.Filter) ([]*models.Arena, error) {
	sql, args := buildListQuery(f)
	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list arenas: %w", err)
	}
	defer rows.Close()

	var out []*models.Arena
	for rows.Next() {
		a, err := q.scanArena(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// buildListQuery turns a filter into SQL. Rows come back oldest first with
// the serial column breaking ties, matching the in-memory store.
func buildListQuery(f store.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Mode != "" {
		args = append(args, string(f.Mode))
		where = append(where, fmt.Sprintf("mode = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.PlayerID != uuid.Nil {
		args = append(args, fmt.Sprintf(`[{"player_id":%q}]`, f.PlayerID.String()))
		where = append(where, fmt.Sprintf("players @> $%d::jsonb", len(args)))
	}

	sql := `SELECT ` + arenaColumns + ` FROM arenas`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql + " ORDER BY created_at, seq", args
}

func (q *pgQueries) CreateArena(ctx context.Context, a *models.Arena) error {
	if err := a.Validate(); err != nil {
		return err
	}
	rejected, players, err := encodeArena(a)
	if err != nil {
		return err
	}
	_, err = q.q.Exec(ctx, `
	INSERT INTO arenas (`+arenaColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, string(a.Mode), string(a.Status), tierID(a.MinTier), tierID(a.MaxTier), a.CreatedBy,
		rejected, players, a.ChannelID, a.GameSetID, a.CreatedAt, a.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errcode.New(errcode.Invalid, "arena %s already exists", a.ID)
	}
	if err != nil {
		return fmt.Errorf("insert arena %s: %w", a.ID, err)
	}
	return nil
}

func (q *pgQueries) UpdateArena(ctx context.Context, a *models.Arena) error {
	if err := a.Validate(); err != nil {
		return err
	}
	rejected, players, err := encodeArena(a)
	if err != nil {
		return err
	}
	tag, err := q.q.Exec(ctx, `
	UPDATE arenas SET
		mode = $2, status = $3, min_tier_id = $4, max_tier_id = $5, created_by = $6,
		rejected = $7, players = $8, channel_id = $9, game_set_id = $10, updated_at = $11
	WHERE id = $1`,
		a.ID, string(a.Mode), string(a.Status), tierID(a.MinTier), tierID(a.MaxTier), a.CreatedBy,
		rejected, players, a.ChannelID, a.GameSetID, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update arena %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errcode.New(errcode.NotFound, "arena %s", a.ID)
	}
	return nil
}

func (q *pgQueries) DeleteArena(ctx context.Context, id uuid.UUID) error {
	tag, err := q.q.Exec(ctx, `DELETE FROM arenas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete arena %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errcode.New(errcode.NotFound, "arena %s", id)
	}
	return nil
}

func (q *pgQueries) scanArena(row pgx.Row) (*models.Arena, error) {
	var (
		a                 models.Arena
		mode, status      string
		minTier, maxTier  *uuid.UUID
		rejected, players []byte
	)
	err := row.Scan(&a.ID, &mode, &status, &minTier, &maxTier, &a.CreatedBy,
		&rejected, &players, &a.ChannelID, &a.GameSetID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Mode = models.Mode(mode)
	a.Status = models.ArenaStatus(status)

	if err := json.Unmarshal(rejected, &a.Rejected); err != nil {
		return nil, fmt.Errorf("arena %s rejected: %w", a.ID, err)
	}
	if err := json.Unmarshal(players, &a.Players); err != nil {
		return nil, fmt.Errorf("arena %s players: %w", a.ID, err)
	}
	if a.MinTier, err = q.tier(minTier); err != nil {
		return nil, err
	}
	if a.MaxTier, err = q.tier(maxTier); err != nil {
		return nil, err
	}
	for i := range a.Players {
		p := &a.Players[i]
		if p.MinTier, err = q.tier(tierID(p.MinTier)); err != nil {
			return nil, err
		}
		if p.MaxTier, err = q.tier(tierID(p.MaxTier)); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (q *pgQueries) tier(id *uuid.UUID) (*models.Tier, error) {
	if id == nil {
		return nil, nil
	}
	t, ok := q.ladder.Get(*id)
	if !ok {
		return nil, fmt.Errorf("tier %s is not on the ladder", *id)
	}
	return t, nil
}

func tierID(t *models.Tier) *uuid.UUID {
	if t == nil {
		return nil
	}
	id := t.ID
	return &id
}

func encodeArena(a *models.Arena) (rejected, players []byte, err error) {
	rej := a.Rejected
	if rej == nil {
		rej = []uuid.UUID{}
	}
	if rejected, err = json.Marshal(rej); err != nil {
		return nil, nil, fmt.Errorf("encode rejected: %w", err)
	}
	if players, err = json.Marshal(a.Players); err != nil {
		return nil, nil, fmt.Errorf("encode players: %w", err)
	}
	return rejected, players, nil
}
