// internal/store/memory.go
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/models"
)

type row struct {
	arena *models.Arena
	seq   uint64 // insertion order, breaks CreatedAt ties
}

// MemoryStore keeps arenas and game sets in process memory.
// Every value handed in or out is a copy, so callers can never mutate
// stored state without going through a write method.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*row
	sets map[uuid.UUID]*models.GameSet
	seq  uint64
}

// NewMemoryStore initializes and returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[uuid.UUID]*row),
		sets: make(map[uuid.UUID]*models.GameSet),
	}
}

func (s *MemoryStore) GetArena(ctx context.Context, id uuid.UUID) (*models.Arena, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetArena(ctx, id)
}

func (s *MemoryStore) ListArenas(ctx context.Context, f Filter) ([]*models.Arena, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListArenas(ctx, f)
}

func (s *MemoryStore) CreateArena(ctx context.Context, a *models.Arena) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateArena(ctx, a)
}

func (s *MemoryStore) UpdateArena(ctx context.Context, a *models.Arena) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateArena(ctx, a)
}

func (s *MemoryStore) DeleteArena(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteArena(ctx, id)
}

// InTx stages writes on a copy of the row map and swaps it in only when fn
// succeeds. The store lock is held for the whole call, so fn must use q and
// never the store itself.
func (s *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[uuid.UUID]*row, len(s.rows))
	for k, v := range s.rows {
		staged[k] = v
	}
	seq := s.seq
	if err := fn(&memView{rows: staged, seq: &seq}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.rows = staged
	s.seq = seq
	return nil
}

// view operates directly on the live map. Caller holds s.mu.
func (s *MemoryStore) view() *memView {
	return &memView{rows: s.rows, seq: &s.seq}
}

// memView implements Queries over a row map.
type memView struct {
	rows map[uuid.UUID]*row
	seq  *uint64
}

func (v *memView) GetArena(_ context.Context, id uuid.UUID) (*models.Arena, error) {
	r, ok := v.rows[id]
	if !ok {
		return nil, errcode.New(errcode.NotFound, "arena %s", id)
	}
	return r.arena.Clone(), nil
}

func (v *memView) ListArenas(_ context.Context, f Filter) ([]*models.Arena, error) {
	matched := make([]*row, 0)
	for _, r := range v.rows {
		if f.Match(r.arena) {
			matched = append(matched, r)
		}
	}
	slices.SortFunc(matched, func(a, b *row) int {
		if c := a.arena.CreatedAt.Compare(b.arena.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]*models.Arena, len(matched))
	for i, r := range matched {
		out[i] = r.arena.Clone()
	}
	return out, nil
}

func (v *memView) CreateArena(_ context.Context, a *models.Arena) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if _, exists := v.rows[a.ID]; exists {
		return errcode.New(errcode.Invalid, "arena %s already exists", a.ID)
	}
	*v.seq++
	v.rows[a.ID] = &row{arena: a.Clone(), seq: *v.seq}
	return nil
}

func (v *memView) UpdateArena(_ context.Context, a *models.Arena) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r, ok := v.rows[a.ID]
	if !ok {
		return errcode.New(errcode.NotFound, "arena %s", a.ID)
	}
	// rows may be shared with the live map during a transaction; replace, never mutate
	v.rows[a.ID] = &row{arena: a.Clone(), seq: r.seq}
	return nil
}

func (v *memView) DeleteArena(_ context.Context, id uuid.UUID) error {
	if _, ok := v.rows[id]; !ok {
		return errcode.New(errcode.NotFound, "arena %s", id)
	}
	delete(v.rows, id)
	return nil
}

// SaveGameSet inserts or replaces a set record.
func (s *MemoryStore) SaveGameSet(_ context.Context, gs *models.GameSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[gs.ID] = gs.Clone()
	return nil
}

// GetGameSet returns a copy of the stored set.
func (s *MemoryStore) GetGameSet(_ context.Context, id uuid.UUID) (*models.GameSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs, ok := s.sets[id]
	if !ok {
		return nil, errcode.New(errcode.NotFound, "game set %s", id)
	}
	return gs.Clone(), nil
}
