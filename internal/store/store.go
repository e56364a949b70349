// internal/store/store.go
package store

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/models"
)

// ErrNotFound is returned (wrapped) when a row does not exist.
var ErrNotFound = errcode.ErrNotFound

// Filter narrows ListArenas. Zero fields match everything.
type Filter struct {
	Mode     models.Mode
	Statuses []models.ArenaStatus
	PlayerID uuid.UUID
}

// Match reports whether a passes the filter.
func (f Filter) Match(a *models.Arena) bool {
	if f.Mode != "" && a.Mode != f.Mode {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if f.PlayerID != uuid.Nil && !a.HasPlayer(f.PlayerID) {
		return false
	}
	return true
}

// Queries is the arena read/write surface. ListArenas returns rows oldest first.
type Queries interface {
	GetArena(ctx context.Context, id uuid.UUID) (*models.Arena, error)
	ListArenas(ctx context.Context, f Filter) ([]*models.Arena, error)
	CreateArena(ctx context.Context, a *models.Arena) error
	UpdateArena(ctx context.Context, a *models.Arena) error
	DeleteArena(ctx context.Context, id uuid.UUID) error
}

// Store is the Queue/Arena store. InTx runs fn atomically: either every
// write made through q is applied or none is.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// GameSets persists ranked set records.
type GameSets interface {
	SaveGameSet(ctx context.Context, s *models.GameSet) error
	GetGameSet(ctx context.Context, id uuid.UUID) (*models.GameSet, error)
}
